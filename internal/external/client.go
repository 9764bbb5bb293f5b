package external

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/parkrowpm/ledger/internal/config"
	"github.com/shopspring/decimal"
)

// Reconciliation is one statement period as reported by the external
// system, keyed by its numeric id.
type Reconciliation struct {
	ID                  int64  `json:"Id"`
	StatementEndingDate string `json:"StatementEndingDate"`
	IsFinished          bool   `json:"IsFinished"`
}

// ReconciliationBalance is the balance summary for one reconciliation.
type ReconciliationBalance struct {
	EndingBalance             decimal.Decimal `json:"EndingBalance"`
	TotalChecksAndWithdrawals decimal.Decimal `json:"TotalChecksAndWithdrawals"`
	TotalDepositsAndAdditions decimal.Decimal `json:"TotalDepositsAndAdditions"`
}

// StatementClient reads reconciliation state from the external bank system.
// The core never writes through it.
type StatementClient interface {
	Reconciliations(ctx context.Context, bankAccountExternalID int64) ([]Reconciliation, error)
	ReconciliationBalance(ctx context.Context, bankAccountExternalID, reconciliationExternalID int64) (*ReconciliationBalance, error)
}

// HTTPStatementClient talks to the external REST API.
type HTTPStatementClient struct {
	cfg  *config.StatementAPIConfig
	http *http.Client
}

func NewHTTPStatementClient(cfg *config.StatementAPIConfig) *HTTPStatementClient {
	return &HTTPStatementClient{
		cfg:  cfg,
		http: &http.Client{Timeout: cfg.Timeout},
	}
}

func (c *HTTPStatementClient) Reconciliations(ctx context.Context, bankAccountExternalID int64) ([]Reconciliation, error) {
	url := fmt.Sprintf("%s/bankaccounts/%d/reconciliations", c.cfg.BaseURL, bankAccountExternalID)
	if c.cfg.MaxPageSize > 0 {
		url = fmt.Sprintf("%s?limit=%d", url, c.cfg.MaxPageSize)
	}
	var recs []Reconciliation
	if err := c.get(ctx, url, &recs); err != nil {
		return nil, err
	}
	return recs, nil
}

func (c *HTTPStatementClient) ReconciliationBalance(ctx context.Context, bankAccountExternalID, reconciliationExternalID int64) (*ReconciliationBalance, error) {
	url := fmt.Sprintf("%s/bankaccounts/%d/reconciliations/%d/balance", c.cfg.BaseURL, bankAccountExternalID, reconciliationExternalID)
	var bal ReconciliationBalance
	if err := c.get(ctx, url, &bal); err != nil {
		return nil, err
	}
	return &bal, nil
}

// statusError carries the HTTP status so the retry loop can tell server
// faults from client mistakes.
type statusError struct {
	status int
	url    string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("external API returned status %d for %s", e.status, e.url)
}

// get fetches once, and on a transport failure or 5xx waits RetryInterval
// and tries a second time. Client errors are not retried.
func (c *HTTPStatementClient) get(ctx context.Context, url string, out any) error {
	err := c.getOnce(ctx, url, out)
	if err == nil || !retryable(err) {
		return err
	}

	select {
	case <-time.After(c.cfg.RetryInterval):
	case <-ctx.Done():
		return ctx.Err()
	}
	return c.getOnce(ctx, url, out)
}

func (c *HTTPStatementClient) getOnce(ctx context.Context, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("x-buildium-client-id", c.cfg.ClientID)
	req.Header.Set("x-buildium-client-secret", c.cfg.ClientSecret)

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return &statusError{status: resp.StatusCode, url: url}
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func retryable(err error) bool {
	var se *statusError
	if errors.As(err, &se) {
		return se.status >= http.StatusInternalServerError
	}
	var ue *url.Error
	return errors.As(err, &ue)
}

// ParseStatementDate parses the external date format, returning nil when
// absent or malformed rather than failing the whole record.
func ParseStatementDate(s string) *time.Time {
	if s == "" {
		return nil
	}
	for _, layout := range []string{"2006-01-02", time.RFC3339} {
		if t, err := time.Parse(layout, s); err == nil {
			return &t
		}
	}
	return nil
}
