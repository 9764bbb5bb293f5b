package services

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/parkrowpm/ledger/internal/models"
)

// RestrictionService guards payment intake per payer. Restrictions are
// evaluated at read time against the clock; an expired row simply stops
// matching, it is never deleted by a sweep.
type RestrictionService struct {
	db        *sql.DB
	validator *ValidationHelper
	now       func() time.Time
}

func NewRestrictionService(db *sql.DB) *RestrictionService {
	return &RestrictionService{
		db:        db,
		validator: NewValidationHelper(),
		now:       time.Now,
	}
}

type RestrictionInput struct {
	PayerID         string     `json:"payer_id" validate:"required"`
	RestrictionType string     `json:"restriction_type" validate:"required"`
	Methods         []string   `json:"payment_methods" validate:"required,min=1,dive,required"`
	RestrictedUntil *time.Time `json:"restricted_until"`
}

// AddRestriction records a restriction with its blocked methods.
func (s *RestrictionService) AddRestriction(ctx context.Context, orgID string, in RestrictionInput) (string, error) {
	if err := s.validator.ValidateStruct(&in); err != nil {
		return "", err
	}
	methods := make([]models.PaymentMethod, len(in.Methods))
	for i, raw := range in.Methods {
		m, err := models.ParsePaymentMethod(raw)
		if err != nil {
			return "", fmt.Errorf("%v: %w", err, ErrValidation)
		}
		methods[i] = m
	}

	dbTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer dbTx.Rollback()

	restrictionID := uuid.NewString()
	_, err = dbTx.ExecContext(ctx, `
		INSERT INTO payer_restrictions (id, org_id, payer_id, restriction_type, restricted_until, created_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
	`, restrictionID, orgID, in.PayerID, in.RestrictionType, in.RestrictedUntil)
	if err != nil {
		return "", fmt.Errorf("failed to insert restriction: %w", err)
	}
	for _, m := range methods {
		_, err = dbTx.ExecContext(ctx, `
			INSERT INTO payer_restriction_methods (restriction_id, payment_method)
			VALUES ($1, $2)
			ON CONFLICT DO NOTHING
		`, restrictionID, string(m))
		if err != nil {
			return "", fmt.Errorf("failed to insert restriction method: %w", err)
		}
	}

	if err := dbTx.Commit(); err != nil {
		return "", fmt.Errorf("failed to commit restriction: %w", err)
	}
	return restrictionID, nil
}

// RemoveRestriction deletes a restriction and, through the schema cascade,
// its method rows.
func (s *RestrictionService) RemoveRestriction(ctx context.Context, orgID, restrictionID string) error {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM payer_restrictions WHERE id = $1 AND org_id = $2
	`, restrictionID, orgID)
	if err != nil {
		return fmt.Errorf("failed to delete restriction: %w", err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("restriction %s: %w", restrictionID, ErrNotFound)
	}
	return nil
}

// RestrictedMethods is the union of blocked methods across every active
// restriction on the payer.
func (s *RestrictionService) RestrictedMethods(ctx context.Context, orgID, payerID string) ([]models.PaymentMethod, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT m.payment_method
		FROM payer_restrictions r
		JOIN payer_restriction_methods m ON m.restriction_id = r.id
		WHERE r.org_id = $1 AND r.payer_id = $2
		  AND (r.restricted_until IS NULL OR r.restricted_until > $3)
		ORDER BY m.payment_method
	`, orgID, payerID, s.now())
	if err != nil {
		return nil, fmt.Errorf("failed to load restrictions: %w", err)
	}
	defer rows.Close()

	var methods []models.PaymentMethod
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		m, err := models.ParsePaymentMethod(raw)
		if err != nil {
			return nil, fmt.Errorf("%v: %w", err, ErrValidation)
		}
		methods = append(methods, m)
	}
	return methods, rows.Err()
}

// IsRestricted reports whether the payer is currently blocked from using
// the given method. Callers check this before accepting a payment.
func (s *RestrictionService) IsRestricted(ctx context.Context, orgID, payerID string, method models.PaymentMethod) (bool, error) {
	var restricted bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1
			FROM payer_restrictions r
			JOIN payer_restriction_methods m ON m.restriction_id = r.id
			WHERE r.org_id = $1 AND r.payer_id = $2 AND m.payment_method = $3
			  AND (r.restricted_until IS NULL OR r.restricted_until > $4)
		)
	`, orgID, payerID, string(method), s.now()).Scan(&restricted)
	if err != nil {
		return false, fmt.Errorf("failed to check restriction: %w", err)
	}
	return restricted, nil
}

// Restrictions lists the payer's restriction rows with their methods,
// including expired ones. Expiry is reported, not filtered, so operators
// can see history.
func (s *RestrictionService) Restrictions(ctx context.Context, orgID, payerID string) ([]models.PayerRestriction, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, org_id, payer_id, restriction_type, restricted_until, created_at
		FROM payer_restrictions
		WHERE org_id = $1 AND payer_id = $2
		ORDER BY created_at DESC
	`, orgID, payerID)
	if err != nil {
		return nil, fmt.Errorf("failed to load restrictions: %w", err)
	}
	defer rows.Close()

	var restrictions []models.PayerRestriction
	for rows.Next() {
		var r models.PayerRestriction
		if err := rows.Scan(&r.ID, &r.OrgID, &r.PayerID, &r.RestrictionType, &r.RestrictedUntil, &r.CreatedAt); err != nil {
			return nil, err
		}
		restrictions = append(restrictions, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range restrictions {
		methods, err := s.methodsFor(ctx, restrictions[i].ID)
		if err != nil {
			return nil, err
		}
		restrictions[i].Methods = methods
	}
	return restrictions, nil
}

func (s *RestrictionService) methodsFor(ctx context.Context, restrictionID string) ([]models.PaymentMethod, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT payment_method FROM payer_restriction_methods
		WHERE restriction_id = $1
		ORDER BY payment_method
	`, restrictionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var methods []models.PaymentMethod
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		if m, perr := models.ParsePaymentMethod(raw); perr == nil {
			methods = append(methods, m)
		}
	}
	return methods, rows.Err()
}
