package main

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/parkrowpm/ledger/internal/audit"
	"github.com/parkrowpm/ledger/internal/config"
	"github.com/parkrowpm/ledger/internal/database"
	"github.com/parkrowpm/ledger/internal/external"
	"github.com/parkrowpm/ledger/internal/handlers"
	"github.com/parkrowpm/ledger/internal/services"
	"github.com/spf13/viper"
)

func main() {
	// Initialize config
	viper.SetConfigFile(".env")
	viper.AutomaticEnv()
	viper.SetEnvPrefix("")

	viper.BindEnv("database.host", "DATABASE_HOST")
	viper.BindEnv("database.port", "DATABASE_PORT")
	viper.BindEnv("database.user", "DATABASE_USER")
	viper.BindEnv("database.password", "DATABASE_PASSWORD")
	viper.BindEnv("database.name", "DATABASE_NAME")
	viper.BindEnv("database.ssl_mode", "DATABASE_SSL_MODE")

	viper.BindEnv("redis.host", "REDIS_HOST")
	viper.BindEnv("redis.port", "REDIS_PORT")
	viper.BindEnv("redis.password", "REDIS_PASSWORD")
	viper.BindEnv("redis.db", "REDIS_DB")

	if err := viper.ReadInConfig(); err != nil {
		log.Printf("Config file not found, using defaults: %v", err)
	}

	// Initialize infrastructure
	db := database.InitDatabase()
	defer db.Close()

	if err := database.EnsureSchema(db); err != nil {
		log.Fatalf("Failed to ensure schema: %v", err)
	}

	redisClient := database.InitRedis()
	if redisClient != nil {
		defer redisClient.Close()
	}

	auditLogger := audit.NewLogger(redisClient)
	statementCfg := config.LoadStatementAPIConfig()
	statementClient := external.NewHTTPStatementClient(statementCfg)

	// Initialize services
	accountService := services.NewGLAccountService(db)
	balanceService := services.NewBalanceService(db)
	ledgerService := services.NewLedgerService(db, accountService, auditLogger)
	billService := services.NewBillService(db, ledgerService, auditLogger)
	reconciliationService := services.NewReconciliationService(db, accountService, statementClient)
	repairService := services.NewRepairService(db, accountService, auditLogger)
	restrictionService := services.NewRestrictionService(db)

	ledgerHandler := handlers.NewLedgerHandler(ledgerService, balanceService)
	billingHandler := handlers.NewBillingHandler(billService)
	reconciliationHandler := handlers.NewReconciliationHandler(reconciliationService, repairService)
	restrictionHandler := handlers.NewRestrictionHandler(restrictionService)

	// Setup router
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(60 * time.Second))

	// CORS
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Org-ID"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           86400,
	}))

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"status": "healthy"})
	})

	// API routes
	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/transactions", ledgerHandler.PostTransaction)
		r.Get("/transactions/{txId}", ledgerHandler.GetTransaction)
		r.Put("/transactions/lines/{lineId}", ledgerHandler.UpdateLine)
		r.Delete("/transactions/lines/{lineId}", ledgerHandler.DeleteLine)

		r.Get("/accounts/{glAccountId}/balance", ledgerHandler.GetBankBalance)
		r.Get("/accounts/{glAccountId}/reconciliations", reconciliationHandler.ListLogs)
		r.Get("/properties/{propertyId}/financials", ledgerHandler.GetPropertyFinancials)

		r.Post("/bills/applications", billingHandler.ApplyPayment)
		r.Delete("/bills/applications/{applicationId}", billingHandler.UnapplyPayment)
		r.Get("/bills/{billId}/outstanding", billingHandler.GetOutstanding)
		r.Get("/bills/{billId}/applications", billingHandler.ListApplications)

		r.Post("/reconciliations/sync", reconciliationHandler.Sync)
		r.Get("/repair/candidates", reconciliationHandler.ListRepairCandidates)
		r.Post("/repair/run", reconciliationHandler.RunRepair)

		r.Post("/payers/restrictions", restrictionHandler.AddRestriction)
		r.Delete("/payers/restrictions/{restrictionId}", restrictionHandler.RemoveRestriction)
		r.Get("/payers/{payerId}/restrictions", restrictionHandler.ListRestrictions)
		r.Get("/payers/{payerId}/restrictions/check", restrictionHandler.CheckRestriction)
	})

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	// Start server
	server := &http.Server{
		Addr:         ":" + port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown
	go func() {
		log.Printf("Server starting on :%s", port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Server shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatal("Server forced to shutdown:", err)
	}

	log.Println("Server stopped")
}
