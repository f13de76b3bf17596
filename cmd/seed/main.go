package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vibespan/automation-engine/internal/config"
	"github.com/vibespan/automation-engine/internal/ledger"
	"github.com/vibespan/automation-engine/internal/logging"
	"github.com/vibespan/automation-engine/internal/registry"
	"github.com/vibespan/automation-engine/pkg/models"
)

func main() {
	ctx := context.Background()
	logger := logging.NewLogger()
	defer logger.Sync()

	// Load config
	cfg, err := config.LoadConfig("")
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Connect to DB
	connStr := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.DB.Host, cfg.DB.Port, cfg.DB.User, cfg.DB.Password, cfg.DB.Name, cfg.DB.SSLMode,
	)
	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		log.Fatalf("Failed to connect to DB: %v", err)
	}
	defer pool.Close()

	// 1. Create schema
	store := registry.NewPostgresStore(pool)
	if err := store.Migrate(ctx); err != nil {
		log.Fatalf("Failed to migrate tenant store: %v", err)
	}
	led := ledger.NewPostgresLedger(pool)
	if err := led.Migrate(ctx); err != nil {
		log.Fatalf("Failed to migrate execution ledger: %v", err)
	}
	logger.Info("Schema ready")

	// 2. Ensure default tenant exists with the built-in automation set
	reg := registry.New().WithStore(store)
	if err := reg.Load(ctx); err != nil {
		log.Fatalf("Failed to load tenants: %v", err)
	}

	domain := "localhost"
	if tenant, err := reg.GetByDomain(ctx, domain); err == nil {
		logger.Info("Found existing tenant", "id", tenant.ID)
		return
	}

	logger.Info("Creating default tenant", "domain", domain)
	tenantID := "local-dev"
	now := time.Now()
	tenant := &models.Tenant{
		ID:           tenantID,
		Name:         "Local Dev Tenant",
		Domain:       domain,
		ServiceLevel: models.ServiceLevelPremium,
		Status:       models.TenantStatusActive,
		Timezone:     "UTC",
		Rules:        models.DefaultRules(tenantID),
		Schedules:    models.DefaultSchedules(tenantID),
		Workflows:    models.DefaultWorkflows(tenantID),
		Escalation: models.EscalationPolicy{
			PrimaryContact:   "dev@localhost",
			SecondaryContact: "oncall@localhost",
			Channel:          "email",
			EscalateAfter:    30 * time.Minute,
			RetryInterval:    5 * time.Minute,
			MaxDeliveryTries: 3,
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := reg.Upsert(ctx, tenant); err != nil {
		log.Fatalf("Failed to create tenant: %v", err)
	}

	logger.Info("Seeded tenant",
		"id", tenant.ID,
		"rules", len(tenant.Rules),
		"schedules", len(tenant.Schedules),
		"workflows", len(tenant.Workflows),
	)
	logger.Info("Seeding complete!")
}
