// Package api contains the HTTP handlers for the automation engine REST API.
package api

import (
	"time"

	"github.com/labstack/echo/v4"

	"github.com/vibespan/automation-engine/internal/escalation"
	"github.com/vibespan/automation-engine/internal/feed"
	"github.com/vibespan/automation-engine/internal/ledger"
	"github.com/vibespan/automation-engine/internal/logging"
	"github.com/vibespan/automation-engine/internal/metrics"
	"github.com/vibespan/automation-engine/internal/registry"
)

// FireCounter reports how many rule fires the engine has produced since
// start. Implemented by the rule engine.
type FireCounter interface {
	FireCount() int64
}

// Server holds the dependencies for the API server.
type Server struct {
	Registry *registry.Registry
	Ledger   ledger.Ledger
	Alerts   *escalation.Manager
	Feed     *feed.ChannelAdapter
	Pool     feed.Submitter
	Metrics  *metrics.Metrics
	Rules    FireCounter
	Logger   *logging.Logger

	startedAt time.Time
}

// NewServer creates a new Server.
func NewServer(reg *registry.Registry, led ledger.Ledger, alerts *escalation.Manager, adapter *feed.ChannelAdapter, pool feed.Submitter, m *metrics.Metrics, rules FireCounter, logger *logging.Logger) *Server {
	return &Server{
		Registry:  reg,
		Ledger:    led,
		Alerts:    alerts,
		Feed:      adapter,
		Pool:      pool,
		Metrics:   m,
		Rules:     rules,
		Logger:    logger,
		startedAt: time.Now(),
	}
}

// RegisterRoutes mounts the automation API onto an echo group.
func RegisterRoutes(g *echo.Group, s *Server) {
	g.GET("/status", s.EngineStatus)

	g.GET("/tenants", s.ListTenants)
	g.PUT("/tenants", s.PutTenant)
	g.GET("/tenants/:tenantID", s.GetTenant)
	g.DELETE("/tenants/:tenantID", s.DeactivateTenant)

	g.PUT("/tenants/:tenantID/rules", s.PutRule)
	g.POST("/tenants/:tenantID/rules/:ruleID/enable", s.EnableRule)
	g.POST("/tenants/:tenantID/rules/:ruleID/disable", s.DisableRule)

	g.PUT("/tenants/:tenantID/schedules", s.PutSchedule)
	g.DELETE("/tenants/:tenantID/schedules/:scheduleID", s.RemoveSchedule)

	g.PUT("/tenants/:tenantID/workflows", s.PutWorkflow)
	g.POST("/tenants/:tenantID/workflows/:workflowID/trigger", s.TriggerWorkflow)

	g.GET("/tenants/:tenantID/executions", s.ListExecutions)
	g.GET("/tenants/:tenantID/alerts", s.ListAlerts)
	g.POST("/alerts/:alertID/ack", s.AcknowledgeAlert)

	g.POST("/metrics/snapshots", s.IngestSnapshot)
}
