package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/vibespan/automation-engine/pkg/models"
)

// ListExecutions returns a tenant's execution history. Optional query
// params: status, from, to (RFC 3339). Defaults to the last 24 hours.
// (GET /api/v1/tenants/:tenantID/executions)
func (s *Server) ListExecutions(c echo.Context) error {
	ctx := c.Request().Context()
	tenantID := c.Param("tenantID")

	if status := c.QueryParam("status"); status != "" {
		records, err := s.Ledger.ListByStatus(ctx, tenantID, models.ExecutionStatus(status))
		if err != nil {
			return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
		}
		return c.JSON(http.StatusOK, records)
	}

	to := time.Now()
	from := to.Add(-24 * time.Hour)
	var err error
	if v := c.QueryParam("from"); v != "" {
		if from, err = time.Parse(time.RFC3339, v); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "Invalid 'from' timestamp: "+err.Error())
		}
	}
	if v := c.QueryParam("to"); v != "" {
		if to, err = time.Parse(time.RFC3339, v); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "Invalid 'to' timestamp: "+err.Error())
		}
	}

	records, err := s.Ledger.ListByTenant(ctx, tenantID, from, to)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, records)
}

// TriggerWorkflow submits a manual trigger for a workflow. Manual triggers
// carry a fresh dedup key each time, so repeated requests each run.
// (POST /api/v1/tenants/:tenantID/workflows/:workflowID/trigger)
func (s *Server) TriggerWorkflow(c echo.Context) error {
	ctx := c.Request().Context()
	tenantID := c.Param("tenantID")
	workflowID := c.Param("workflowID")

	tenant, err := s.Registry.Get(ctx, tenantID)
	if err != nil {
		return tenantError(err)
	}
	if tenant.Workflow(workflowID) == nil {
		return echo.NewHTTPError(http.StatusNotFound, fmt.Sprintf("workflow %q not found", workflowID))
	}

	id := uuid.New().String()
	event := models.TriggerEvent{
		ID:         id,
		Source:     models.TriggerSourceManual,
		SourceID:   "operator",
		TenantID:   tenantID,
		WorkflowID: workflowID,
		DedupKey:   fmt.Sprintf("manual:%s:%s:%s", tenantID, workflowID, id),
		Timestamp:  time.Now(),
	}
	if err := s.Pool.Submit(ctx, event); err != nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, err.Error())
	}
	if s.Metrics != nil {
		s.Metrics.TriggerAccepted(models.TriggerSourceManual)
	}
	return c.JSON(http.StatusAccepted, event)
}

// ListAlerts returns a tenant's alerts, oldest first.
// (GET /api/v1/tenants/:tenantID/alerts)
func (s *Server) ListAlerts(c echo.Context) error {
	return c.JSON(http.StatusOK, s.Alerts.ListByTenant(c.Param("tenantID")))
}

// AcknowledgeAlert marks an alert acknowledged, ending its escalation cycle.
// (POST /api/v1/alerts/:alertID/ack)
func (s *Server) AcknowledgeAlert(c echo.Context) error {
	var body struct {
		By string `json:"by"`
	}
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body: "+err.Error())
	}
	alert, err := s.Alerts.Acknowledge(c.Param("alertID"), body.By)
	if err != nil {
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	}
	return c.JSON(http.StatusOK, alert)
}

// IngestSnapshot accepts a metric snapshot for rule evaluation.
// (POST /api/v1/metrics/snapshots)
func (s *Server) IngestSnapshot(c echo.Context) error {
	ctx := c.Request().Context()

	var snapshot models.MetricSnapshot
	if err := c.Bind(&snapshot); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body: "+err.Error())
	}
	if snapshot.TenantID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "tenant_id is required")
	}
	if snapshot.Timestamp.IsZero() {
		snapshot.Timestamp = time.Now()
	}
	if err := s.Feed.Publish(ctx, snapshot); err != nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, err.Error())
	}
	return c.NoContent(http.StatusAccepted)
}

// EngineStatus reports a summary of the engine's current state.
// (GET /api/v1/status)
func (s *Server) EngineStatus(c echo.Context) error {
	ctx := c.Request().Context()

	tenants, err := s.Registry.ListActive(ctx)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	rules, schedules := 0, 0
	for _, t := range tenants {
		for _, r := range t.Rules {
			if r.Enabled {
				rules++
			}
		}
		schedules = schedules + len(t.Schedules)
	}
	var fires int64
	if s.Rules != nil {
		fires = s.Rules.FireCount()
	}
	return c.JSON(http.StatusOK, map[string]any{
		"active_tenants":  len(tenants),
		"enabled_rules":   rules,
		"schedules":       schedules,
		"rule_fires":      fires,
		"pending_alerts":  s.Alerts.PendingCount(),
		"uptime_seconds":  int(time.Since(s.startedAt).Seconds()),
		"server_time_utc": time.Now().UTC(),
	})
}
