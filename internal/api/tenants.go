package api

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/vibespan/automation-engine/internal/registry"
	"github.com/vibespan/automation-engine/pkg/models"
)

// ListTenants returns all active tenants.
// (GET /api/v1/tenants)
func (s *Server) ListTenants(c echo.Context) error {
	ctx := c.Request().Context()

	tenants, err := s.Registry.ListActive(ctx)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, tenants)
}

// GetTenant returns one tenant's configuration.
// (GET /api/v1/tenants/:tenantID)
func (s *Server) GetTenant(c echo.Context) error {
	ctx := c.Request().Context()

	tenant, err := s.Registry.Get(ctx, c.Param("tenantID"))
	if err != nil {
		return tenantError(err)
	}
	return c.JSON(http.StatusOK, tenant)
}

// PutTenant creates or updates a tenant.
// (PUT /api/v1/tenants)
func (s *Server) PutTenant(c echo.Context) error {
	ctx := c.Request().Context()

	var tenant models.Tenant
	if err := c.Bind(&tenant); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body: "+err.Error())
	}
	if tenant.ID == "" {
		tenant.ID = uuid.New().String()
	}
	if err := s.Registry.Upsert(ctx, &tenant); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusOK, tenant)
}

// DeactivateTenant removes a tenant from automation.
// (DELETE /api/v1/tenants/:tenantID)
func (s *Server) DeactivateTenant(c echo.Context) error {
	ctx := c.Request().Context()

	if err := s.Registry.Deactivate(ctx, c.Param("tenantID")); err != nil {
		return tenantError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

// PutRule creates or updates an automation rule for a tenant.
// (PUT /api/v1/tenants/:tenantID/rules)
func (s *Server) PutRule(c echo.Context) error {
	ctx := c.Request().Context()

	var rule models.AutomationRule
	if err := c.Bind(&rule); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body: "+err.Error())
	}
	if rule.ID == "" {
		rule.ID = uuid.New().String()
	}
	if err := s.Registry.PutRule(ctx, c.Param("tenantID"), &rule); err != nil {
		return tenantError(err)
	}
	return c.JSON(http.StatusOK, rule)
}

// EnableRule re-enables a rule.
// (POST /api/v1/tenants/:tenantID/rules/:ruleID/enable)
func (s *Server) EnableRule(c echo.Context) error {
	return s.setRuleEnabled(c, true)
}

// DisableRule disables a rule without deleting it.
// (POST /api/v1/tenants/:tenantID/rules/:ruleID/disable)
func (s *Server) DisableRule(c echo.Context) error {
	return s.setRuleEnabled(c, false)
}

func (s *Server) setRuleEnabled(c echo.Context, enabled bool) error {
	ctx := c.Request().Context()

	if err := s.Registry.SetRuleEnabled(ctx, c.Param("tenantID"), c.Param("ruleID"), enabled); err != nil {
		return tenantError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

// PutSchedule adds a schedule to a tenant. Schedule IDs are immutable once
// created; a duplicate ID is rejected.
// (PUT /api/v1/tenants/:tenantID/schedules)
func (s *Server) PutSchedule(c echo.Context) error {
	ctx := c.Request().Context()

	var spec models.ScheduleSpec
	if err := c.Bind(&spec); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body: "+err.Error())
	}
	if spec.ID == "" {
		spec.ID = uuid.New().String()
	}
	if err := s.Registry.PutSchedule(ctx, c.Param("tenantID"), &spec); err != nil {
		return tenantError(err)
	}
	return c.JSON(http.StatusOK, spec)
}

// RemoveSchedule deletes a schedule.
// (DELETE /api/v1/tenants/:tenantID/schedules/:scheduleID)
func (s *Server) RemoveSchedule(c echo.Context) error {
	ctx := c.Request().Context()

	if err := s.Registry.RemoveSchedule(ctx, c.Param("tenantID"), c.Param("scheduleID")); err != nil {
		return tenantError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

// PutWorkflow creates or updates a workflow definition for a tenant.
// (PUT /api/v1/tenants/:tenantID/workflows)
func (s *Server) PutWorkflow(c echo.Context) error {
	ctx := c.Request().Context()

	var workflow models.Workflow
	if err := c.Bind(&workflow); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body: "+err.Error())
	}
	if workflow.ID == "" {
		workflow.ID = uuid.New().String()
	}
	if err := s.Registry.PutWorkflow(ctx, c.Param("tenantID"), &workflow); err != nil {
		return tenantError(err)
	}
	return c.JSON(http.StatusOK, workflow)
}

// tenantError maps registry errors onto HTTP status codes.
func tenantError(err error) error {
	if errors.Is(err, registry.ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	}
	return echo.NewHTTPError(http.StatusBadRequest, err.Error())
}
