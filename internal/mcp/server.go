package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/vibespan/automation-engine/internal/feed"
	"github.com/vibespan/automation-engine/internal/ledger"
	"github.com/vibespan/automation-engine/internal/registry"
	"github.com/vibespan/automation-engine/pkg/models"
)

type Server struct {
	mcpServer *server.MCPServer
	registry  *registry.Registry
	ledger    ledger.Ledger
	pool      feed.Submitter
}

func NewServer(reg *registry.Registry, led ledger.Ledger, pool feed.Submitter) *Server {
	s := &Server{
		mcpServer: server.NewMCPServer(
			"Automation Engine",
			"1.0.0",
			server.WithToolCapabilities(true),
		),
		registry: reg,
		ledger:   led,
		pool:     pool,
	}

	s.registerTools()
	return s
}

func (s *Server) GetMCPServer() *server.MCPServer {
	return s.mcpServer
}

func (s *Server) registerTools() {
	s.mcpServer.AddTool(
		mcp.NewTool(
			"engine_status",
			mcp.WithDescription("Report active tenants, enabled rules and schedules"),
		),
		s.handleEngineStatus,
	)

	s.mcpServer.AddTool(
		mcp.NewTool(
			"list_executions",
			mcp.WithDescription("List a tenant's recent workflow executions"),
			mcp.WithString("tenant_id", mcp.Required(), mcp.Description("Tenant to inspect")),
			mcp.WithString("status", mcp.Description("Filter by terminal status (completed, partially_completed, failed)")),
		),
		s.handleListExecutions,
	)

	s.mcpServer.AddTool(
		mcp.NewTool(
			"retrigger_workflow",
			mcp.WithDescription("Manually trigger a workflow for a tenant"),
			mcp.WithString("tenant_id", mcp.Required(), mcp.Description("Owning tenant")),
			mcp.WithString("workflow_id", mcp.Required(), mcp.Description("Workflow to run")),
		),
		s.handleRetriggerWorkflow,
	)
}

func (s *Server) handleEngineStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	tenants, err := s.registry.ListActive(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to list tenants: %v", err)), nil
	}

	rules, schedules, workflows := 0, 0, 0
	for _, t := range tenants {
		for _, r := range t.Rules {
			if r.Enabled {
				rules++
			}
		}
		schedules += len(t.Schedules)
		workflows += len(t.Workflows)
	}

	jsonBytes, _ := json.Marshal(map[string]int{
		"active_tenants": len(tenants),
		"enabled_rules":  rules,
		"schedules":      schedules,
		"workflows":      workflows,
	})
	return mcp.NewToolResultText(string(jsonBytes)), nil
}

func (s *Server) handleListExecutions(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return mcp.NewToolResultError("Invalid arguments type"), nil
	}

	tenantID, ok := args["tenant_id"].(string)
	if !ok || tenantID == "" {
		return mcp.NewToolResultError("Missing required parameter: tenant_id"), nil
	}

	var records []*models.ExecutionRecord
	var err error
	if status, _ := args["status"].(string); status != "" {
		records, err = s.ledger.ListByStatus(ctx, tenantID, models.ExecutionStatus(status))
	} else {
		now := time.Now()
		records, err = s.ledger.ListByTenant(ctx, tenantID, now.Add(-24*time.Hour), now)
	}
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to list executions: %v", err)), nil
	}

	jsonBytes, _ := json.Marshal(records)
	return mcp.NewToolResultText(string(jsonBytes)), nil
}

func (s *Server) handleRetriggerWorkflow(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return mcp.NewToolResultError("Invalid arguments type"), nil
	}

	tenantID, ok := args["tenant_id"].(string)
	if !ok || tenantID == "" {
		return mcp.NewToolResultError("Missing required parameter: tenant_id"), nil
	}
	workflowID, ok := args["workflow_id"].(string)
	if !ok || workflowID == "" {
		return mcp.NewToolResultError("Missing required parameter: workflow_id"), nil
	}

	tenant, err := s.registry.Get(ctx, tenantID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to resolve tenant: %v", err)), nil
	}
	if tenant.Workflow(workflowID) == nil {
		return mcp.NewToolResultError(fmt.Sprintf("Workflow %q not found", workflowID)), nil
	}

	id := uuid.New().String()
	event := models.TriggerEvent{
		ID:         id,
		Source:     models.TriggerSourceManual,
		SourceID:   "mcp",
		TenantID:   tenantID,
		WorkflowID: workflowID,
		DedupKey:   fmt.Sprintf("manual:%s:%s:%s", tenantID, workflowID, id),
		Timestamp:  time.Now(),
	}
	if err := s.pool.Submit(ctx, event); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to submit trigger: %v", err)), nil
	}

	jsonBytes, _ := json.Marshal(event)
	return mcp.NewToolResultText(string(jsonBytes)), nil
}

func MountHTTPHandlers(mux *http.ServeMux, mcpServer *server.MCPServer) {
	// Use SSE server for /mcp/sse and /mcp/message endpoints
	sseServer := server.NewSSEServer(mcpServer, server.WithStaticBasePath("/mcp"))

	mux.HandleFunc("/mcp", func(w http.ResponseWriter, r *http.Request) {
		// Direct POST for tool calls
		if r.Method == http.MethodPost {
			sseServer.ServeHTTP(w, r)
			return
		}
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	})

	// SSE endpoints
	mux.HandleFunc("/mcp/sse", sseServer.ServeHTTP)
	mux.HandleFunc("/mcp/message", sseServer.ServeHTTP)
}
