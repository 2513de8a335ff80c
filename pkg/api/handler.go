package api

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ihiteshgupta/call-coordinator/internal/call"
	"github.com/ihiteshgupta/call-coordinator/internal/coordinator"
	"github.com/ihiteshgupta/call-coordinator/internal/health"
	"github.com/ihiteshgupta/call-coordinator/internal/media"
	"github.com/ihiteshgupta/call-coordinator/internal/store"
	"github.com/ihiteshgupta/call-coordinator/internal/wake"
	"github.com/ihiteshgupta/call-coordinator/pkg/mcp"
)

// Coordinator defines the call operations exposed as tools.
type Coordinator interface {
	// State
	State() coordinator.CallState
	UserID() string

	// Control
	StartCall(ctx context.Context, req coordinator.StartRequest) error
	AnswerCall(ctx context.Context, callID string) error
	RejectCall(ctx context.Context, callID string) error
	EndCall(ctx context.Context) error
	SetMuted(ctx context.Context, muted bool) error
	ToggleMute(ctx context.Context) (bool, error)
	ReturnToCall(ctx context.Context) error
	Activate(ctx context.Context) error

	// History
	History(ctx context.Context, callID string, limit int) ([]store.Transition, error)
	RecentCalls(ctx context.Context, limit int) ([]call.Record, error)
}

// WakeHandler persists and presents a wake push.
type WakeHandler interface {
	HandleWakePush(ctx context.Context, p wake.Push) error
}

// TelephonyInjector feeds system call UI actions to the coordinator.
type TelephonyInjector interface {
	Emit(evt wake.TelephonyEvent) bool
}

// MediaReporter feeds media SDK events to the coordinator.
type MediaReporter interface {
	Report(evt media.Event) error
}

// Platform groups the optional native collaborators. Nil fields disable the
// matching tools.
type Platform struct {
	Wake      WakeHandler
	Telephony TelephonyInjector
	Media     MediaReporter
}

// Handler implements the MCP ToolHandler and ResourceProvider interfaces.
type Handler struct {
	calls    Coordinator
	health   *health.Monitor
	platform Platform
}

// NewHandler creates a new tool handler.
func NewHandler(calls Coordinator, health *health.Monitor, platform Platform) *Handler {
	return &Handler{
		calls:    calls,
		health:   health,
		platform: platform,
	}
}

// GetTools returns all available tool definitions.
func (h *Handler) GetTools() []mcp.Tool {
	return GetAllTools()
}

// HandleTool handles a tool invocation and returns the result.
func (h *Handler) HandleTool(ctx context.Context, name string, args map[string]interface{}) (*mcp.CallToolResult, error) {
	switch name {
	// Call control
	case ToolStartCall:
		return h.handleStartCall(ctx, args)
	case ToolAnswerCall:
		return h.command(h.calls.AnswerCall(ctx, getString(args, "call_id")))
	case ToolRejectCall:
		return h.command(h.calls.RejectCall(ctx, getString(args, "call_id")))
	case ToolEndCall:
		return h.command(h.calls.EndCall(ctx))
	case ToolReturnToCall:
		return h.command(h.calls.ReturnToCall(ctx))
	case ToolToggleMute:
		return h.handleToggleMute(ctx, args)

	// Queries
	case ToolGetCallState:
		return h.successResult(h.calls.State())
	case ToolGetCallHistory:
		return h.handleGetCallHistory(ctx, args)
	case ToolGetCoordinatorStatus:
		return h.handleGetCoordinatorStatus(ctx, args)

	// Platform
	case ToolActivateApp:
		return h.command(h.calls.Activate(ctx))
	case ToolDeliverWakePush:
		return h.handleDeliverWakePush(ctx, args)
	case ToolTelephonyAction:
		return h.handleTelephonyAction(ctx, args)
	case ToolReportMediaEvent:
		return h.handleReportMediaEvent(ctx, args)

	default:
		return h.errorResult(NewInvalidInputError(fmt.Sprintf("Unknown tool: %s", name)))
	}
}

// ListResources implements mcp.ResourceProvider.
func (h *Handler) ListResources() []mcp.Resource {
	return []mcp.Resource{{
		URI:         CallStateURI,
		Name:        "Call state",
		Description: "Current call phase and call details",
		MimeType:    "application/json",
	}}
}

// ReadResource implements mcp.ResourceProvider.
func (h *Handler) ReadResource(_ context.Context, uri string) (*mcp.ReadResourceResult, error) {
	if uri != CallStateURI {
		return nil, mcp.ErrResourceNotFound
	}
	data, err := json.Marshal(h.calls.State())
	if err != nil {
		return nil, err
	}
	return &mcp.ReadResourceResult{Contents: []mcp.ResourceContent{{
		URI:      uri,
		MimeType: "application/json",
		Text:     string(data),
	}}}, nil
}

// Helper methods

// command reports the post-command call state, or the mapped error.
func (h *Handler) command(err error) (*mcp.CallToolResult, error) {
	if err != nil {
		return h.errorResult(FromCoordinatorError(err))
	}
	return h.successResult(h.calls.State())
}

func (h *Handler) successResult(data interface{}) (*mcp.CallToolResult, error) {
	block, err := mcp.JSONContent(data)
	if err != nil {
		return nil, NewInternalError(err)
	}
	return &mcp.CallToolResult{
		Content: []mcp.ContentBlock{block},
	}, nil
}

func (h *Handler) errorResult(err *MCPError) (*mcp.CallToolResult, error) {
	return &mcp.CallToolResult{
		Content: []mcp.ContentBlock{mcp.TextContent(err.JSON())},
		IsError: true,
	}, nil
}

func getString(args map[string]interface{}, key string) string {
	if v, ok := args[key].(string); ok {
		return v
	}
	return ""
}

func getInt(args map[string]interface{}, key string, defaultVal int) int {
	if v, ok := args[key].(float64); ok {
		return int(v)
	}
	if v, ok := args[key].(int); ok {
		return v
	}
	return defaultVal
}

// getOptionalBool distinguishes an absent flag from false.
func getOptionalBool(args map[string]interface{}, key string) (bool, bool) {
	v, ok := args[key].(bool)
	return v, ok
}
