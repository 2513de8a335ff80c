package api

import (
	"context"

	"github.com/ihiteshgupta/call-coordinator/internal/call"
	"github.com/ihiteshgupta/call-coordinator/internal/coordinator"
	"github.com/ihiteshgupta/call-coordinator/pkg/mcp"
)

// Call tool handlers

func (h *Handler) handleStartCall(ctx context.Context, args map[string]interface{}) (*mcp.CallToolResult, error) {
	target := getString(args, "target_user_id")
	if target == "" {
		return h.errorResult(NewInvalidInputError("target_user_id is required"))
	}

	callType, err := call.ParseType(getString(args, "call_type"))
	if err != nil {
		return h.errorResult(NewInvalidInputError("call_type must be voice or video"))
	}

	return h.command(h.calls.StartCall(ctx, coordinator.StartRequest{
		TargetUserID:      target,
		TargetDisplayName: getString(args, "target_display_name"),
		CallType:          callType,
	}))
}

func (h *Handler) handleToggleMute(ctx context.Context, args map[string]interface{}) (*mcp.CallToolResult, error) {
	if muted, ok := getOptionalBool(args, "muted"); ok {
		return h.command(h.calls.SetMuted(ctx, muted))
	}
	_, err := h.calls.ToggleMute(ctx)
	return h.command(err)
}

func (h *Handler) handleGetCallHistory(ctx context.Context, args map[string]interface{}) (*mcp.CallToolResult, error) {
	limit := getInt(args, "limit", 20)
	if limit <= 0 {
		return h.errorResult(NewInvalidInputError("limit must be positive"))
	}

	callID := getString(args, "call_id")
	if callID == "" {
		records, err := h.calls.RecentCalls(ctx, limit)
		if err != nil {
			return h.errorResult(NewInternalError(err))
		}
		if records == nil {
			records = []call.Record{}
		}
		return h.successResult(map[string]interface{}{
			"user_id": h.calls.UserID(),
			"calls":   records,
		})
	}

	transitions, err := h.calls.History(ctx, callID, limit)
	if err != nil {
		return h.errorResult(NewInternalError(err))
	}
	if len(transitions) == 0 {
		return h.errorResult(NewNotFoundError("call " + callID))
	}
	return h.successResult(map[string]interface{}{
		"call_id":     callID,
		"transitions": transitions,
	})
}

func (h *Handler) handleGetCoordinatorStatus(ctx context.Context, args map[string]interface{}) (*mcp.CallToolResult, error) {
	if h.health == nil {
		return h.errorResult(NewUnavailableError("health monitor"))
	}
	return h.successResult(map[string]interface{}{
		"user_id": h.calls.UserID(),
		"status":  h.health.GetStatus(),
	})
}
