package api

import (
	"context"
	"errors"
	"time"

	"github.com/ihiteshgupta/call-coordinator/internal/call"
	"github.com/ihiteshgupta/call-coordinator/internal/media"
	"github.com/ihiteshgupta/call-coordinator/internal/wake"
	"github.com/ihiteshgupta/call-coordinator/pkg/mcp"
)

// Platform tool handlers. These stand in for the native wake, telephony and
// media callbacks when the coordinator runs headless.

func (h *Handler) handleDeliverWakePush(ctx context.Context, args map[string]interface{}) (*mcp.CallToolResult, error) {
	if h.platform.Wake == nil {
		return h.errorResult(NewUnavailableError("wake bridge"))
	}

	var callType call.Type
	if s := getString(args, "call_type"); s != "" {
		t, err := call.ParseType(s)
		if err != nil {
			return h.errorResult(NewInvalidInputError("call_type must be voice or video"))
		}
		callType = t
	}

	push := wake.Push{
		ToUserID:          h.calls.UserID(),
		CallID:            getString(args, "call_id"),
		CallerID:          getString(args, "caller_id"),
		CallerDisplayName: getString(args, "caller_display_name"),
		CallType:          callType,
		SessionAddress:    getString(args, "session_address"),
		SentAt:            time.Now().UTC(),
	}
	if err := push.Validate(); err != nil {
		return h.errorResult(NewInvalidInputError(err.Error()))
	}

	if err := h.platform.Wake.HandleWakePush(ctx, push); err != nil {
		return h.errorResult(NewInternalError(err))
	}
	return h.successResult(map[string]interface{}{
		"success": true,
		"call_id": push.CallID,
		"message": "Incoming call saved; activate the app to pick it up",
	})
}

func (h *Handler) handleTelephonyAction(ctx context.Context, args map[string]interface{}) (*mcp.CallToolResult, error) {
	if h.platform.Telephony == nil {
		return h.errorResult(NewUnavailableError("telephony"))
	}

	action, err := wake.ParseAction(getString(args, "action"))
	if err != nil {
		return h.errorResult(NewInvalidInputError(err.Error()))
	}
	callID := getString(args, "call_id")
	if callID == "" {
		return h.errorResult(NewInvalidInputError("call_id is required"))
	}
	muted, _ := getOptionalBool(args, "muted")

	if !h.platform.Telephony.Emit(wake.TelephonyEvent{Action: action, CallID: callID, Muted: muted}) {
		return h.errorResult(&MCPError{Code: ErrUnavailable, Message: "telephony event queue is full", Retry: true})
	}
	return h.successResult(map[string]interface{}{
		"success": true,
		"action":  action.String(),
		"call_id": callID,
	})
}

func (h *Handler) handleReportMediaEvent(ctx context.Context, args map[string]interface{}) (*mcp.CallToolResult, error) {
	if h.platform.Media == nil {
		return h.errorResult(NewUnavailableError("media engine"))
	}

	kind, err := media.ParseEventKind(getString(args, "kind"))
	if err != nil {
		return h.errorResult(NewInvalidInputError(err.Error()))
	}
	handle := getString(args, "handle")
	if handle == "" {
		return h.errorResult(NewInvalidInputError("handle is required"))
	}

	evt := media.Event{
		Kind:        kind,
		Handle:      media.Handle(handle),
		Address:     getString(args, "address"),
		Participant: getString(args, "participant"),
	}
	if msg := getString(args, "error"); msg != "" {
		evt.Err = errors.New(msg)
	}

	if err := h.platform.Media.Report(evt); err != nil {
		return h.errorResult(FromCoordinatorError(err))
	}
	return h.successResult(map[string]interface{}{
		"success": true,
		"kind":    kind.String(),
		"handle":  handle,
	})
}
