package api

import (
	"github.com/ihiteshgupta/call-coordinator/pkg/mcp"
)

// Tool name constants
const (
	// Call control (6)
	ToolStartCall    = "start_call"
	ToolAnswerCall   = "answer_call"
	ToolRejectCall   = "reject_call"
	ToolEndCall      = "end_call"
	ToolReturnToCall = "return_to_call"
	ToolToggleMute   = "toggle_mute"

	// Queries (3)
	ToolGetCallState         = "get_call_state"
	ToolGetCallHistory       = "get_call_history"
	ToolGetCoordinatorStatus = "get_coordinator_status"

	// Platform (4)
	ToolActivateApp      = "activate_app"
	ToolDeliverWakePush  = "deliver_wake_push"
	ToolTelephonyAction  = "telephony_action"
	ToolReportMediaEvent = "report_media_event"
)

// CallStateURI is the resource holding the current call state.
const CallStateURI = "call://state"

// GetAllTools returns all 13 tool definitions.
func GetAllTools() []mcp.Tool {
	return []mcp.Tool{
		// ============ CALL CONTROL (6) ============
		{
			Name:        ToolStartCall,
			Description: "Place an outgoing voice or video call",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"target_user_id":      prop("string", "User id of the callee"),
					"target_display_name": prop("string", "Name shown for the callee"),
					"call_type":           propEnum("Media kind of the call", "voice", "video"),
				},
				"required": []string{"target_user_id", "call_type"},
			},
		},
		{
			Name:        ToolAnswerCall,
			Description: "Answer the ringing incoming call",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"call_id": prop("string", "Call to answer (defaults to the current incoming call)"),
				},
			},
		},
		{
			Name:        ToolRejectCall,
			Description: "Decline the ringing incoming call",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"call_id": prop("string", "Call to decline (defaults to the current incoming call)"),
				},
			},
		},
		{
			Name:        ToolEndCall,
			Description: "Hang up the current call",
			InputSchema: emptySchema(),
		},
		{
			Name:        ToolReturnToCall,
			Description: "Restore the call screen after minimizing it",
			InputSchema: emptySchema(),
		},
		{
			Name:        ToolToggleMute,
			Description: "Mute or unmute the microphone. Toggles when muted is omitted",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"muted": propBool("Desired mute state"),
				},
			},
		},

		// ============ QUERIES (3) ============
		{
			Name:        ToolGetCallState,
			Description: "Get the current call phase and call details",
			InputSchema: emptySchema(),
		},
		{
			Name:        ToolGetCallHistory,
			Description: "Get phase transitions for a call, or recent call records when call_id is omitted",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"call_id": prop("string", "Call to inspect"),
					"limit":   propInt("Maximum entries to return (default 20)"),
				},
			},
		},
		{
			Name:        ToolGetCoordinatorStatus,
			Description: "Get uptime, current phase and call outcome counters",
			InputSchema: emptySchema(),
		},

		// ============ PLATFORM (4) ============
		{
			Name:        ToolActivateApp,
			Description: "Signal that the app came to the foreground and recover any pending incoming call",
			InputSchema: emptySchema(),
		},
		{
			Name:        ToolDeliverWakePush,
			Description: "Deliver a wake push for an incoming call received while the app was inactive",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"call_id":             prop("string", "Call id"),
					"caller_id":           prop("string", "User id of the caller"),
					"caller_display_name": prop("string", "Name shown for the caller"),
					"call_type":           propEnum("Media kind of the call", "voice", "video"),
					"session_address":     prop("string", "Media session address, when known"),
				},
				"required": []string{"call_id", "caller_id"},
			},
		},
		{
			Name:        ToolTelephonyAction,
			Description: "Report an action taken on the system call UI",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"action":  propEnum("Action taken", "answer", "end", "mute"),
					"call_id": prop("string", "Call the action applies to"),
					"muted":   propBool("Mute state for the mute action"),
				},
				"required": []string{"action", "call_id"},
			},
		},
		{
			Name:        ToolReportMediaEvent,
			Description: "Report an event from the media session SDK",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"kind":        propEnum("Event kind", "joined", "left", "remote_joined", "remote_left", "local_track_ready", "error"),
					"handle":      prop("string", "Media session handle"),
					"address":     prop("string", "Session address for joined events"),
					"participant": prop("string", "Remote participant for remote events"),
					"error":       prop("string", "Error message for error events"),
				},
				"required": []string{"kind", "handle"},
			},
		},
	}
}

// Helper functions for schema creation
func prop(typeName, description string) map[string]interface{} {
	return map[string]interface{}{
		"type":        typeName,
		"description": description,
	}
}

func propInt(description string) map[string]interface{} {
	return map[string]interface{}{
		"type":        "integer",
		"description": description,
	}
}

func propBool(description string) map[string]interface{} {
	return map[string]interface{}{
		"type":        "boolean",
		"description": description,
	}
}

func propEnum(description string, values ...string) map[string]interface{} {
	return map[string]interface{}{
		"type":        "string",
		"description": description,
		"enum":        values,
	}
}

func emptySchema() map[string]interface{} {
	return map[string]interface{}{
		"type":       "object",
		"properties": map[string]interface{}{},
	}
}
