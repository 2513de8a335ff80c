// Package api maps MCP tool calls onto the call coordinator.
package api

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ihiteshgupta/call-coordinator/internal/coordinator"
	"github.com/ihiteshgupta/call-coordinator/internal/media"
)

// Error codes
const (
	ErrBusy           = "BUSY"
	ErrNoIncomingCall = "NO_INCOMING_CALL"
	ErrNoActiveCall   = "NO_ACTIVE_CALL"
	ErrNotFound       = "NOT_FOUND"
	ErrUnavailable    = "UNAVAILABLE"
	ErrInvalidInput   = "INVALID_INPUT"
	ErrInternal       = "INTERNAL_ERROR"
)

// MCPError represents a structured error for MCP responses.
type MCPError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Retry   bool   `json:"retry"`
}

// Error implements the error interface.
func (e *MCPError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// JSON returns the error as a JSON string.
func (e *MCPError) JSON() string {
	data, _ := json.Marshal(e)
	return string(data)
}

// NewNotFoundError creates an error for not found resources.
func NewNotFoundError(resource string) *MCPError {
	return &MCPError{
		Code:    ErrNotFound,
		Message: fmt.Sprintf("Resource not found: %s", resource),
		Retry:   false,
	}
}

// NewUnavailableError reports a collaborator that is not wired in this process.
func NewUnavailableError(what string) *MCPError {
	return &MCPError{
		Code:    ErrUnavailable,
		Message: fmt.Sprintf("%s is not available", what),
		Retry:   false,
	}
}

// NewInvalidInputError creates an error for invalid input.
func NewInvalidInputError(message string) *MCPError {
	return &MCPError{
		Code:    ErrInvalidInput,
		Message: message,
		Retry:   false,
	}
}

// NewInternalError creates an error for internal errors.
func NewInternalError(err error) *MCPError {
	return &MCPError{
		Code:    ErrInternal,
		Message: fmt.Sprintf("Internal error: %s", err.Error()),
		Retry:   false,
	}
}

// FromCoordinatorError maps coordinator precondition errors to MCP codes.
func FromCoordinatorError(err error) *MCPError {
	switch {
	case errors.Is(err, coordinator.ErrBusy):
		return &MCPError{Code: ErrBusy, Message: err.Error(), Retry: true}
	case errors.Is(err, coordinator.ErrNoIncomingCall):
		return &MCPError{Code: ErrNoIncomingCall, Message: err.Error()}
	case errors.Is(err, coordinator.ErrNoActiveCall):
		return &MCPError{Code: ErrNoActiveCall, Message: err.Error()}
	case errors.Is(err, coordinator.ErrInvalidRequest):
		return NewInvalidInputError(err.Error())
	case errors.Is(err, coordinator.ErrStopped):
		return &MCPError{Code: ErrUnavailable, Message: err.Error()}
	case errors.Is(err, media.ErrUnknownHandle):
		return NewNotFoundError(err.Error())
	default:
		return NewInternalError(err)
	}
}
