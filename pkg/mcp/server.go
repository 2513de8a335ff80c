package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"
)

// ErrResourceNotFound is returned by a ResourceProvider for unknown URIs.
var ErrResourceNotFound = errors.New("resource not found")

// ToolHandler is the interface for handling tool calls.
type ToolHandler interface {
	GetTools() []Tool
	HandleTool(ctx context.Context, name string, args map[string]interface{}) (*CallToolResult, error)
}

// ResourceProvider serves read-only resources. A ToolHandler may implement it.
type ResourceProvider interface {
	ListResources() []Resource
	ReadResource(ctx context.Context, uri string) (*ReadResourceResult, error)
}

// methodFunc handles one request method. A non-nil *Error becomes the
// JSON-RPC error reply.
type methodFunc func(ctx context.Context, params json.RawMessage) (interface{}, *Error)

// Server is the MCP server that handles protocol messages.
type Server struct {
	transport   *Transport
	handler     ToolHandler
	resources   ResourceProvider
	log         *slog.Logger
	initialized atomic.Bool
	methods     map[string]methodFunc

	serverInfo Implementation
}

// NewServer creates a new MCP server. If handler also implements
// ResourceProvider its resources are served.
func NewServer(reader io.Reader, writer io.Writer, handler ToolHandler, log *slog.Logger) *Server {
	s := &Server{
		transport: NewTransport(reader, writer, log),
		handler:   handler,
		log:       log,
		serverInfo: Implementation{
			Name:    "call-coordinator",
			Version: "1.0.0",
		},
	}
	if rp, ok := handler.(ResourceProvider); ok {
		s.resources = rp
	}

	s.methods = map[string]methodFunc{
		"initialize":     s.initialize,
		"ping":           func(context.Context, json.RawMessage) (interface{}, *Error) { return struct{}{}, nil },
		"tools/list":     s.listTools,
		"tools/call":     s.callTool,
		"resources/list": s.listResources,
		"resources/read": s.readResource,
	}
	return s
}

// Notify pushes a server notification to the client. Notifications sent
// before the client finished initializing are dropped.
func (s *Server) Notify(method string, params interface{}) error {
	if !s.initialized.Load() {
		return nil
	}
	return s.transport.SendNotification(method, params)
}

// Run reads and answers messages until the input closes or ctx ends. A
// closed input is a normal disconnect and returns nil.
func (s *Server) Run(ctx context.Context) error {
	s.log.Info("MCP server starting")

	for ctx.Err() == nil {
		req, err := s.transport.ReadMessage()
		switch {
		case errors.Is(err, io.EOF):
			s.log.Info("Client disconnected")
			return nil
		case errors.Is(err, ErrParse):
			s.log.Warn("Dropping malformed message", "error", err)
			if err := s.transport.SendError(nil, ParseError, "Parse error", nil); err != nil {
				return err
			}
			continue
		case err != nil:
			return err
		}

		if err := s.dispatch(ctx, req); err != nil {
			s.log.Error("Failed to answer request", "method", req.Method, "error", err)
		}
	}

	s.log.Info("MCP server shutting down")
	return ctx.Err()
}

func (s *Server) dispatch(ctx context.Context, req *Request) error {
	s.log.Debug("handling request", "method", req.Method, "id", req.ID)

	if req.Method == "initialized" || req.Method == "notifications/initialized" {
		s.initialized.Store(true)
		s.log.Info("Client initialized")
		return nil
	}

	fn, ok := s.methods[req.Method]
	if !ok {
		if req.ID == nil {
			s.log.Debug("ignoring notification", "method", req.Method)
			return nil
		}
		return s.transport.SendError(req.ID, MethodNotFound, fmt.Sprintf("Unknown method: %s", req.Method), nil)
	}

	result, rpcErr := fn(ctx, req.Params)
	if rpcErr != nil {
		return s.transport.SendError(req.ID, rpcErr.Code, rpcErr.Message, rpcErr.Data)
	}
	return s.transport.SendResult(req.ID, result)
}

// decodeParams unmarshals params into v. Empty params leave v zero.
func decodeParams(params json.RawMessage, v interface{}, what string) *Error {
	if len(params) == 0 {
		return nil
	}
	if err := json.Unmarshal(params, v); err != nil {
		return &Error{Code: InvalidParams, Message: "Invalid " + what + " params"}
	}
	return nil
}

func (s *Server) initialize(_ context.Context, raw json.RawMessage) (interface{}, *Error) {
	var params InitializeParams
	if err := decodeParams(raw, &params, "initialize"); err != nil {
		return nil, err
	}

	s.log.Info("Client initializing",
		"client", params.ClientInfo.Name,
		"version", params.ClientInfo.Version,
		"protocol", params.ProtocolVersion,
	)

	return InitializeResult{
		ProtocolVersion: ProtocolVersion,
		Capabilities: ServerCapabilities{
			Tools:     &Capability{},
			Resources: &Capability{},
			Experimental: map[string]interface{}{
				NotificationCallState: map[string]interface{}{},
			},
		},
		ServerInfo: s.serverInfo,
	}, nil
}

func (s *Server) listTools(context.Context, json.RawMessage) (interface{}, *Error) {
	return ListToolsResult{Tools: s.handler.GetTools()}, nil
}

func (s *Server) callTool(ctx context.Context, raw json.RawMessage) (interface{}, *Error) {
	var params CallToolParams
	if err := decodeParams(raw, &params, "tool call"); err != nil {
		return nil, err
	}
	if params.Name == "" {
		return nil, &Error{Code: InvalidParams, Message: "Tool name is required"}
	}

	s.log.Info("Tool call", "name", params.Name)

	result, err := s.handler.HandleTool(ctx, params.Name, params.Arguments)
	if err != nil {
		s.log.Error("Tool call failed", "name", params.Name, "error", err)
		return &CallToolResult{
			Content: []ContentBlock{TextContent(fmt.Sprintf("Error: %s", err.Error()))},
			IsError: true,
		}, nil
	}
	return result, nil
}

func (s *Server) listResources(context.Context, json.RawMessage) (interface{}, *Error) {
	resources := []Resource{}
	if s.resources != nil {
		resources = append(resources, s.resources.ListResources()...)
	}
	return ListResourcesResult{Resources: resources}, nil
}

func (s *Server) readResource(ctx context.Context, raw json.RawMessage) (interface{}, *Error) {
	var params ReadResourceParams
	if err := decodeParams(raw, &params, "resource read"); err != nil {
		return nil, err
	}

	notFound := &Error{Code: ResourceNotFound, Message: fmt.Sprintf("Resource not found: %s", params.URI)}
	if s.resources == nil {
		return nil, notFound
	}

	result, err := s.resources.ReadResource(ctx, params.URI)
	switch {
	case errors.Is(err, ErrResourceNotFound):
		return nil, notFound
	case err != nil:
		s.log.Error("Resource read failed", "uri", params.URI, "error", err)
		return nil, &Error{Code: InternalError, Message: "Resource read failed"}
	}
	return result, nil
}
