package mcp

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
)

// ErrParse wraps lines that are not valid JSON-RPC.
var ErrParse = errors.New("parse error")

// Transport frames JSON-RPC messages as one JSON document per line.
// Writes are serialized so notifications never interleave with responses.
type Transport struct {
	reader *bufio.Reader
	log    *slog.Logger

	mu  sync.Mutex
	enc *json.Encoder
}

// NewTransport creates a line-delimited transport over reader and writer.
func NewTransport(reader io.Reader, writer io.Writer, log *slog.Logger) *Transport {
	return &Transport{
		reader: bufio.NewReader(reader),
		log:    log,
		enc:    json.NewEncoder(writer),
	}
}

// ReadMessage returns the next message, skipping blank lines. It returns
// io.EOF once the input is exhausted; a final line without a newline is
// still delivered.
func (t *Transport) ReadMessage() (*Request, error) {
	for {
		line, err := t.reader.ReadBytes('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("failed to read message: %w", err)
		}

		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			if err != nil {
				return nil, io.EOF
			}
			continue
		}

		t.log.Debug("received message", "raw", string(line))

		var req Request
		if jerr := json.Unmarshal(line, &req); jerr != nil {
			return nil, fmt.Errorf("%w: %v", ErrParse, jerr)
		}
		return &req, nil
	}
}

// SendResult answers request id with result.
func (t *Transport) SendResult(id interface{}, result interface{}) error {
	return t.send(&Response{JSONRPC: jsonRPCVersion, ID: id, Result: result})
}

// SendError answers request id with a JSON-RPC error.
func (t *Transport) SendError(id interface{}, code int, message string, data interface{}) error {
	return t.send(&Response{
		JSONRPC: jsonRPCVersion,
		ID:      id,
		Error:   &Error{Code: code, Message: message, Data: data},
	})
}

// SendNotification sends a message that expects no response.
func (t *Transport) SendNotification(method string, params interface{}) error {
	raw, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("failed to marshal %s params: %w", method, err)
	}
	return t.send(&Request{JSONRPC: jsonRPCVersion, Method: method, Params: raw})
}

// send writes msg and its trailing newline in one encoder call.
func (t *Transport) send(msg interface{}) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.enc.Encode(msg); err != nil {
		return fmt.Errorf("failed to write message: %w", err)
	}
	return nil
}
