package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ihiteshgupta/call-coordinator/internal/call"
	"github.com/ihiteshgupta/call-coordinator/internal/coordinator"
	"github.com/ihiteshgupta/call-coordinator/internal/health"
	"github.com/ihiteshgupta/call-coordinator/internal/state"
	"github.com/ihiteshgupta/call-coordinator/internal/store"
)

type fakeController struct {
	state   coordinator.CallState
	err     error
	calls   []string
	started coordinator.StartRequest
	callID  string
	muted   *bool
	limit   int
}

func (f *fakeController) record(name string) error {
	f.calls = append(f.calls, name)
	return f.err
}

func (f *fakeController) State() coordinator.CallState { return f.state }

func (f *fakeController) StartCall(_ context.Context, req coordinator.StartRequest) error {
	f.started = req
	return f.record("start")
}

func (f *fakeController) AnswerCall(_ context.Context, callID string) error {
	f.callID = callID
	return f.record("answer")
}

func (f *fakeController) RejectCall(_ context.Context, callID string) error {
	f.callID = callID
	return f.record("reject")
}

func (f *fakeController) EndCall(context.Context) error { return f.record("end") }

func (f *fakeController) SetMuted(_ context.Context, muted bool) error {
	f.muted = &muted
	return f.record("set_muted")
}

func (f *fakeController) ToggleMute(context.Context) (bool, error) {
	return true, f.record("toggle_mute")
}

func (f *fakeController) Minimize(context.Context) error     { return f.record("minimize") }
func (f *fakeController) ReturnToCall(context.Context) error { return f.record("return") }
func (f *fakeController) Activate(context.Context) error     { return f.record("activate") }

func (f *fakeController) History(_ context.Context, callID string, limit int) ([]store.Transition, error) {
	f.callID, f.limit = callID, limit
	if f.err != nil {
		return nil, f.err
	}
	return []store.Transition{{CallID: callID, FromState: state.StateIdle, ToState: state.StateRinging, Trigger: "incoming"}}, nil
}

type fakeHealth struct{}

func (fakeHealth) GetStatus() health.Status {
	return health.Status{Phase: "idle", CallsStarted: 3}
}

func newTestRouter(ctrl *fakeController) *gin.Engine {
	gin.SetMode(gin.TestMode)
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewRouter(Handlers{Calls: ctrl, Health: fakeHealth{}}, log)
}

func do(r *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rd)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestHealthz(t *testing.T) {
	r := newTestRouter(&fakeController{})

	w := do(r, http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Status      string        `json:"status"`
		Coordinator health.Status `json:"coordinator"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "ok", body.Status)
	assert.Equal(t, int64(3), body.Coordinator.CallsStarted)
}

func TestGetCall(t *testing.T) {
	ctrl := &fakeController{state: coordinator.CallState{Phase: state.StateRinging, CallID: "c1"}}
	r := newTestRouter(ctrl)

	w := do(r, http.MethodGet, "/v1/call", "")
	require.Equal(t, http.StatusOK, w.Code)

	var got coordinator.CallState
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, state.StateRinging, got.Phase)
	assert.Equal(t, "c1", got.CallID)
}

func TestStartCall(t *testing.T) {
	ctrl := &fakeController{}
	r := newTestRouter(ctrl)

	w := do(r, http.MethodPost, "/v1/call/start", `{"target_user_id":"bob","call_type":"video"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "bob", ctrl.started.TargetUserID)
	assert.Equal(t, call.TypeVideo, ctrl.started.CallType)

	w = do(r, http.MethodPost, "/v1/call/start", `{"target_user_id":"bob","call_type":"fax"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCommands_ErrorMapping(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"ok", nil, http.StatusOK},
		{"busy", coordinator.ErrBusy, http.StatusConflict},
		{"no incoming", coordinator.ErrNoIncomingCall, http.StatusConflict},
		{"invalid", coordinator.ErrInvalidRequest, http.StatusBadRequest},
		{"stopped", coordinator.ErrStopped, http.StatusServiceUnavailable},
		{"internal", errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctrl := &fakeController{err: tt.err}
			r := newTestRouter(ctrl)

			w := do(r, http.MethodPost, "/v1/call/answer", `{"call_id":"c1"}`)
			assert.Equal(t, tt.want, w.Code)
			assert.Equal(t, "c1", ctrl.callID)
		})
	}
}

func TestCommands_Routes(t *testing.T) {
	tests := []struct {
		path string
		body string
		want string
	}{
		{"/v1/call/answer", "", "answer"},
		{"/v1/call/reject", `{"call_id":"c1"}`, "reject"},
		{"/v1/call/end", "", "end"},
		{"/v1/call/return", "", "return"},
		{"/v1/call/minimize", "", "minimize"},
		{"/v1/call/mute", "", "toggle_mute"},
		{"/v1/call/mute", `{"muted":false}`, "set_muted"},
		{"/v1/app/foreground", "", "activate"},
	}

	for _, tt := range tests {
		t.Run(tt.path+tt.body, func(t *testing.T) {
			ctrl := &fakeController{}
			r := newTestRouter(ctrl)

			w := do(r, http.MethodPost, tt.path, tt.body)
			require.Equal(t, http.StatusOK, w.Code)
			assert.Equal(t, []string{tt.want}, ctrl.calls)
		})
	}
}

func TestMute_SetsValue(t *testing.T) {
	ctrl := &fakeController{}
	r := newTestRouter(ctrl)

	w := do(r, http.MethodPost, "/v1/call/mute", `{"muted":true}`)
	require.Equal(t, http.StatusOK, w.Code)
	require.NotNil(t, ctrl.muted)
	assert.True(t, *ctrl.muted)
}

func TestHistory(t *testing.T) {
	ctrl := &fakeController{}
	r := newTestRouter(ctrl)

	w := do(r, http.MethodGet, "/v1/calls/c9/history?limit=5", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "c9", ctrl.callID)
	assert.Equal(t, 5, ctrl.limit)

	var body struct {
		CallID      string             `json:"call_id"`
		Transitions []store.Transition `json:"transitions"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Len(t, body.Transitions, 1)
	assert.Equal(t, state.StateRinging, body.Transitions[0].ToState)

	w = do(r, http.MethodGet, "/v1/calls/c9/history?limit=zero", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	ctrl.err = errors.New("db closed")
	w = do(r, http.MethodGet, "/v1/calls/c9/history", "")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}
