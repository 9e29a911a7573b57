package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"field-control-backend/config"
	"field-control-backend/internal/commands"
	"field-control-backend/internal/db"
	"field-control-backend/internal/interlock"
	"field-control-backend/internal/model"
	"field-control-backend/internal/store"
)

func init() {
	gin.SetMode(gin.TestMode)
}

var testServerConfig = config.ServerConfig{
	RateLimitPerSec: 1000,
	RateLimitBurst:  1000,
	CacheTTLSeconds: 60,
	CommandListSize: 50,
}

type testAPI struct {
	router *gin.Engine
	store  store.Store
}

func setupRouter(t *testing.T) *testAPI {
	st := store.NewGormStore(db.NewTestSQLite(t))
	il := interlock.New(config.InterlockConfig{
		Actuators:    []string{"pump", "solenoid"},
		FloatSensor:  "float",
		UnsafeValues: []float64{0},
	}, st, zerolog.Nop())
	svc := commands.NewService(st, il, nil, zerolog.Nop())
	h := NewHandler(svc, st, st, testServerConfig.CommandListSize, zerolog.Nop())
	return &testAPI{router: NewRouter(h, testServerConfig, zerolog.Nop()), store: st}
}

func (a *testAPI) do(t *testing.T, method, path string, body any) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(b))
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}

	w := httptest.NewRecorder()
	req, _ := http.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	a.router.ServeHTTP(w, req)

	var out map[string]any
	if w.Body.Len() > 0 {
		_ = json.Unmarshal(w.Body.Bytes(), &out)
	}
	return w, out
}

func commandField(t *testing.T, out map[string]any, field string) any {
	t.Helper()
	cmd, ok := out["command"].(map[string]any)
	require.True(t, ok, "response has a command object: %v", out)
	return cmd[field]
}

func TestPostCommand(t *testing.T) {
	a := setupRouter(t)

	testCases := []struct {
		name       string
		body       any
		wantStatus int
		wantError  string
	}{
		{"Accepted", gin.H{"deviceId": "dev-1", "actuator": "fan", "action": "on"}, http.StatusCreated, ""},
		{"Bad action", gin.H{"deviceId": "dev-1", "actuator": "fan", "action": "blink"}, http.StatusBadRequest, "InvalidInput"},
		{"Missing device", gin.H{"actuator": "fan", "action": "on"}, http.StatusBadRequest, "InvalidInput"},
		{"Broken body", `{"deviceId":`, http.StatusBadRequest, "InvalidInput"},
		{"Blocked by interlock", gin.H{"deviceId": "dev-1", "actuator": "pump", "action": "on"}, http.StatusConflict, "InterlockBlocked"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			w, out := a.do(t, http.MethodPost, "/command", tc.body)
			assert.Equal(t, tc.wantStatus, w.Code)
			if tc.wantError != "" {
				assert.Equal(t, tc.wantError, out["error"])
			} else {
				assert.Equal(t, "pending", out["status"])
				assert.NotZero(t, out["commandId"])
			}
		})
	}

	_, out := a.do(t, http.MethodPost, "/command", gin.H{"deviceId": "dev-9", "actuator": "solenoid", "action": "on"})
	assert.Contains(t, out["reason"], "no float sensor reading")
}

func TestDeviceProtocol(t *testing.T) {
	a := setupRouter(t)

	_, created := a.do(t, http.MethodPost, "/command", gin.H{"deviceId": "dev-1", "actuator": "fan", "action": "on"})
	id := created["commandId"]

	w, _ := a.do(t, http.MethodGet, "/device-commands/next", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, out := a.do(t, http.MethodGet, "/device-commands/next?deviceId=dev-1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, id, commandField(t, out, "id"))
	assert.Equal(t, "dispatched", commandField(t, out, "status"))

	w, out = a.do(t, http.MethodGet, "/device-commands/next?deviceId=dev-1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, out, "command")
	assert.Nil(t, out["command"])

	path := fmt.Sprintf("/device-commands/%v/ack", id)
	w, out = a.do(t, http.MethodPost, path, gin.H{"status": "completed", "message": "ok", "payload": gin.H{"relay": 1}})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "done", commandField(t, out, "status"))
	assert.Equal(t, "ok", commandField(t, out, "responseMessage"))

	w, out = a.do(t, http.MethodPost, path, gin.H{"status": "failed"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "done", commandField(t, out, "status"), "second ack is a no-op")

	w, out = a.do(t, http.MethodPost, path, gin.H{"status": "maybe"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "InvalidInput", out["error"])

	w, _ = a.do(t, http.MethodPost, "/device-commands/999/ack", gin.H{"status": "completed"})
	assert.Equal(t, http.StatusNotFound, w.Code)

	w, _ = a.do(t, http.MethodPost, "/device-commands/abc/ack", gin.H{"status": "completed"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	_, pending := a.do(t, http.MethodPost, "/command", gin.H{"deviceId": "dev-1", "actuator": "fan", "action": "off"})
	w, out = a.do(t, http.MethodPost, fmt.Sprintf("/device-commands/%v/ack", pending["commandId"]), gin.H{"status": "completed"})
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "InvalidTransition", out["error"])

	w, out = a.do(t, http.MethodGet, "/command/status?device_id=dev-1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	list, ok := out["commands"].([]any)
	require.True(t, ok)
	require.Len(t, list, 2)
	assert.Equal(t, "pending", list[0].(map[string]any)["status"])
	assert.Equal(t, "done", list[1].(map[string]any)["status"])

	w, _ = a.do(t, http.MethodGet, "/command/status", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestReclaim(t *testing.T) {
	a := setupRouter(t)

	_, created := a.do(t, http.MethodPost, "/command", gin.H{"deviceId": "dev-1", "actuator": "fan", "action": "on"})
	path := fmt.Sprintf("/device-commands/%v/reclaim", created["commandId"])

	w, out := a.do(t, http.MethodPost, path, nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "InvalidTransition", out["error"])

	a.do(t, http.MethodGet, "/device-commands/next?deviceId=dev-1", nil)

	w, out = a.do(t, http.MethodPost, path, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "done", commandField(t, out, "status"))
	assert.Equal(t, commands.ReclaimMessage, commandField(t, out, "responseMessage"))

	w, _ = a.do(t, http.MethodPost, "/device-commands/77/reclaim", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestLatestTelemetryAndInterlock(t *testing.T) {
	a := setupRouter(t)
	ctx := context.Background()

	require.NoError(t, a.store.UpsertSnapshots(ctx, []model.TelemetrySnapshot{
		{DeviceID: "dev-1", SensorID: "float-1", Type: model.SensorOther, Value: 1, ObservedAt: time.Now().UTC()},
		{DeviceID: "dev-1", SensorID: "t1", Type: model.SensorTemperature, Value: 22.5, Unit: "C", ObservedAt: time.Now().UTC()},
	}))

	w, out := a.do(t, http.MethodGet, "/telemetry/latest?deviceId=dev-1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	snaps, ok := out["snapshots"].([]any)
	require.True(t, ok)
	assert.Len(t, snaps, 2)

	w, _ = a.do(t, http.MethodGet, "/telemetry/latest?deviceId=dev-1", nil)
	assert.Equal(t, "HIT", w.Header().Get("X-Cache"))

	w, _ = a.do(t, http.MethodGet, "/telemetry/latest", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, _ = a.do(t, http.MethodPost, "/command", gin.H{"deviceId": "dev-1", "actuator": "pump", "action": "on"})
	assert.Equal(t, http.StatusCreated, w.Code, "float sensor reports water")
}

func TestHealthAndMetrics(t *testing.T) {
	a := setupRouter(t)

	w, out := a.do(t, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", out["status"])

	w, _ = a.do(t, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get("X-Request-Id"))
}

type downService struct {
	CommandService
}

func (downService) IssueCommand(context.Context, commands.IssueRequest) (*model.Command, error) {
	return nil, fmt.Errorf("%w: dial tcp: connection refused", commands.ErrStoreUnavailable)
}

type downPinger struct{}

func (downPinger) Ping(context.Context) error { return errors.New("connection refused") }

func TestStoreUnavailable(t *testing.T) {
	h := NewHandler(downService{}, nil, downPinger{}, 10, zerolog.Nop())
	r := NewRouter(h, testServerConfig, zerolog.Nop())
	a := &testAPI{router: r}

	w, out := a.do(t, http.MethodPost, "/command", gin.H{"deviceId": "dev-1", "actuator": "fan", "action": "on"})
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "StoreUnavailable", out["error"])

	w, _ = a.do(t, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}
