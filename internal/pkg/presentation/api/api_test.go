package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/matryer/is"
	"github.com/rs/zerolog"

	"github.com/hatchtrack/incubator-mgmt/internal/pkg/application/alerts"
	"github.com/hatchtrack/incubator-mgmt/internal/pkg/application/broadcast"
	"github.com/hatchtrack/incubator-mgmt/internal/pkg/application/devicemanagement"
	"github.com/hatchtrack/incubator-mgmt/internal/pkg/infrastructure/repositories/database"
	"github.com/hatchtrack/incubator-mgmt/internal/pkg/infrastructure/router"
	"github.com/hatchtrack/incubator-mgmt/internal/pkg/presentation/api/auth"
	"github.com/hatchtrack/incubator-mgmt/pkg/types"
)

func setupTest(t *testing.T) (*httptest.Server, database.Store, *broadcast.Registry, string) {
	t.Helper()

	ctx := context.Background()

	storage, err := database.New(database.NewSQLiteConnector(ctx))
	if err != nil {
		t.Fatalf("could not create in-memory database: %v", err)
	}

	registry := broadcast.New()
	tokenAuth := auth.NewTokenAuth("testsecret")

	r := router.New("testservice")
	RegisterHandlers(zerolog.Nop(), r, tokenAuth, devicemanagement.New(storage), alerts.New(storage), registry)

	server := httptest.NewServer(r)
	t.Cleanup(server.Close)

	_, token, err := tokenAuth.Encode(map[string]any{"sub": "tester"})
	if err != nil {
		t.Fatalf("could not encode token: %v", err)
	}

	return server, storage, registry, token
}

func doRequest(t *testing.T, method, url, token string, body any) (*http.Response, []byte) {
	t.Helper()

	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("could not marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("could not create request: %v", err)
	}

	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)

	return resp, respBody
}

func TestHealthEndpointReturnsNoContent(t *testing.T) {
	is := is.New(t)
	server, _, _, _ := setupTest(t)

	resp, _ := doRequest(t, http.MethodGet, server.URL+"/health", "", nil)
	is.Equal(resp.StatusCode, http.StatusNoContent)
}

func TestCreateDevice(t *testing.T) {
	is := is.New(t)
	server, _, _, token := setupTest(t)

	body := map[string]any{"device_id": "incubator-01", "name": "North barn", "description": "Shelf A"}

	resp, respBody := doRequest(t, http.MethodPost, server.URL+"/api/v0/devices", token, body)
	is.Equal(resp.StatusCode, http.StatusCreated)

	var created types.Device
	is.NoErr(json.Unmarshal(respBody, &created))
	is.Equal(created.DeviceID, "incubator-01")
	is.True(created.Active)

	resp, _ = doRequest(t, http.MethodPost, server.URL+"/api/v0/devices", token, body)
	is.Equal(resp.StatusCode, http.StatusBadRequest)
}

func TestCreateDeviceRequiresToken(t *testing.T) {
	is := is.New(t)
	server, _, _, _ := setupTest(t)

	body := map[string]any{"device_id": "incubator-01", "name": "North barn"}

	resp, _ := doRequest(t, http.MethodPost, server.URL+"/api/v0/devices", "", body)
	is.Equal(resp.StatusCode, http.StatusUnauthorized)

	resp, _ = doRequest(t, http.MethodPost, server.URL+"/api/v0/devices", "not-a-token", body)
	is.Equal(resp.StatusCode, http.StatusUnauthorized)
}

func TestCreateDeviceValidatesBody(t *testing.T) {
	is := is.New(t)
	server, _, _, token := setupTest(t)

	resp, _ := doRequest(t, http.MethodPost, server.URL+"/api/v0/devices", token, map[string]any{"name": "no id"})
	is.Equal(resp.StatusCode, http.StatusBadRequest)
}

func TestGetUnknownDeviceReturnsNotFound(t *testing.T) {
	is := is.New(t)
	server, _, _, _ := setupTest(t)

	resp, _ := doRequest(t, http.MethodGet, server.URL+"/api/v0/devices/nope", "", nil)
	is.Equal(resp.StatusCode, http.StatusNotFound)
}

func TestListAndPatchDevices(t *testing.T) {
	is := is.New(t)
	server, storage, _, token := setupTest(t)

	_, err := storage.FindOrCreateDevice(context.Background(), "incubator-01", "Auto-registered: incubator-01")
	is.NoErr(err)

	resp, respBody := doRequest(t, http.MethodGet, server.URL+"/api/v0/devices", "", nil)
	is.Equal(resp.StatusCode, http.StatusOK)

	var devices []types.Device
	is.NoErr(json.Unmarshal(respBody, &devices))
	is.Equal(len(devices), 1)

	patch := map[string]any{"name": "Renamed", "active": false}
	resp, respBody = doRequest(t, http.MethodPatch, server.URL+"/api/v0/devices/incubator-01", token, patch)
	is.Equal(resp.StatusCode, http.StatusOK)

	var updated types.Device
	is.NoErr(json.Unmarshal(respBody, &updated))
	is.Equal(updated.Name, "Renamed")
	is.True(!updated.Active)
}

func TestDeleteDevice(t *testing.T) {
	is := is.New(t)
	server, storage, _, token := setupTest(t)

	_, err := storage.FindOrCreateDevice(context.Background(), "incubator-01", "Auto-registered: incubator-01")
	is.NoErr(err)

	resp, _ := doRequest(t, http.MethodDelete, server.URL+"/api/v0/devices/incubator-01", token, nil)
	is.Equal(resp.StatusCode, http.StatusNoContent)

	resp, _ = doRequest(t, http.MethodDelete, server.URL+"/api/v0/devices/incubator-01", token, nil)
	is.Equal(resp.StatusCode, http.StatusNotFound)
}

func TestGetTelemetryHistory(t *testing.T) {
	is := is.New(t)
	server, storage, _, _ := setupTest(t)

	ctx := context.Background()
	device, err := storage.FindOrCreateDevice(ctx, "incubator-01", "Auto-registered: incubator-01")
	is.NoErr(err)

	now := time.Now().UTC()
	is.NoErr(storage.AddReading(ctx, &database.Reading{DeviceID: device.ID, TempC: 37.5, RecordedAt: now, ReceivedAt: now}))
	is.NoErr(storage.AddReading(ctx, &database.Reading{DeviceID: device.ID, TempC: 36.9, RecordedAt: now.Add(-30 * 24 * time.Hour), ReceivedAt: now}))

	resp, respBody := doRequest(t, http.MethodGet, server.URL+"/api/v0/devices/incubator-01/telemetry", "", nil)
	is.Equal(resp.StatusCode, http.StatusOK)

	var history types.TelemetryHistory
	is.NoErr(json.Unmarshal(respBody, &history))
	is.Equal(history.DeviceID, "incubator-01")
	// The default window is 24 hours, so the old reading is excluded
	is.Equal(history.Count, 1)
	is.Equal(history.Readings[0].TempC, 37.5)
}

func TestCreateRuleDefaultsAndValidation(t *testing.T) {
	is := is.New(t)
	server, storage, _, token := setupTest(t)

	_, err := storage.FindOrCreateDevice(context.Background(), "incubator-01", "Auto-registered: incubator-01")
	is.NoErr(err)

	resp, respBody := doRequest(t, http.MethodPost, server.URL+"/api/v0/devices/incubator-01/rules", token, map[string]any{})
	is.Equal(resp.StatusCode, http.StatusCreated)

	var rule types.AlertRule
	is.NoErr(json.Unmarshal(respBody, &rule))
	is.Equal(rule.TempMin, alerts.DefaultTempMin)
	is.Equal(rule.TempMax, alerts.DefaultTempMax)
	is.True(rule.Active)

	resp, _ = doRequest(t, http.MethodPost, server.URL+"/api/v0/devices/incubator-01/rules", token,
		map[string]any{"temp_min": 40.0, "temp_max": 36.0})
	is.Equal(resp.StatusCode, http.StatusBadRequest)

	resp, _ = doRequest(t, http.MethodPost, server.URL+"/api/v0/devices/unknown/rules", token, map[string]any{})
	is.Equal(resp.StatusCode, http.StatusNotFound)

	resp, respBody = doRequest(t, http.MethodGet, server.URL+"/api/v0/devices/incubator-01/rules", "", nil)
	is.Equal(resp.StatusCode, http.StatusOK)

	var rules []types.AlertRule
	is.NoErr(json.Unmarshal(respBody, &rules))
	is.Equal(len(rules), 1)
}

func TestDeleteRule(t *testing.T) {
	is := is.New(t)
	server, storage, _, token := setupTest(t)

	device, err := storage.FindOrCreateDevice(context.Background(), "incubator-01", "Auto-registered: incubator-01")
	is.NoErr(err)

	rule := database.AlertRule{DeviceID: device.ID, TempMin: 35, TempMax: 39, Active: true}
	is.NoErr(storage.AddAlertRule(context.Background(), &rule))

	url := fmt.Sprintf("%s/api/v0/devices/incubator-01/rules/%d", server.URL, rule.ID)

	resp, _ := doRequest(t, http.MethodDelete, url, token, nil)
	is.Equal(resp.StatusCode, http.StatusNoContent)

	resp, _ = doRequest(t, http.MethodDelete, url, token, nil)
	is.Equal(resp.StatusCode, http.StatusNotFound)
}

func TestAlertAcknowledgeFlow(t *testing.T) {
	is := is.New(t)
	server, storage, _, _ := setupTest(t)

	ctx := context.Background()
	device, err := storage.FindOrCreateDevice(ctx, "incubator-01", "Auto-registered: incubator-01")
	is.NoErr(err)

	rule := database.AlertRule{DeviceID: device.ID, TempMin: 35, TempMax: 39, Active: true}
	is.NoErr(storage.AddAlertRule(ctx, &rule))

	alert := database.Alert{
		DeviceID: device.ID, RuleID: rule.ID, TempC: 34.2,
		Kind: types.AlertKindLow, Message: "Temperature 34.2°C is below minimum 35°C",
		TriggeredAt: time.Now().UTC(),
	}
	is.NoErr(storage.AddAlert(ctx, &alert))

	resp, respBody := doRequest(t, http.MethodGet, server.URL+"/api/v0/alerts?unacknowledged_only=true", "", nil)
	is.Equal(resp.StatusCode, http.StatusOK)

	var list []types.Alert
	is.NoErr(json.Unmarshal(respBody, &list))
	is.Equal(len(list), 1)
	is.Equal(list[0].DeviceID, "incubator-01")

	ackURL := fmt.Sprintf("%s/api/v0/alerts/%d/acknowledge", server.URL, alert.ID)

	resp, respBody = doRequest(t, http.MethodPatch, ackURL, "", nil)
	is.Equal(resp.StatusCode, http.StatusOK)

	var acked types.Alert
	is.NoErr(json.Unmarshal(respBody, &acked))
	is.True(acked.Acknowledged)
	is.True(acked.AcknowledgedAt != nil)

	resp, _ = doRequest(t, http.MethodPatch, server.URL+"/api/v0/alerts/9999/acknowledge", "", nil)
	is.Equal(resp.StatusCode, http.StatusNotFound)

	resp, respBody = doRequest(t, http.MethodGet, server.URL+"/api/v0/alerts?unacknowledged_only=true", "", nil)
	is.Equal(resp.StatusCode, http.StatusOK)
	is.NoErr(json.Unmarshal(respBody, &list))
	is.Equal(len(list), 0)
}

func TestAlertHousekeepingEndpointsRequireToken(t *testing.T) {
	is := is.New(t)
	server, storage, _, token := setupTest(t)

	ctx := context.Background()
	device, err := storage.FindOrCreateDevice(ctx, "incubator-01", "Auto-registered: incubator-01")
	is.NoErr(err)

	rule := database.AlertRule{DeviceID: device.ID, TempMin: 35, TempMax: 39, Active: true}
	is.NoErr(storage.AddAlertRule(ctx, &rule))

	for i := 0; i < 3; i++ {
		is.NoErr(storage.AddAlert(ctx, &database.Alert{
			DeviceID: device.ID, RuleID: rule.ID, TempC: 34.0,
			Kind: types.AlertKindLow, Message: "too cold", TriggeredAt: time.Now().UTC(),
		}))
	}

	resp, _ := doRequest(t, http.MethodDelete, server.URL+"/api/v0/alerts", "", nil)
	is.Equal(resp.StatusCode, http.StatusUnauthorized)

	resp, respBody := doRequest(t, http.MethodPatch, server.URL+"/api/v0/alerts/acknowledge-all", "", nil)
	is.Equal(resp.StatusCode, http.StatusOK)

	var counts map[string]int64
	is.NoErr(json.Unmarshal(respBody, &counts))
	is.Equal(counts["acknowledged"], int64(3))

	resp, respBody = doRequest(t, http.MethodDelete, server.URL+"/api/v0/alerts/acknowledged", token, nil)
	is.Equal(resp.StatusCode, http.StatusOK)
	is.NoErr(json.Unmarshal(respBody, &counts))
	is.Equal(counts["deleted"], int64(3))
}
