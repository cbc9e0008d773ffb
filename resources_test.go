package main

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CaseyRo/ha-bosch/internal/coordinator"
	"github.com/CaseyRo/ha-bosch/internal/entry"
	"github.com/CaseyRo/ha-bosch/internal/oauth"
)

// fakeGatewayAPI serves a small resource tree for testDevice.
type fakeGatewayAPI struct {
	mu      sync.Mutex
	nodes   map[string]any
	denyAll bool
	puts    map[string]any
}

func newFakeGatewayAPI() *fakeGatewayAPI {
	return &fakeGatewayAPI{
		nodes: map[string]any{
			"/gateway/DateTime": map[string]any{"id": "/gateway/DateTime", "type": "stringValue", "value": "2025-01-01T10:00:00"},
			"/gateway": map[string]any{
				"id":   "/gateway",
				"type": "refEnum",
				"references": []any{
					map[string]any{"id": "/gateway/versionFirmware"},
					map[string]any{"id": "/gateway/uuid"},
				},
			},
			"/gateway/versionFirmware": map[string]any{"id": "/gateway/versionFirmware", "type": "stringValue", "value": "05.04.00"},
			"/gateway/uuid":            map[string]any{"id": "/gateway/uuid", "type": "stringValue", "value": "1234-5678"},
		},
		puts: map[string]any{},
	}
}

func (f *fakeGatewayAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	prefix := "/gateways/" + testDevice + "/resource/"
	if !strings.HasPrefix(r.URL.Path, prefix) {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	path := "/" + strings.TrimPrefix(r.URL.Path, prefix)

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.denyAll || r.Header.Get("Authorization") != "Bearer access" {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	if r.Method == http.MethodPut {
		var body struct {
			Value any `json:"value"`
		}

		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &body)
		f.puts[path] = body.Value
		w.WriteHeader(http.StatusNoContent)

		return
	}

	node, ok := f.nodes[path]
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(node)
}

func (f *fakeGatewayAPI) deny() {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.denyAll = true
}

func (f *fakeGatewayAPI) written(path string) (any, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	v, ok := f.puts[path]

	return v, ok
}

// newGatewayCLI points the CLI at api, limits polling to /gateway and
// stores an entry with a fresh token for testDevice.
func newGatewayCLI(t *testing.T, api http.Handler) *testCLI {
	t.Helper()

	srv := httptest.NewServer(api)
	t.Cleanup(srv.Close)

	tc := newTestCLI(t, "[polling]\nroots = [\"/gateway\"]\n[api]\nbase_url = \""+srv.URL+"/gateways/\"\ntoken_url = \""+srv.URL+"/token\"\n")

	e, err := entry.New(testDevice, oauth.Token{
		AccessToken:  "access",
		RefreshToken: "refresh",
		ExpiresAt:    time.Now().Add(time.Hour).UTC().Format(time.RFC3339),
	})
	require.NoError(t, err)
	require.NoError(t, entry.Save(entry.Path(filepath.Join(tc.dataDir, "entries"), testDevice), e))

	return tc
}

func TestGet(t *testing.T) {
	tc := newGatewayCLI(t, newFakeGatewayAPI())

	out, err := tc.run(t, "", "get", "--device", testDevice, "gateway/versionFirmware")
	require.NoError(t, err)

	var body map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &body))
	assert.Equal(t, "05.04.00", body["value"])
}

func TestGet_UnknownDevice(t *testing.T) {
	tc := newGatewayCLI(t, newFakeGatewayAPI())

	_, err := tc.run(t, "", "get", "--device", "999", "/gateway")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no gateway 999 is configured")
}

func TestGet_AuthFailureNeedsLogin(t *testing.T) {
	api := newFakeGatewayAPI()
	api.deny()
	tc := newGatewayCLI(t, api)

	_, err := tc.run(t, "", "get", "--device", testDevice, "/gateway")
	require.ErrorIs(t, err, errReauthRequired)
	assert.True(t, coordinator.IsAuthFailure(err))
	assert.Contains(t, err.Error(), "ha-bosch login --device "+testDevice)
}

func TestPut(t *testing.T) {
	api := newFakeGatewayAPI()
	tc := newGatewayCLI(t, api)

	_, err := tc.run(t, "", "put", "--device", testDevice, "/heatingCircuits/hc1/boostMode", "on")
	require.NoError(t, err)

	_, err = tc.run(t, "", "put", "--device", testDevice, "/zones/zn1/manualTemperatureHeating", "21.5")
	require.NoError(t, err)

	v, ok := api.written("/heatingCircuits/hc1/boostMode")
	require.True(t, ok)
	assert.Equal(t, "on", v)

	v, ok = api.written("/zones/zn1/manualTemperatureHeating")
	require.True(t, ok)
	assert.InDelta(t, 21.5, v, 0.0001)
}

func TestParseValue(t *testing.T) {
	tests := []struct {
		in   string
		want any
	}{
		{"21.5", 21.5},
		{"0", float64(0)},
		{"true", true},
		{"on", "on"},
		{`"quoted"`, "quoted"},
		{"[1,2]", "[1,2]"},
		{`{"a":1}`, `{"a":1}`},
		{"null", "null"},
		{"", ""},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, parseValue(tt.in), "input %q", tt.in)
	}
}

func TestResourcePath(t *testing.T) {
	assert.Equal(t, "/gateway", resourcePath("gateway"))
	assert.Equal(t, "/gateway", resourcePath("/gateway"))
	assert.Equal(t, "/gateway", resourcePath("//gateway"))
}

func TestSnapshot_Table(t *testing.T) {
	tc := newGatewayCLI(t, newFakeGatewayAPI())

	out, err := tc.run(t, "", "snapshot", "--device", testDevice)
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 4)
	assert.True(t, strings.HasPrefix(lines[0], "PATH"))
	assert.Contains(t, out, "/gateway/versionFirmware")
	assert.Contains(t, out, "05.04.00")
}

func TestSnapshot_JSON(t *testing.T) {
	tc := newGatewayCLI(t, newFakeGatewayAPI())

	out, err := tc.run(t, "", "--json", "snapshot", "--device", testDevice)
	require.NoError(t, err)
	assert.Contains(t, out, `"/gateway/versionFirmware"`)
	assert.True(t, json.Valid([]byte(out)))
}

func TestDiagnostics_Redacts(t *testing.T) {
	tc := newGatewayCLI(t, newFakeGatewayAPI())

	out, err := tc.run(t, "", "diagnostics", "--device", testDevice)
	require.NoError(t, err)

	var report map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &report))

	cfg, ok := report["config_entry"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, testDevice, cfg["device_id"])
	assert.NotContains(t, out, `"access"`)
	assert.NotContains(t, out, `"refresh"`)
	assert.Contains(t, out, `"access_token": "**REDACTED**"`)

	data, ok := report["coordinator_data"].(map[string]any)
	require.True(t, ok)
	assert.Contains(t, data, "/gateway/versionFirmware")
}

func TestDiagnostics_YAML(t *testing.T) {
	tc := newGatewayCLI(t, newFakeGatewayAPI())

	out, err := tc.run(t, "", "diagnostics", "--device", testDevice, "--format", "yaml")
	require.NoError(t, err)
	assert.Contains(t, out, "config_entry:")
	assert.Contains(t, out, "/gateway/versionFirmware:")
	assert.NotContains(t, out, "refresh_token: refresh")
}

func TestDiagnostics_OfflineStillRenders(t *testing.T) {
	api := newFakeGatewayAPI()
	api.deny()
	tc := newGatewayCLI(t, api)

	out, err := tc.run(t, "", "diagnostics", "--device", testDevice)
	require.NoError(t, err)
	assert.Contains(t, out, `"coordinator_data": null`)
	assert.Contains(t, out, `"available": false`)
}

func TestDiagnostics_UnknownFormat(t *testing.T) {
	tc := newGatewayCLI(t, newFakeGatewayAPI())

	_, err := tc.run(t, "", "diagnostics", "--device", testDevice, "--format", "xml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown format")
}

func TestFormatValue(t *testing.T) {
	assert.Equal(t, "-", formatValue(nil))
	assert.Equal(t, "on", formatValue("on"))
	assert.Equal(t, "21.5", formatValue(21.5))
	assert.Equal(t, "true", formatValue(true))
	assert.Equal(t, `[1,2]`, formatValue([]any{1, 2}))
	assert.Equal(t, `{"a":"b"}`, formatValue(map[string]any{"a": "b"}))
}
