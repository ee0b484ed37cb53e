package cli

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fakeAPI(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/devices", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer admin-token", r.Header.Get("Authorization"))
		assert.Equal(t, "pull", r.URL.Query().Get("delivery"))
		w.Write([]byte(`[{"id":"65f1c0ffee0123456789abcd","name":"Gate","delivery":"pull","identity":"GATE-1","status":"active","last_sync_at":null,"consecutive_failures":0}]`))
	})
	mux.HandleFunc("POST /api/devices/{id}/sync", func(w http.ResponseWriter, r *http.Request) {
		if r.PathValue("id") == "down" {
			w.WriteHeader(http.StatusBadGateway)
			w.Write([]byte(`{"device_name":"Down","error":"device unreachable: timeout"}`))
			return
		}
		w.Write([]byte(`{"device_name":"Gate","fetched":3,"applied":2,"rejected":1,"watermark_advanced":true}`))
	})
	mux.HandleFunc("POST /api/devices/sync", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[{"device_name":"Gate","applied":1,"watermark_advanced":true},{"device_name":"Down","error":"timeout"}]`))
	})
	mux.HandleFunc("POST /api/devices/{id}/test", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"reachable":true,"status":"active"}`))
	})
	mux.HandleFunc("GET /api/devices/events/unresolved", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "5", r.URL.Query().Get("limit"))
		w.Write([]byte(`[{"status":"unresolved","employee_code":"NOPE","reason":"person not resolved","received_at":"2026-03-02T09:00:00Z"}]`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func run(t *testing.T, srv *httptest.Server, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append([]string{"--server", srv.URL, "--token", "admin-token"}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func TestCommandPresence(t *testing.T) {
	cmd := NewRootCommand()
	for _, name := range []string{"sync", "probe", "devices", "unresolved"} {
		t.Run(name, func(t *testing.T) {
			sub, _, err := cmd.Find([]string{name})
			require.NoError(t, err)
			assert.Equal(t, name, sub.Name())
		})
	}
}

func TestSyncOne(t *testing.T) {
	srv := fakeAPI(t)

	out, err := run(t, srv, "sync", "gate")
	require.NoError(t, err)
	assert.Contains(t, out, "Gate")
	assert.Contains(t, out, "advanced")

	out, err = run(t, srv, "sync", "down")
	require.Error(t, err)
	assert.Contains(t, out, "Down")
	assert.Contains(t, out, "kept")
}

func TestSyncAll(t *testing.T) {
	srv := fakeAPI(t)

	out, err := run(t, srv, "--format", "json", "sync", "--all")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 of 2 devices failed")

	var reports []map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &reports))
	assert.Len(t, reports, 2)
}

func TestSyncArgs(t *testing.T) {
	srv := fakeAPI(t)
	_, err := run(t, srv, "sync")
	assert.Error(t, err)
	_, err = run(t, srv, "sync", "gate", "--all")
	assert.Error(t, err)
}

func TestDevicesAndUnresolved(t *testing.T) {
	srv := fakeAPI(t)

	out, err := run(t, srv, "devices", "--delivery", "pull")
	require.NoError(t, err)
	assert.Contains(t, out, "65f1c0ffee0123456789abcd")
	assert.Contains(t, out, "never")

	out, err = run(t, srv, "unresolved", "--limit", "5")
	require.NoError(t, err)
	assert.Contains(t, out, "NOPE")

	out, err = run(t, srv, "probe", "gate")
	require.NoError(t, err)
	assert.Contains(t, out, "reachable")
}

func TestInvalidFormat(t *testing.T) {
	srv := fakeAPI(t)
	_, err := run(t, srv, "--format", "xml", "devices")
	assert.Error(t, err)
}
