package device

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"academy-attendance/internal/model"
)

func TestFetchLogs(t *testing.T) {
	var gotSince, gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/attendance/logs", r.URL.Path)
		gotSince = r.URL.Query().Get("since")
		gotAuth = r.Header.Get("Authorization")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"logs":[{"pin":"1","timestamp":"2026-03-02T09:00:00Z"},{"pin":"2","timestamp":"2026-03-02T09:01:00Z"}]}`))
	}))
	defer srv.Close()

	since := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
	d := &model.BiometricDevice{Address: srv.URL, Credential: "secret"}
	logs, err := NewClient(time.Second).FetchLogs(context.Background(), d, &since)
	require.NoError(t, err)
	require.Len(t, logs, 2)
	assert.JSONEq(t, `{"pin":"1","timestamp":"2026-03-02T09:00:00Z"}`, string(logs[0]))
	assert.Equal(t, "2026-03-02T08:00:00Z", gotSince)
	assert.Equal(t, "Bearer secret", gotAuth)
}

func TestFetchLogs_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	d := &model.BiometricDevice{Address: srv.URL}
	_, err := NewClient(50*time.Millisecond).FetchLogs(context.Background(), d, nil)
	assert.ErrorIs(t, err, ErrUnreachable)
}

func TestFetchLogs_APIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "denied", http.StatusUnauthorized)
	}))
	defer srv.Close()

	_, err := NewClient(time.Second).FetchLogs(context.Background(), &model.BiometricDevice{Address: srv.URL}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "401")
}

func TestProbe(t *testing.T) {
	ok := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer ok.Close()
	broken := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer broken.Close()

	c := NewClient(time.Second)
	assert.NoError(t, c.Probe(context.Background(), &model.BiometricDevice{Address: ok.URL}))
	assert.ErrorIs(t, c.Probe(context.Background(), &model.BiometricDevice{Address: broken.URL}), ErrUnreachable)
	assert.ErrorIs(t, c.Probe(context.Background(), &model.BiometricDevice{Address: "http://127.0.0.1:1"}), ErrUnreachable)
}
