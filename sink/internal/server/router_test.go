package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/telhawk-systems/telhawk-lake/common/middleware"
)

type staticStatus struct {
	state string
	ready bool
}

func (s staticStatus) Status() (string, bool) { return s.state, s.ready }

func TestRouter(t *testing.T) {
	tests := []struct {
		name     string
		path     string
		status   staticStatus
		wantCode int
	}{
		{"healthz always ok", "/healthz", staticStatus{"stopped", false}, http.StatusOK},
		{"ready while running", "/readyz", staticStatus{"running", true}, http.StatusOK},
		{"not ready while draining", "/readyz", staticStatus{"draining", false}, http.StatusServiceUnavailable},
		{"metrics", "/metrics", staticStatus{"running", true}, http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			NewRouter(tt.status, nil).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tt.path, nil))

			assert.Equal(t, tt.wantCode, rec.Code)
			assert.NotEmpty(t, rec.Header().Get(middleware.HeaderRequestID))
		})
	}
}

func TestRouter_ReadyzBody(t *testing.T) {
	rec := httptest.NewRecorder()
	NewRouter(staticStatus{"draining", false}, nil).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))

	var body struct {
		State string `json:"state"`
		Ready bool   `json:"ready"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "draining", body.State)
	assert.False(t, body.Ready)
}

func TestRouter_RejectsWrites(t *testing.T) {
	rec := httptest.NewRecorder()
	NewRouter(staticStatus{"running", true}, nil).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/healthz", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
