package health

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/CillianDeasy/esb-smart-meter-reading-automation/pipeline"
)

type staticStatus pipeline.Status

func (s staticStatus) Status() pipeline.Status { return pipeline.Status(s) }

func TestHealthHandler(t *testing.T) {
	now := time.Now()

	tests := []struct {
		name       string
		status     pipeline.Status
		wantCode   int
		wantStatus string
	}{
		{
			name:       "no run yet",
			wantCode:   http.StatusOK,
			wantStatus: "starting",
		},
		{
			name:       "recent success",
			status:     pipeline.Status{LastRun: now, LastSuccess: now, LastPoints: 48},
			wantCode:   http.StatusOK,
			wantStatus: "healthy",
		},
		{
			name:       "last run failed",
			status:     pipeline.Status{LastRun: now, LastSuccess: now.Add(-time.Hour), LastError: "login failed", PendingPoints: 96},
			wantCode:   http.StatusServiceUnavailable,
			wantStatus: "unhealthy",
		},
		{
			name:       "stale success",
			status:     pipeline.Status{LastRun: now, LastSuccess: now.Add(-72 * time.Hour)},
			wantCode:   http.StatusServiceUnavailable,
			wantStatus: "unhealthy",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hc := NewHealthChecker(staticStatus(tt.status), 48*time.Hour, 0, zap.NewNop())

			rec := httptest.NewRecorder()
			hc.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

			assert.Equal(t, tt.wantCode, rec.Code)
			assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

			var body HealthStatus
			require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
			assert.Equal(t, tt.wantStatus, body.Status)
			assert.Equal(t, tt.status.LastError, body.LastError)
			assert.Equal(t, tt.status.PendingPoints, body.PendingPoints)
		})
	}
}
