package connector

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CZERTAINLY/CZERTAINLY-Core-sub003/internal/domain/apperr"
	"github.com/CZERTAINLY/CZERTAINLY-Core-sub003/internal/domain/compliance"
)

func testClient(retries int) *Client {
	return NewClient(Config{RetryMax: retries, RetryWaitMin: time.Millisecond, RetryWaitMax: 5 * time.Millisecond}, zerolog.Nop())
}

func TestQueryCompliance(t *testing.T) {
	rule := uuid.New()
	certUUID := uuid.New()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/v1/complianceProvider/x509/compliance", r.URL.Path)

		var req compliance.Request
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, certUUID, req.CertificateUUID)
		assert.Equal(t, []uuid.UUID{rule}, req.Rules)

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"status": "nok",
			"rules":  []map[string]any{{"uuid": rule, "status": "NOK", "detail": "key too short"}},
		})
	}))
	defer srv.Close()

	ref := compliance.ConnectorRef{UUID: uuid.New(), URL: srv.URL + "/api", Kind: "x509"}
	results, err := testClient(0).QueryCompliance(context.Background(), ref, &compliance.Request{
		CertificateUUID: certUUID,
		Rules:           []uuid.UUID{rule},
	})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, rule, results[0].RuleUUID)
	assert.Equal(t, compliance.StatusNOK, results[0].Status)
	assert.Equal(t, "key too short", results[0].Detail)
}

func TestQueryComplianceRetriesServerErrors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"rules":[]}`))
	}))
	defer srv.Close()

	ref := compliance.ConnectorRef{UUID: uuid.New(), URL: srv.URL, Kind: "x509"}
	results, err := testClient(3).QueryCompliance(context.Background(), ref, &compliance.Request{})
	require.NoError(t, err)
	assert.Empty(t, results)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestQueryComplianceErrors(t *testing.T) {
	badRequest := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unknown kind", http.StatusBadRequest)
	}))
	defer badRequest.Close()

	malformed := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"rules":`))
	}))
	defer malformed.Close()

	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer slow.Close()

	tests := []struct {
		name    string
		url     string
		timeout time.Duration
	}{
		{name: "non-2xx", url: badRequest.URL},
		{name: "malformed body", url: malformed.URL},
		{name: "empty url", url: ""},
		{name: "timeout", url: slow.URL, timeout: 50 * time.Millisecond},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			if tt.timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, tt.timeout)
				defer cancel()
			}
			ref := compliance.ConnectorRef{UUID: uuid.New(), URL: tt.url, Kind: "x509"}
			_, err := testClient(0).QueryCompliance(ctx, ref, &compliance.Request{})
			require.Error(t, err)
			assert.ErrorIs(t, err, apperr.ErrConnector)
		})
	}
}
