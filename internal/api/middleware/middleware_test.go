package middleware

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/dvloznov/dre-reports/internal/logger"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "s3cret"

func okHandler(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, map[string]string{"subject": GetSubject(r.Context())})
}

func TestAuth(t *testing.T) {
	h := Auth(testSecret)(http.HandlerFunc(okHandler))

	valid, err := IssueToken(testSecret, "svc-dre", time.Hour)
	require.NoError(t, err)
	expired, err := IssueToken(testSecret, "svc-dre", -time.Minute)
	require.NoError(t, err)
	wrongKey, err := IssueToken("other", "svc-dre", time.Hour)
	require.NoError(t, err)
	noExp, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{Subject: "x"}).SignedString([]byte(testSecret))
	require.NoError(t, err)

	tests := []struct {
		name   string
		path   string
		header string
		want   int
	}{
		{"health is public", "/health", "", http.StatusOK},
		{"missing token", "/api/dre", "", http.StatusUnauthorized},
		{"wrong scheme", "/api/dre", "Basic " + valid, http.StatusUnauthorized},
		{"valid token", "/api/dre", "Bearer " + valid, http.StatusOK},
		{"lowercase scheme", "/api/dre", "bearer " + valid, http.StatusOK},
		{"expired", "/api/dre", "Bearer " + expired, http.StatusUnauthorized},
		{"wrong key", "/api/dre", "Bearer " + wrongKey, http.StatusUnauthorized},
		{"no expiry", "/api/dre", "Bearer " + noExp, http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, tt.path, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			assert.Equal(t, tt.want, rec.Code)
		})
	}
}

func TestAuth_SubjectInContext(t *testing.T) {
	h := Auth(testSecret)(http.HandlerFunc(okHandler))
	token, err := IssueToken(testSecret, "svc-dre", time.Hour)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/api/runs", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var body map[string]string
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, "svc-dre", body["subject"])
}

func TestAuth_SubjectInRequestLog(t *testing.T) {
	var buf bytes.Buffer
	token, err := IssueToken(testSecret, "svc-dre", time.Hour)
	require.NoError(t, err)

	h := Chain(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqLog := logger.FromContext(r.Context())
		reqLog.Info().Msg("handled")
		w.WriteHeader(http.StatusNoContent)
	}), RequestID, Logger(logger.NewWithWriter(&buf)), Auth(testSecret))

	req := httptest.NewRequest(http.MethodGet, "/api/runs", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusNoContent, rec.Code)

	var handled map[string]interface{}
	for _, line := range bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n")) {
		var entry map[string]interface{}
		require.NoError(t, json.Unmarshal(line, &entry))
		if entry["message"] == "handled" {
			handled = entry
		}
	}
	require.NotNil(t, handled)
	assert.Equal(t, "svc-dre", handled["subject"])
	assert.NotEmpty(t, handled["request_id"])
}

func TestAuth_DisabledWithoutSecret(t *testing.T) {
	h := Auth("")(http.HandlerFunc(okHandler))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/runs", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	_, err := IssueToken("", "x", time.Hour)
	assert.Error(t, err)
}

func TestRequestIDAndLogger(t *testing.T) {
	var buf bytes.Buffer
	log := logger.NewWithWriter(&buf)

	var seen string
	h := Chain(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetRequestID(r.Context())
		reqLog := logger.FromContext(r.Context())
		reqLog.Info().Msg("inside")
		w.WriteHeader(http.StatusTeapot)
	}), Recovery(log), RequestID, Logger(log))

	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set("X-Request-ID", "req-42")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, "req-42", seen)
	assert.Equal(t, "req-42", rec.Header().Get("X-Request-ID"))
	assert.Contains(t, buf.String(), `"request_id":"req-42"`)
	assert.Contains(t, buf.String(), `"status":418`)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/x", nil))
	assert.Len(t, rec.Header().Get("X-Request-ID"), 36)
}

func TestRecovery(t *testing.T) {
	var buf bytes.Buffer
	h := Recovery(logger.NewWithWriter(&buf))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/x", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	var body ErrorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.False(t, body.Success)
	assert.Contains(t, buf.String(), "Panic recovered")
}

func TestCORSPreflight(t *testing.T) {
	h := CORS(http.HandlerFunc(okHandler))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodOptions, "/api/dre", nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}
