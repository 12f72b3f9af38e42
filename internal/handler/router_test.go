package handler

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"stronghold-security/internal/util"

	"github.com/stretchr/testify/assert"
)

func newTestRouter(enforceTLS bool) http.Handler {
	return NewRouter(&SecurityHandler{}, &ComplianceHandler{}, &PrivacyHandler{}, &SessionHandler{},
		enforceTLS, util.Get())
}

func TestHealthReachableOverPlainHTTP(t *testing.T) {
	router := newTestRouter(false)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "healthy")
}

func TestPlainHTTPRejectedWhenTLSEnforced(t *testing.T) {
	router := newTestRouter(true)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusUpgradeRequired, rec.Code)
	assert.Contains(t, rec.Body.String(), "https required")
}
