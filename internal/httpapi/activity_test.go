package httpapi_test

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestActivity_RecordsClaimAction(t *testing.T) {
	h := newTestRouter(t)
	doRequest(t, h, http.MethodPost, "/claim", `{"identity":"web-dev"}`)

	w := doRequest(t, h, http.MethodGet, "/activity", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "claim")
}

func TestActivity_FiltersByType(t *testing.T) {
	h := newTestRouter(t)
	doRequest(t, h, http.MethodPost, "/claim", `{"identity":"web-dev"}`)

	w := doRequest(t, h, http.MethodGet, "/activity?type=port", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "claim")
}
