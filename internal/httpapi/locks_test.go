package httpapi_test

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLockAcquire_GrantsToFirstOwner(t *testing.T) {
	h := newTestRouter(t)
	w := doRequest(t, h, http.MethodPost, "/locks/migration", `{"owner":"alpha","ttlSeconds":60}`)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"acquired":true`)
}

func TestLockAcquire_SecondOwnerDeniedWithoutForce(t *testing.T) {
	h := newTestRouter(t)
	doRequest(t, h, http.MethodPost, "/locks/migration", `{"owner":"alpha","ttlSeconds":60}`)

	w := doRequest(t, h, http.MethodPost, "/locks/migration", `{"owner":"beta","ttlSeconds":60}`)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"acquired":false`)
}

func TestLockRelease_ByOwnerSucceeds(t *testing.T) {
	h := newTestRouter(t)
	doRequest(t, h, http.MethodPost, "/locks/migration", `{"owner":"alpha","ttlSeconds":60}`)

	w := doRequest(t, h, http.MethodDelete, "/locks/migration", `{"owner":"alpha"}`)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"released":true`)
}

func TestListLocks_ReturnsHeldLock(t *testing.T) {
	h := newTestRouter(t)
	doRequest(t, h, http.MethodPost, "/locks/migration", `{"owner":"alpha","ttlSeconds":60}`)

	w := doRequest(t, h, http.MethodGet, "/locks", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "migration")
}
