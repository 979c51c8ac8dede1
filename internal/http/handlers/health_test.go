package handlers

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/danielgtaylor/huma/v2/humatest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCounters struct {
	total, failed uint64
}

func (f fakeCounters) RequestCounters() (uint64, uint64) {
	return f.total, f.failed
}

func TestHealthHandler_Healthy(t *testing.T) {
	_, api := humatest.New(t)
	NewHealthHandler("1.2.3", fakeCounters{total: 42, failed: 3}, nil).Register(api)

	resp := api.Get("/api/health")
	require.Equal(t, http.StatusOK, resp.Code)

	body := resp.Body.String()
	assert.Contains(t, body, `"healthy":true`)
	assert.Contains(t, body, `"totalRequests":42`)
	assert.Contains(t, body, `"failedRequests":3`)
	assert.Contains(t, body, `"version":"1.2.3"`)
}

func TestHealthHandler_CatalogDown(t *testing.T) {
	_, api := humatest.New(t)
	ping := func(ctx context.Context) error { return errors.New("unreachable") }
	NewHealthHandler("1.2.3", fakeCounters{}, ping).Register(api)

	resp := api.Get("/api/health")
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Contains(t, resp.Body.String(), `"healthy":false`)
}
