package httprequest_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weftd/weft/pkg/actions/httprequest"
	"github.com/weftd/weft/pkg/runner"
)

func TestRun_DecodesJSONResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "token-123", r.Header.Get("Authorization"))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"count": 5}`))
	}))
	defer server.Close()

	r := httprequest.New()

	result, err := r.Run(context.Background(), runner.Input{
		Ref: "fetch",
		Args: map[string]any{
			"url":     server.URL,
			"method":  "post",
			"headers": map[string]any{"Authorization": "token-123"},
			"body":    map[string]any{"q": "orders"},
		},
	})
	require.NoError(t, err)
	require.True(t, result.ShouldContinue)

	output, ok := result.Output.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, http.StatusOK, output["status_code"])
	assert.Equal(t, map[string]any{"count": float64(5)}, output["data"])
}

func TestRun_ServerErrorRequestsRetry(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	r := httprequest.New()

	_, err := r.Run(context.Background(), runner.Input{
		Ref:  "fetch",
		Args: map[string]any{"url": server.URL},
	})
	require.Error(t, err)
	assert.True(t, runner.IsRetryRequested(err))
}

func TestRun_ClientErrorIsHardFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	r := httprequest.New()

	_, err := r.Run(context.Background(), runner.Input{
		Ref:  "fetch",
		Args: map[string]any{"url": server.URL},
	})
	require.Error(t, err)
	assert.False(t, runner.IsRetryRequested(err))
	assert.Contains(t, err.Error(), "404")
}

func TestRun_MissingURL(t *testing.T) {
	r := httprequest.New()

	_, err := r.Run(context.Background(), runner.Input{Ref: "fetch", Args: map[string]any{}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "url")
}
