package reasoning

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPSinkCallPostsRequestAndDecodesResponse(t *testing.T) {
	var gotAuth, gotMethod string
	var gotBody map[string]any

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotAuth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"reasoning": "restart the pod", "confidence": 0.91})
	}))
	defer srv.Close()

	sink := NewHTTPSink(srv.URL, "secret-token")
	result, err := sink.Call(t.Context(), NewRequest(TaskRootCauseAnalysis, map[string]any{"observation": "pod crashlooping"}, nil, "org-1"))
	require.NoError(t, err)

	assert.Equal(t, http.MethodPost, gotMethod)
	assert.Equal(t, "Bearer secret-token", gotAuth)
	assert.Equal(t, "pod crashlooping", gotBody["input"].(map[string]any)["observation"])
	assert.Equal(t, "restart the pod", result["reasoning"])
	assert.InDelta(t, 0.91, result["confidence"], 1e-9)
}

func TestHTTPSinkCallWithoutAPIKeyOmitsAuthHeader(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		_ = json.NewEncoder(w).Encode(map[string]any{})
	}))
	defer srv.Close()

	sink := NewHTTPSink(srv.URL, "")
	_, err := sink.Call(t.Context(), NewRequest(TaskExplanation, nil, nil, ""))
	require.NoError(t, err)
	assert.Empty(t, gotAuth)
}

func TestHTTPSinkCallReturnsErrorOnNonSuccessStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte("model provider is down"))
	}))
	defer srv.Close()

	sink := NewHTTPSink(srv.URL, "")
	_, err := sink.Call(t.Context(), NewRequest(TaskExplanation, nil, nil, ""))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "model provider is down")
}
