package httpcall

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taskforge/internal/domain"
)

func TestExecutorGet(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "bearer tok", r.Header.Get("Authorization"))
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	out, err := Executor(context.Background(), domain.Task{
		Input: map[string]any{
			"url":     srv.URL,
			"headers": map[string]string{"Authorization": "bearer tok"},
		},
	})
	require.NoError(t, err)
	resp, ok := out.(Response)
	require.True(t, ok)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"ok":true}`, string(resp.Body))
}

func TestExecutorPostBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "payload", string(body))
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	out, err := Executor(context.Background(), domain.Task{
		Input: Request{URL: srv.URL, Method: http.MethodPost, Body: []byte("payload")},
	})
	require.NoError(t, err)
	assert.Equal(t, http.StatusCreated, out.(Response).StatusCode)
}

func TestExecutorErrorStatusCarriesCode(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "slow down", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	_, err := Executor(context.Background(), domain.Task{Input: Request{URL: srv.URL}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "429")
}

func TestExecutorRejectsMissingURL(t *testing.T) {
	_, err := Executor(context.Background(), domain.Task{Input: map[string]any{}})
	assert.ErrorContains(t, err, "url is required")
}
