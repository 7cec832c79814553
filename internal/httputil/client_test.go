package httputil

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPostJSON(t *testing.T) {
	t.Parallel()
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		body, _ := io.ReadAll(r.Body)
		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write(body)
	}))
	defer ts.Close()

	status, raw, err := PostJSON(context.Background(), NewStandardClient(ts.Client()), ts.URL+"/Step", map[string]any{"action": "Pass"})
	require.NoError(t, err)
	assert.Equal(t, http.StatusAccepted, status)
	assert.JSONEq(t, `{"action":"Pass"}`, string(raw))

	_, _, err = PostJSON(context.Background(), NewStandardClient(nil), "http://127.0.0.1:0/x", map[string]any{"bad": func() {}})
	assert.ErrorContains(t, err, "encode request")
}

func TestErrorMessage(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "boom", ErrorMessage([]byte(`{"error":"boom"}`)))
	assert.Equal(t, "", ErrorMessage([]byte(`<html>`)))
	assert.Equal(t, "", ErrorMessage([]byte(`{"ok":true}`)))
}

func TestMockHTTPClient(t *testing.T) {
	t.Parallel()
	m := NewMockHTTPClient().
		AddResponse(http.StatusTeapot, "short and stout").
		AddErrorResponse(errors.New("refused"))
	ctx := context.Background()

	status, raw, err := PostJSON(ctx, m, "http://sim/a", nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusTeapot, status)
	assert.Equal(t, "short and stout", string(raw))

	_, _, err = PostJSON(ctx, m, "http://sim/b", nil)
	assert.ErrorContains(t, err, "refused")

	status, raw, err = PostJSON(ctx, m, "http://sim/c", nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, status)
	assert.Empty(t, raw)

	reqs := m.Requests()
	require.Len(t, reqs, 3)
	assert.Equal(t, "/b", reqs[1].URL.Path)
}
