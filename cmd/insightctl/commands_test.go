package main

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordedRequest struct {
	Method string
	Path   string
	Query  string
	Body   string
	Actor  string
}

func newAPI(t *testing.T, status int, reply string) (*httptest.Server, *[]recordedRequest) {
	t.Helper()
	var seen []recordedRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		seen = append(seen, recordedRequest{
			Method: r.Method,
			Path:   r.URL.Path,
			Query:  r.URL.RawQuery,
			Body:   string(body),
			Actor:  r.Header.Get("X-Admin-Id"),
		})
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = io.WriteString(w, reply)
	}))
	t.Cleanup(srv.Close)
	return srv, &seen
}

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestStatsCommandPrintsSnapshot(t *testing.T) {
	srv, seen := newAPI(t, http.StatusOK, `{"data":{"snapshot":{"total_insights":4,"generation":3,"success_rate":0.5},"stale":false}}`)

	out, err := runCLI(t, "--addr", srv.URL, "stats")
	require.NoError(t, err)
	assert.Contains(t, out, "generation")
	assert.Contains(t, out, "50.0%")
	require.Len(t, *seen, 1)
	assert.Equal(t, "/admin/insights/stats", (*seen)[0].Path)
}

func TestListCommandBuildsQuery(t *testing.T) {
	srv, seen := newAPI(t, http.StatusOK, `{"data":{"items":[],"page_info":{"page":2,"page_size":5,"total":0},"generation":1}}`)

	_, err := runCLI(t, "--addr", srv.URL, "--actor", "admin-1", "list", "--risk", "high", "--page", "2", "--page-size", "5")
	require.NoError(t, err)
	require.Len(t, *seen, 1)
	req := (*seen)[0]
	assert.Equal(t, "/admin/insights", req.Path)
	assert.Contains(t, req.Query, "risk_level=high")
	assert.Contains(t, req.Query, "page=2")
	assert.Contains(t, req.Query, "page_size=5")
	assert.Equal(t, "admin-1", req.Actor)
}

func TestRegenerateSendsSummaryOnlyWhenSet(t *testing.T) {
	srv, seen := newAPI(t, http.StatusOK, `{"data":{"id":"7","status":"active"}}`)

	_, err := runCLI(t, "--addr", srv.URL, "regenerate", "7")
	require.NoError(t, err)
	_, err = runCLI(t, "--addr", srv.URL, "regenerate", "7", "--summary", "fresh")
	require.NoError(t, err)

	require.Len(t, *seen, 2)
	assert.Empty(t, (*seen)[0].Body)
	var body map[string]any
	require.NoError(t, json.Unmarshal([]byte((*seen)[1].Body), &body))
	assert.Equal(t, "fresh", body["summary"])
}

func TestErrorEnvelopeSurfaces(t *testing.T) {
	srv, _ := newAPI(t, http.StatusNotFound, `{"error":{"type":"not_found","message":"not found"}}`)

	_, err := runCLI(t, "--addr", srv.URL, "delete", "42")
	require.Error(t, err)
	var apiErr *apiError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusNotFound, apiErr.Status)
	assert.Equal(t, "not_found", apiErr.Type)
}

func TestUsageResetUsesPost(t *testing.T) {
	srv, seen := newAPI(t, http.StatusOK, `{"data":{"user_id":"u-1","current_usage":0,"max_usage":5,"remaining":5}}`)

	out, err := runCLI(t, "--addr", srv.URL, "usage", "u-1", "--reset")
	require.NoError(t, err)
	assert.Contains(t, out, "0 / 5")
	require.Len(t, *seen, 1)
	assert.Equal(t, http.MethodPost, (*seen)[0].Method)
	assert.Equal(t, "/admin/usage/u-1/reset", (*seen)[0].Path)
}
