package curatorsdk

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClientSendsAuthAndDecodes(t *testing.T) {
	var gotPath, gotAuth string
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(Transition{ID: 7, WorkItemID: "c1", FromStage: "entry", ToStage: "precuration", ExecutedBy: "alice"})
	}))
	defer srv.Close()

	c := New(srv.URL)
	c.BearerToken = "tok"
	rec, err := c.Transition(context.Background(), "curation", "c1", "precuration", "start")
	require.NoError(t, err)

	assert.Equal(t, "/v0/items/curation/c1/transitions", gotPath)
	assert.Equal(t, "Bearer tok", gotAuth)
	assert.Equal(t, map[string]any{"target": "precuration", "notes": "start"}, gotBody)
	assert.Equal(t, int64(7), rec.ID)
	assert.Equal(t, "precuration", rec.ToStage)
}

func TestClientParsesErrorEnvelope(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "alice", r.Header.Get("X-Actor-Id"))
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"error":{"code":"four_eyes_violation","message":"four-eyes principle violation"}}`))
	}))
	defer srv.Close()

	c := New(srv.URL)
	c.ActorID = "alice"
	_, err := c.Transition(context.Background(), "curation", "c1", "review", "")

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusForbidden, apiErr.StatusCode)
	assert.Equal(t, "four_eyes_violation", apiErr.Code)
}

func TestStatisticsQuery(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v0/statistics", r.URL.Path)
		assert.Equal(t, "scope-1", r.URL.Query().Get("scope_id"))
		assert.Equal(t, "7", r.URL.Query().Get("window_days"))
		_ = json.NewEncoder(w).Encode(Statistics{ScopeID: "scope-1", WindowDays: 7, BottleneckStage: "curation"})
	}))
	defer srv.Close()

	st, err := New(srv.URL).Statistics(context.Background(), "scope-1", 7)
	require.NoError(t, err)
	assert.Equal(t, "curation", st.BottleneckStage)
	assert.Equal(t, 7, st.WindowDays)
}
