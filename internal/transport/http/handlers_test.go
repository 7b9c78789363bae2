package httpapi

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	householdservice "hearth/internal/household/service"
	householdstore "hearth/internal/household/store"
	"hearth/internal/identity/match"
	identityservice "hearth/internal/identity/service"
	identitystore "hearth/internal/identity/store"
	"hearth/internal/ledger"
	registrationservice "hearth/internal/registration/service"
	registrationstore "hearth/internal/registration/store"
	"hearth/internal/transaction"
	id "hearth/pkg/domain"
)

const adminToken = "test-token"

func newServer(t *testing.T) *httptest.Server {
	t.Helper()
	people := identitystore.NewInMemoryStore()
	households := householdstore.NewInMemoryStore()
	regs := registrationstore.NewInMemoryStore()
	txns := transaction.NewInMemoryStore()
	entries := ledger.NewInMemoryStore()

	identities := identityservice.New(people, match.New(people))
	pipeline := registrationservice.NewPipeline(regs, identities, people, households, txns)
	clusterer := householdservice.NewClusterer(people, households, txns)
	ledgerSvc := ledger.NewService(entries, people, households, txns)

	handler := NewHandler(identities, pipeline, clusterer, ledgerSvc, slog.Default())
	srv := httptest.NewServer(handler.Router(adminToken))
	t.Cleanup(srv.Close)
	return srv
}

func doJSON(t *testing.T, method, url string, body any, admin bool) (*http.Response, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, url, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if admin {
		req.Header.Set("X-Admin-Token", adminToken)
		req.Header.Set("X-Admin-Actor", "tester")
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })

	var decoded map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&decoded)
	return resp, decoded
}

func ingestFamily(t *testing.T, srv *httptest.Server) map[string]any {
	t.Helper()
	resp, body := doJSON(t, http.MethodPost, srv.URL+"/ingest", map[string]any{
		"event_id":       id.NewEventID().String(),
		"institution_id": id.NewInstitutionID().String(),
		"participants": []map[string]any{
			{"first_name": "Ann", "last_name": "Lee", "email": "ann@x.com", "role": "primary"},
			{"first_name": "Tom", "last_name": "Lee", "role": "child"},
		},
	}, false)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	return body
}

func personIDFromIngest(t *testing.T, body map[string]any, idx int) string {
	t.Helper()
	participants, ok := body["participants"].([]any)
	require.True(t, ok)
	participant, ok := participants[idx].(map[string]any)
	require.True(t, ok)
	pid, ok := participant["person_id"].(string)
	require.True(t, ok)
	return pid
}

func TestIngestEndpoint(t *testing.T) {
	srv := newServer(t)

	t.Run("happy path returns the full result", func(t *testing.T) {
		body := ingestFamily(t, srv)
		assert.Equal(t, "matched", body["status"])
		assert.NotEmpty(t, body["submission_id"])
		participants := body["participants"].([]any)
		assert.Len(t, participants, 2)
	})

	t.Run("missing event id is a 400", func(t *testing.T) {
		resp, body := doJSON(t, http.MethodPost, srv.URL+"/ingest", map[string]any{
			"institution_id": id.NewInstitutionID().String(),
			"participants":   []map[string]any{{"first_name": "Ann", "last_name": "Lee"}},
		}, false)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		assert.NotEmpty(t, body["error"])
	})

	t.Run("malformed json is a 400", func(t *testing.T) {
		req, err := http.NewRequest(http.MethodPost, srv.URL+"/ingest", bytes.NewBufferString("{nope"))
		require.NoError(t, err)
		req.Header.Set("Content-Type", "application/json")
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})
}

func TestAdminGuard(t *testing.T) {
	srv := newServer(t)

	t.Run("operator routes refuse without the token", func(t *testing.T) {
		resp, _ := doJSON(t, http.MethodPost, srv.URL+"/households/run", map[string]any{
			"institution_id": id.NewInstitutionID().String(),
		}, false)
		assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	})

	t.Run("operator routes work with the token", func(t *testing.T) {
		resp, body := doJSON(t, http.MethodPost, srv.URL+"/households/run", map[string]any{
			"institution_id": id.NewInstitutionID().String(),
		}, true)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Contains(t, body, "households_created")
	})
}

func TestLedgerEndpoints(t *testing.T) {
	srv := newServer(t)
	ingest := ingestFamily(t, srv)
	annID := personIDFromIngest(t, ingest, 0)
	tomID := personIDFromIngest(t, ingest, 1)

	t.Run("flag then undo round-trips", func(t *testing.T) {
		resp, body := doJSON(t, http.MethodPost, fmt.Sprintf("%s/people/%s/flag", srv.URL, annID),
			map[string]any{"reason": "duplicate_suspected"}, true)
		require.Equal(t, http.StatusCreated, resp.StatusCode)
		entryID := body["id"].(string)

		resp, _ = doJSON(t, http.MethodPost, fmt.Sprintf("%s/ledger/%s/undo", srv.URL, entryID), nil, true)
		assert.Equal(t, http.StatusOK, resp.StatusCode)

		resp, person := doJSON(t, http.MethodGet, fmt.Sprintf("%s/people/%s", srv.URL, annID), nil, false)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, false, person["is_flagged"])
	})

	t.Run("merge reports the surviving person and finalize locks it", func(t *testing.T) {
		resp, body := doJSON(t, http.MethodPost, fmt.Sprintf("%s/people/%s/merge", srv.URL, tomID),
			map[string]any{"target_person_id": annID, "reason": "confirmed_duplicate"}, true)
		require.Equal(t, http.StatusCreated, resp.StatusCode)
		assert.Equal(t, annID, body["surviving_person_id"])
		entry := body["entry"].(map[string]any)
		entryID := entry["id"].(string)

		resp, _ = doJSON(t, http.MethodPost, fmt.Sprintf("%s/ledger/%s/finalize", srv.URL, entryID), nil, true)
		require.Equal(t, http.StatusOK, resp.StatusCode)

		resp, errBody := doJSON(t, http.MethodPost, fmt.Sprintf("%s/ledger/%s/undo", srv.URL, entryID), nil, true)
		assert.Equal(t, http.StatusConflict, resp.StatusCode)
		assert.NotEmpty(t, errBody["error"])
	})

	t.Run("ledger history lists entries for a person", func(t *testing.T) {
		resp, err := http.Get(fmt.Sprintf("%s/people/%s/ledger", srv.URL, annID))
		require.NoError(t, err)
		defer resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode)

		var entries []map[string]any
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&entries))
		assert.NotEmpty(t, entries)
	})

	t.Run("unknown person is a 404", func(t *testing.T) {
		resp, _ := doJSON(t, http.MethodPost, fmt.Sprintf("%s/people/%s/flag", srv.URL, id.NewPersonID()),
			map[string]any{"reason": "duplicate_suspected"}, true)
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})

	t.Run("invalid person id is a 400", func(t *testing.T) {
		resp, _ := doJSON(t, http.MethodPost, srv.URL+"/people/not-a-uuid/flag",
			map[string]any{"reason": "duplicate_suspected"}, true)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})
}

func TestHealthz(t *testing.T) {
	srv := newServer(t)
	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
