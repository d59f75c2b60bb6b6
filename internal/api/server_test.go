package api

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/auditchain/internal/catalog"
	"github.com/roach88/auditchain/internal/export"
	"github.com/roach88/auditchain/internal/ir"
	"github.com/roach88/auditchain/internal/ledger"
	"github.com/roach88/auditchain/internal/normalize"
	"github.com/roach88/auditchain/internal/store"
	"github.com/roach88/auditchain/internal/verify"
)

var testTime = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

type fixture struct {
	store   *store.Store
	handler http.Handler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "api.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	cat, err := catalog.Default()
	require.NoError(t, err)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	clock := func() time.Time { return testTime }
	engine := ledger.NewEngine(st, ledger.WithLogger(logger))
	verifier := verify.New(st, verify.WithLogger(logger), verify.WithClock(clock))

	srv := NewServer(Deps{
		Store:    st,
		Recorder: ledger.NewRecorder(normalize.New(cat, normalize.WithClock(clock)), engine, nil, logger),
		Verifier: verifier,
		Bundler:  export.New(st, verifier, export.WithClock(clock), export.WithLogger(logger)),
		Logger:   logger,
	})
	return &fixture{store: st, handler: srv.Handler()}
}

func (f *fixture) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rd)
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	body := decode(t, rec)
	e, ok := body["error"].(map[string]any)
	require.True(t, ok, rec.Body.String())
	return e["code"].(string)
}

func (f *fixture) appendTeam42(t *testing.T) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, body := range []string{
		`{"eventType":"FUND_CREATED","resourceType":"fund","resourceId":"fund-1","actorId":"gp1","metadata":{"amount":1500.00,"currency":"USD"}}`,
		`{"eventType":"BAD_ACTOR_CERTIFIED","resourceType":"certification","resourceId":"cert-1","actorId":"gp1"}`,
		`{"eventType":"NDA_SIGNED","resourceType":"document","resourceId":"nda-1","actorId":"lp1"}`,
	} {
		rec := f.do(t, http.MethodPost, "/v1/chains/team_42/entries", body)
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
		out = append(out, decode(t, rec))
	}
	return out
}

func TestAppendAndDeepVerify(t *testing.T) {
	f := newFixture(t)
	receipts := f.appendTeam42(t)

	for i, r := range receipts {
		assert.Equal(t, float64(i), r["sequence"])
		assert.True(t, ir.IsHash(r["entryHash"].(string)))
		assert.NotEmpty(t, r["entryId"])
	}

	rec := f.do(t, http.MethodGet, "/v1/chains/team_42/verify?deep=true", "")
	require.Equal(t, http.StatusOK, rec.Code)
	rep := decode(t, rec)
	assert.Equal(t, true, rep["isValid"])
	assert.Equal(t, float64(3), rep["totalEntries"])
	assert.Equal(t, float64(3), rep["verifiedEntries"])
	assert.Nil(t, rep["firstInvalidEntry"])
	assert.Equal(t, []any{}, rep["errors"])
}

func TestShallowVerify(t *testing.T) {
	f := newFixture(t)
	receipts := f.appendTeam42(t)

	rec := f.do(t, http.MethodGet, "/v1/chains/team_42/verify", "")
	require.Equal(t, http.StatusOK, rec.Code)
	rep := decode(t, rec)
	assert.Equal(t, true, rep["isValid"])
	assert.Equal(t, float64(3), rep["chainLength"])
	assert.Equal(t, ir.GenesisHash, rep["genesisHash"])
	assert.Equal(t, receipts[2]["entryHash"], rep["latestHash"])
	assert.Equal(t, "2024-03-01T12:00:00Z", rep["lastVerifiedAt"])
}

func TestDeepVerifyReportsTampering(t *testing.T) {
	f := newFixture(t)
	f.appendTeam42(t)
	_, err := f.store.DB().Exec("DROP TRIGGER entries_no_update")
	require.NoError(t, err)
	_, err = f.store.DB().Exec("UPDATE entries SET actor_id = 'mallory' WHERE seq = 1")
	require.NoError(t, err)

	rec := f.do(t, http.MethodGet, "/v1/chains/team_42/verify?deep=1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	rep := decode(t, rec)
	assert.Equal(t, false, rep["isValid"])
	assert.Equal(t, float64(1), rep["firstInvalidEntry"])

	rec = f.do(t, http.MethodGet, "/v1/chains/team_42/export", "")
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, string(ir.ErrCodeIntegrityViolation), errorCode(t, rec))
}

func TestAppendIsIdempotent(t *testing.T) {
	f := newFixture(t)
	body := `{"eventType":"DOCUMENT_SIGNED","resourceType":"document","resourceId":"d1","actorId":"lp1","idempotencyKey":"sign-d1"}`

	first := decode(t, f.do(t, http.MethodPost, "/v1/chains/team_42/entries", body))
	second := decode(t, f.do(t, http.MethodPost, "/v1/chains/team_42/entries", body))
	assert.Equal(t, first, second)

	chain := decode(t, f.do(t, http.MethodGet, "/v1/chains/team_42", ""))
	assert.Equal(t, float64(1), chain["length"])
}

func TestAppendValidation(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name  string
		path  string
		body  string
		field string
	}{
		{"bad event type", "/v1/chains/team_42/entries", `{"eventType":"fund_created","actorId":"gp1"}`, "event_type"},
		{"missing actor", "/v1/chains/team_42/entries", `{"eventType":"FUND_CREATED"}`, "actor_id"},
		{"bad chain id", "/v1/chains/-bad/entries", `{"eventType":"FUND_CREATED","actorId":"gp1"}`, "chain_id"},
		{"unknown field", "/v1/chains/team_42/entries", `{"eventType":"FUND_CREATED","actorId":"gp1","extra":1}`, "body"},
		{"not json", "/v1/chains/team_42/entries", `{`, "body"},
		{"bad criticality", "/v1/chains/team_42/entries", `{"eventType":"FUND_CREATED","actorId":"gp1","criticality":"urgent"}`, "criticality"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.do(t, http.MethodPost, tt.path, tt.body)
			require.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
			body := decode(t, rec)
			e := body["error"].(map[string]any)
			assert.Equal(t, string(ir.ErrCodeValidation), e["code"])
			assert.Equal(t, tt.field, e["details"].(map[string]any)["field"])
		})
	}
}

func TestNotFound(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/v1/chains/nobody/verify?deep=true", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "NOT_FOUND", errorCode(t, rec))

	rec = f.do(t, http.MethodGet, "/v1/chains/nobody", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(t, http.MethodGet, "/v1/entries/"+ir.GenesisHash, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetEntryByHash(t *testing.T) {
	f := newFixture(t)
	receipts := f.appendTeam42(t)
	hash := receipts[1]["entryHash"].(string)

	rec := f.do(t, http.MethodGet, "/v1/entries/"+hash, "")
	require.Equal(t, http.StatusOK, rec.Code)
	entry := decode(t, rec)
	assert.Equal(t, hash, entry["entry_hash"])
	assert.Equal(t, "BAD_ACTOR_CERTIFIED", entry["event_type"])
	assert.Equal(t, receipts[0]["entryHash"], entry["prev_hash"])

	rec = f.do(t, http.MethodGet, "/v1/entries/not-a-hash", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListChains(t *testing.T) {
	f := newFixture(t)

	body := decode(t, f.do(t, http.MethodGet, "/v1/chains", ""))
	assert.Equal(t, []any{}, body["chains"])

	f.appendTeam42(t)
	body = decode(t, f.do(t, http.MethodGet, "/v1/chains", ""))
	chains := body["chains"].([]any)
	require.Len(t, chains, 1)
	assert.Equal(t, "team_42", chains[0].(map[string]any)["chain_id"])
}

func TestExportDownload(t *testing.T) {
	f := newFixture(t)
	f.appendTeam42(t)

	rec := f.do(t, http.MethodGet, "/v1/chains/team_42/export?from=2024-03-01&to=2024-03-01", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "application/zip", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "team_42-0-2.zip")

	data := rec.Body.Bytes()
	bundle, err := export.ReadArchive(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)
	assert.Len(t, bundle.Entries, 3)

	_, err = export.Reverify(bundle)
	require.NoError(t, err)
}

func TestExportValidation(t *testing.T) {
	f := newFixture(t)
	f.appendTeam42(t)

	for _, q := range []string{
		"from=2025-01-01",
		"from=yesterday",
		"fromSeq=abc",
		"from=2024-03-01&fromSeq=0",
		"toSeq=3",
	} {
		t.Run(q, func(t *testing.T) {
			rec := f.do(t, http.MethodGet, "/v1/chains/team_42/export?"+q, "")
			assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
		})
	}
}

func TestHealth(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Content-Type"))
}
