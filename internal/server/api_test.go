package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/emrgen/catalog/internal/config"
	"github.com/emrgen/catalog/internal/export"
	"github.com/emrgen/catalog/internal/jobs"
	"github.com/emrgen/catalog/internal/search"
	"github.com/emrgen/catalog/internal/service"
	"github.com/emrgen/catalog/internal/store"
	"github.com/emrgen/catalog/internal/tester"
	"github.com/emrgen/catalog/internal/version"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		Harvest: config.HarvestConfig{
			BatchSize:           32,
			CorruptionThreshold: version.DefaultCorruptionThreshold,
			Schedule:            "@every 10m",
		},
		Search: config.SearchConfig{
			Engine:        "memory",
			Site:          "edusources",
			Languages:     []string{"nl", "en", "unk"},
			BatchSize:     10,
			MaxErrors:     10,
			DeltaSchedule: "@every 1m",
		},
		Export: config.ExportConfig{
			Codec:     "gzip",
			Backend:   "file",
			Directory: t.TempDir(),
		},
		Retention: config.RetentionConfig{
			Keep:     2,
			Schedule: "@daily",
		},
	}
}

type harness struct {
	app    *App
	engine *search.MemoryEngine
	server *httptest.Server
}

func setup(t *testing.T) *harness {
	t.Helper()
	tester.Reset()

	engine := search.NewMemoryEngine()
	app, err := Wire(context.TODO(), testConfig(t), tester.TestDB(), engine)
	require.NoError(t, err)

	mux, err := NewGateway(app.Catalog, app.Static, app.Executor)
	require.NoError(t, err)

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	return &harness{app: app, engine: engine, server: server}
}

func (h *harness) do(t *testing.T, method, path string, body any, out any) int {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequest(method, h.server.URL+path, reader)
	require.NoError(t, err)
	res, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer res.Body.Close()

	if out != nil && res.StatusCode < 300 && res.StatusCode != http.StatusNoContent {
		require.NoError(t, json.NewDecoder(res.Body).Decode(out))
	}
	return res.StatusCode
}

func TestStatusOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"not found", fmt.Errorf("dataset: %w", store.ErrNotFound), http.StatusNotFound},
		{"missing dump", export.ErrObjectNotFound, http.StatusNotFound},
		{"unknown task", jobs.ErrUnknownTask, http.StatusNotFound},
		{"busy", store.ErrBusy, http.StatusConflict},
		{"current version", version.ErrVersionIsCurrent, http.StatusConflict},
		{"invalid name", service.ErrInvalidDatasetName, http.StatusBadRequest},
		{"unknown language", search.ErrUnknownLanguage, http.StatusBadRequest},
		{"key outside the store", export.ErrInvalidKey, http.StatusBadRequest},
		{"broken dump", fmt.Errorf("load: %w", export.ErrInvalidDump), http.StatusBadRequest},
		{"bad body", &badRequest{err: errors.New("eof")}, http.StatusBadRequest},
		{"export disabled", service.ErrExportDisabled, http.StatusNotImplemented},
		{"anything else", errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, statusOf(tt.err))
		})
	}
}

func TestAPI_HarvestAndIndex(t *testing.T) {
	h := setup(t)

	assert.Equal(t, http.StatusOK, h.do(t, http.MethodGet, "/healthz", nil, nil))
	assert.Equal(t, http.StatusBadRequest, h.do(t, http.MethodPost, "/v1/datasets", map[string]string{"name": "Bad Name"}, nil))
	assert.Equal(t, http.StatusCreated, h.do(t, http.MethodPost, "/v1/datasets", map[string]string{"name": "catalog"}, nil))
	assert.Equal(t, http.StatusCreated, h.do(t, http.MethodPost, "/v1/sources", map[string]string{"name": "alpha", "module": "static", "endpoint": "memory://alpha"}, nil))
	assert.Equal(t, http.StatusCreated, h.do(t, http.MethodPost, "/v1/datasets/catalog/harvests", map[string]string{"source": "alpha"}, nil))

	seeds := []map[string]any{
		{"reference": "a", "properties": map[string]any{"title": "a", "language": "nl"}},
		{"reference": "b", "properties": map[string]any{"title": "b", "language": "nl"}},
	}
	assert.Equal(t, http.StatusAccepted, h.do(t, http.MethodPut, "/v1/sources/alpha/seeds", seeds, nil))

	var runs []map[string]any
	require.Equal(t, http.StatusOK, h.do(t, http.MethodPost, "/v1/datasets/catalog/harvests/run", nil, &runs))
	require.Len(t, runs, 1)
	assert.Equal(t, "complete", runs[0]["stage"])

	var versions []map[string]any
	require.Equal(t, http.StatusOK, h.do(t, http.MethodGet, "/v1/datasets/catalog/versions", nil, &versions))
	require.Len(t, versions, 1)
	id := uint(versions[0]["ID"].(float64))

	var pushed map[string]any
	path := fmt.Sprintf("/v1/versions/%d/indices/nl/rebuild?recreate=true&promote=true", id)
	require.Equal(t, http.StatusOK, h.do(t, http.MethodPost, path, nil, &pushed))
	assert.EqualValues(t, 2, pushed["indexed"])
	assert.Equal(t, true, pushed["alias_swapped"])

	remote := search.RemoteName("edusources", "catalog", "001", id, "nl")
	assert.Equal(t, 2, h.engine.Count(remote))

	path = fmt.Sprintf("/v1/versions/%d/indices/xx/rebuild", id)
	assert.Equal(t, http.StatusBadRequest, h.do(t, http.MethodPost, path, nil, nil))

	assert.Equal(t, http.StatusConflict, h.do(t, http.MethodDelete, fmt.Sprintf("/v1/versions/%d", id), nil, nil))
	assert.Equal(t, http.StatusNotFound, h.do(t, http.MethodGet, "/v1/versions/999", nil, nil))
	assert.Equal(t, http.StatusBadRequest, h.do(t, http.MethodGet, "/v1/versions/abc", nil, nil))

	var reports map[string]json.RawMessage
	require.Equal(t, http.StatusOK, h.do(t, http.MethodGet, "/v1/datasets/catalog/reports", nil, &reports))
	assert.Contains(t, reports, "harvest")
	assert.Contains(t, reports, "push")
}

func TestAPI_ExtensionsAndExport(t *testing.T) {
	h := setup(t)

	require.Equal(t, http.StatusCreated, h.do(t, http.MethodPost, "/v1/datasets", map[string]string{"name": "catalog"}, nil))

	var extension map[string]any
	body := map[string]any{"properties": map[string]any{"title": "manual"}, "is_addition": true}
	require.Equal(t, http.StatusOK, h.do(t, http.MethodPost, "/v1/datasets/catalog/extensions", body, &extension))
	id, ok := extension["ID"].(string)
	require.True(t, ok)
	assert.NotEmpty(t, id)

	assert.Equal(t, http.StatusOK, h.do(t, http.MethodGet, "/v1/extensions/"+id, nil, nil))
	assert.Equal(t, http.StatusNoContent, h.do(t, http.MethodDelete, "/v1/extensions/"+id, nil, nil))
	assert.Equal(t, http.StatusNotFound, h.do(t, http.MethodGet, "/v1/extensions/"+id, nil, nil))

	var created map[string]any
	require.Equal(t, http.StatusCreated, h.do(t, http.MethodPost, "/v1/datasets/catalog/versions", nil, &created))
	versionID := uint(created["ID"].(float64))

	var dumped exportResponse
	require.Equal(t, http.StatusOK, h.do(t, http.MethodPost, fmt.Sprintf("/v1/versions/%d/export", versionID), nil, &dumped))
	assert.NotEmpty(t, dumped.Key)

	var imported importResponse
	require.Equal(t, http.StatusCreated, h.do(t, http.MethodPost, "/v1/datasets/catalog/imports", importRequest{Key: dumped.Key}, &imported))
	assert.Equal(t, "002", imported.Version.Version)

	assert.Equal(t, http.StatusNotFound, h.do(t, http.MethodPost, "/v1/datasets/catalog/imports", importRequest{Key: "missing.jsonl.gz"}, nil))
}

func TestAPI_RunTask(t *testing.T) {
	h := setup(t)

	var ran map[string]bool
	require.Equal(t, http.StatusOK, h.do(t, http.MethodPost, "/v1/tasks/delta_sync/run", nil, &ran))
	assert.True(t, ran["ran"])

	assert.Equal(t, http.StatusNotFound, h.do(t, http.MethodPost, "/v1/tasks/missing/run", nil, nil))
}
