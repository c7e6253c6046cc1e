package catalog

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/emrgen/catalog/internal/config"
	"github.com/emrgen/catalog/internal/search"
	"github.com/emrgen/catalog/internal/server"
	"github.com/emrgen/catalog/internal/tester"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	tester.Setup()
	code := m.Run()
	tester.RemoveDBFile()

	os.Exit(code)
}

func newTestClient(t *testing.T) *Client {
	t.Helper()
	tester.Reset()

	cfg := &config.Config{
		Harvest: config.HarvestConfig{BatchSize: 32, CorruptionThreshold: 0.05, Schedule: "@every 10m"},
		Search: config.SearchConfig{
			Engine:        "memory",
			Site:          "edusources",
			Languages:     []string{"nl", "en", "unk"},
			BatchSize:     10,
			DeltaSchedule: "@every 1m",
		},
		Export:    config.ExportConfig{Codec: "lz4", Backend: "file", Directory: t.TempDir()},
		Retention: config.RetentionConfig{Keep: 2, Schedule: "@daily"},
	}

	app, err := server.Wire(context.TODO(), cfg, tester.TestDB(), search.NewMemoryEngine())
	require.NoError(t, err)
	mux, err := server.NewGateway(app.Catalog, app.Static, app.Executor)
	require.NoError(t, err)

	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)

	return NewClient(ts.URL + "/")
}

func TestClient(t *testing.T) {
	c := newTestClient(t)
	ctx := context.TODO()

	dataset, err := c.CreateDataset(ctx, "catalog")
	require.NoError(t, err)
	assert.Equal(t, "catalog", dataset.Name)

	require.NoError(t, c.CreateSource(ctx, Source{Name: "alpha", Module: "static", Endpoint: "memory://alpha"}))
	harvest, err := c.AddHarvest(ctx, "catalog", "alpha")
	require.NoError(t, err)

	require.NoError(t, c.PutSeeds(ctx, "alpha", []Seed{
		{Reference: "a", Properties: map[string]any{"title": "a", "language": "en"}},
	}))
	_, err = c.RunHarvest(ctx, harvest.ID)
	require.NoError(t, err)

	harvests, err := c.ListHarvests(ctx, "catalog")
	require.NoError(t, err)
	require.Len(t, harvests, 1)
	assert.Equal(t, "complete", harvests[0].Stage)

	versions, err := c.ListVersions(ctx, "catalog")
	require.NoError(t, err)
	require.Len(t, versions, 1)
	assert.True(t, versions[0].IsCurrent)

	_, err = c.SyncIndices(ctx, "catalog")
	require.NoError(t, err)

	id, err := c.SaveExtension(ctx, "catalog", Extension{Properties: map[string]any{"title": "manual"}, IsAddition: true})
	require.NoError(t, err)
	assert.NotEmpty(t, id)
	require.NoError(t, c.DeleteExtension(ctx, id))

	key, err := c.ExportVersion(ctx, versions[0].ID)
	require.NoError(t, err)
	imported, err := c.ImportVersion(ctx, "catalog", key)
	require.NoError(t, err)
	assert.Equal(t, "002", imported.Version)

	_, err = c.PromoteVersion(ctx, imported.ID)
	require.NoError(t, err)
	require.NoError(t, c.DeleteVersion(ctx, versions[0].ID))

	reports, err := c.Reports(ctx, "catalog")
	require.NoError(t, err)
	assert.Contains(t, reports, "promotion")

	ran, err := c.RunTask(ctx, "version_cleanup")
	require.NoError(t, err)
	assert.True(t, ran)
}

func TestClient_Errors(t *testing.T) {
	c := newTestClient(t)

	_, err := c.ListVersions(context.TODO(), "missing")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusNotFound, apiErr.Status)
	assert.NotEmpty(t, apiErr.Message)
}
