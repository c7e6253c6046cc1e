package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/emrgen/catalog/internal/cache"
	"github.com/emrgen/catalog/internal/export"
	"github.com/emrgen/catalog/internal/jobs"
	"github.com/emrgen/catalog/internal/model"
	"github.com/emrgen/catalog/internal/search"
	"github.com/emrgen/catalog/internal/seed"
	"github.com/emrgen/catalog/internal/service"
	"github.com/emrgen/catalog/internal/store"
	"github.com/emrgen/catalog/internal/version"
	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"github.com/sirupsen/logrus"
)

var errInvalidID = errors.New("invalid id")

type api struct {
	catalog   *service.Catalog
	static    *seed.StaticSource
	executor  *jobs.TaskExecutor
	marshaler runtime.Marshaler
}

type route struct {
	method  string
	pattern string
	handler runtime.HandlerFunc
}

// NewGateway registers the admin API on a gateway mux.
func NewGateway(catalog *service.Catalog, static *seed.StaticSource, executor *jobs.TaskExecutor) (*runtime.ServeMux, error) {
	a := &api{
		catalog:   catalog,
		static:    static,
		executor:  executor,
		marshaler: &runtime.JSONBuiltin{},
	}

	routes := []route{
		{http.MethodGet, "/healthz", a.health},

		{http.MethodGet, "/v1/datasets", a.listDatasets},
		{http.MethodPost, "/v1/datasets", a.createDataset},
		{http.MethodGet, "/v1/datasets/{dataset}/versions", a.listVersions},
		{http.MethodPost, "/v1/datasets/{dataset}/versions", a.createVersion},
		{http.MethodGet, "/v1/datasets/{dataset}/harvests", a.listHarvests},
		{http.MethodPost, "/v1/datasets/{dataset}/harvests", a.addHarvest},
		{http.MethodPost, "/v1/datasets/{dataset}/harvests/run", a.runHarvests},
		{http.MethodPost, "/v1/datasets/{dataset}/indices/sync", a.syncIndices},
		{http.MethodPost, "/v1/datasets/{dataset}/extensions", a.saveExtension},
		{http.MethodPost, "/v1/datasets/{dataset}/imports", a.importVersion},
		{http.MethodGet, "/v1/datasets/{dataset}/reports", a.reports},

		{http.MethodPost, "/v1/sources", a.createSource},
		{http.MethodPut, "/v1/sources/{source}/seeds", a.putSeeds},

		{http.MethodPost, "/v1/harvests/{id}/run", a.runHarvest},
		{http.MethodPost, "/v1/harvests/{id}/reset", a.resetHarvest},

		{http.MethodGet, "/v1/versions/{id}", a.getVersion},
		{http.MethodDelete, "/v1/versions/{id}", a.deleteVersion},
		{http.MethodPost, "/v1/versions/{id}/promote", a.promoteVersion},
		{http.MethodPost, "/v1/versions/{id}/export", a.exportVersion},
		{http.MethodPost, "/v1/versions/{id}/indices/{language}/rebuild", a.rebuildIndex},

		{http.MethodGet, "/v1/extensions/{id}", a.getExtension},
		{http.MethodDelete, "/v1/extensions/{id}", a.deleteExtension},

		{http.MethodPost, "/v1/tasks/{task}/run", a.runTask},
	}

	mux := runtime.NewServeMux()
	for _, r := range routes {
		if err := mux.HandlePath(r.method, r.pattern, r.handler); err != nil {
			return nil, err
		}
	}

	return mux, nil
}

func (a *api) write(w http.ResponseWriter, status int, v any) {
	data, err := a.marshaler.Marshal(v)
	if err != nil {
		logrus.Errorf("failed to encode response: %v", err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", a.marshaler.ContentType(v))
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

func (a *api) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusOf(err)
	if status >= http.StatusInternalServerError {
		logrus.Errorf("%s %s: %v", r.Method, r.URL.Path, err)
	}
	a.write(w, status, map[string]string{"error": err.Error()})
}

func (a *api) decode(r *http.Request, v any) error {
	if err := a.marshaler.NewDecoder(r.Body).Decode(v); err != nil {
		return &badRequest{err: err}
	}
	return nil
}

type badRequest struct {
	err error
}

func (b *badRequest) Error() string {
	return "invalid request body: " + b.err.Error()
}

func (b *badRequest) Unwrap() error {
	return b.err
}

// statusOf maps catalog errors onto HTTP status codes.
func statusOf(err error) int {
	var bad *badRequest
	switch {
	case errors.As(err, &bad),
		errors.Is(err, errInvalidID),
		errors.Is(err, service.ErrInvalidDatasetName),
		errors.Is(err, service.ErrInvalidSource),
		errors.Is(err, service.ErrDatasetMismatch),
		errors.Is(err, search.ErrUnknownLanguage),
		errors.Is(err, export.ErrInvalidKey),
		errors.Is(err, export.ErrInvalidDump):
		return http.StatusBadRequest
	case errors.Is(err, store.ErrNotFound),
		errors.Is(err, export.ErrObjectNotFound),
		errors.Is(err, cache.ErrReportNotFound),
		errors.Is(err, jobs.ErrUnknownTask):
		return http.StatusNotFound
	case errors.Is(err, store.ErrBusy),
		errors.Is(err, version.ErrVersionIsCurrent),
		errors.Is(err, version.ErrDatasetInactive):
		return http.StatusConflict
	case errors.Is(err, service.ErrExportDisabled):
		return http.StatusNotImplemented
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func pathID(params map[string]string) (uint, error) {
	id, err := strconv.ParseUint(params["id"], 10, 64)
	if err != nil {
		return 0, errInvalidID
	}
	return uint(id), nil
}

func (a *api) health(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	if _, err := a.catalog.ListDatasets(r.Context(), true); err != nil {
		a.write(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": err.Error()})
		return
	}
	a.write(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (a *api) listDatasets(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	datasets, err := a.catalog.ListDatasets(r.Context(), r.URL.Query().Get("active") == "true")
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.write(w, http.StatusOK, datasets)
}

type createDatasetRequest struct {
	Name string `json:"name"`
}

func (a *api) createDataset(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	var req createDatasetRequest
	if err := a.decode(r, &req); err != nil {
		a.fail(w, r, err)
		return
	}

	dataset, err := a.catalog.CreateDataset(r.Context(), req.Name)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.write(w, http.StatusCreated, dataset)
}

func (a *api) listVersions(w http.ResponseWriter, r *http.Request, params map[string]string) {
	versions, err := a.catalog.ListVersions(r.Context(), params["dataset"])
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.write(w, http.StatusOK, versions)
}

func (a *api) createVersion(w http.ResponseWriter, r *http.Request, params map[string]string) {
	v, err := a.catalog.CreateVersion(r.Context(), params["dataset"])
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.write(w, http.StatusCreated, v)
}

func (a *api) listHarvests(w http.ResponseWriter, r *http.Request, params map[string]string) {
	harvests, err := a.catalog.ListHarvests(r.Context(), params["dataset"])
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.write(w, http.StatusOK, harvests)
}

type addHarvestRequest struct {
	Source string `json:"source"`
}

func (a *api) addHarvest(w http.ResponseWriter, r *http.Request, params map[string]string) {
	var req addHarvestRequest
	if err := a.decode(r, &req); err != nil {
		a.fail(w, r, err)
		return
	}

	h, err := a.catalog.AddHarvest(r.Context(), params["dataset"], req.Source)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.write(w, http.StatusCreated, h)
}

func (a *api) runHarvests(w http.ResponseWriter, r *http.Request, params map[string]string) {
	results, err := a.catalog.RunHarvests(r.Context(), params["dataset"])
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.write(w, http.StatusOK, results)
}

func (a *api) syncIndices(w http.ResponseWriter, r *http.Request, params map[string]string) {
	results, err := a.catalog.SyncIndices(r.Context(), params["dataset"])
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.write(w, http.StatusOK, results)
}

type extensionRequest struct {
	ID         string         `json:"id"`
	Properties map[string]any `json:"properties"`
	IsAddition bool           `json:"is_addition"`
	IsParent   bool           `json:"is_parent"`
}

func (a *api) saveExtension(w http.ResponseWriter, r *http.Request, params map[string]string) {
	var req extensionRequest
	if err := a.decode(r, &req); err != nil {
		a.fail(w, r, err)
		return
	}

	extension := &model.Extension{
		ID:         req.ID,
		Properties: req.Properties,
		IsAddition: req.IsAddition,
		IsParent:   req.IsParent,
	}
	if err := a.catalog.SaveExtension(r.Context(), params["dataset"], extension); err != nil {
		a.fail(w, r, err)
		return
	}
	a.write(w, http.StatusOK, extension)
}

type importRequest struct {
	Key string `json:"key"`
}

type importResponse struct {
	Version   *model.DatasetVersion `json:"version"`
	Documents int                   `json:"documents"`
}

func (a *api) importVersion(w http.ResponseWriter, r *http.Request, params map[string]string) {
	var req importRequest
	if err := a.decode(r, &req); err != nil {
		a.fail(w, r, err)
		return
	}

	v, count, err := a.catalog.ImportVersion(r.Context(), params["dataset"], req.Key)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.write(w, http.StatusCreated, importResponse{Version: v, Documents: count})
}

func (a *api) reports(w http.ResponseWriter, r *http.Request, params map[string]string) {
	reports, err := a.catalog.Reports(r.Context(), params["dataset"])
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.write(w, http.StatusOK, reports)
}

func (a *api) createSource(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	var source model.Source
	if err := a.decode(r, &source); err != nil {
		a.fail(w, r, err)
		return
	}

	if err := a.catalog.CreateSource(r.Context(), &source); err != nil {
		a.fail(w, r, err)
		return
	}
	a.write(w, http.StatusCreated, source)
}

type seedRequest struct {
	Reference  string              `json:"reference"`
	State      model.DocumentState `json:"state"`
	Properties map[string]any      `json:"properties"`
	ModifiedAt *time.Time          `json:"modified_at"`
}

// putSeeds replaces the seeds a static source serves on its next harvest.
func (a *api) putSeeds(w http.ResponseWriter, r *http.Request, params map[string]string) {
	var req []seedRequest
	if err := a.decode(r, &req); err != nil {
		a.fail(w, r, err)
		return
	}

	seeds := make([]*seed.Seed, 0, len(req))
	for _, s := range req {
		seeds = append(seeds, &seed.Seed{
			Reference:  s.Reference,
			State:      s.State,
			Properties: s.Properties,
			ModifiedAt: s.ModifiedAt,
		})
	}
	a.static.Put(params["source"], seeds...)

	a.write(w, http.StatusAccepted, map[string]int{"seeds": len(seeds)})
}

func (a *api) runHarvest(w http.ResponseWriter, r *http.Request, params map[string]string) {
	id, err := pathID(params)
	if err != nil {
		a.fail(w, r, err)
		return
	}

	result, err := a.catalog.RunHarvest(r.Context(), id)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.write(w, http.StatusOK, result)
}

func (a *api) resetHarvest(w http.ResponseWriter, r *http.Request, params map[string]string) {
	id, err := pathID(params)
	if err != nil {
		a.fail(w, r, err)
		return
	}

	if err := a.catalog.ResetHarvest(r.Context(), id); err != nil {
		a.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *api) getVersion(w http.ResponseWriter, r *http.Request, params map[string]string) {
	id, err := pathID(params)
	if err != nil {
		a.fail(w, r, err)
		return
	}

	v, err := a.catalog.GetVersion(r.Context(), id)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.write(w, http.StatusOK, v)
}

func (a *api) deleteVersion(w http.ResponseWriter, r *http.Request, params map[string]string) {
	id, err := pathID(params)
	if err != nil {
		a.fail(w, r, err)
		return
	}

	if err := a.catalog.DeleteVersion(r.Context(), id); err != nil {
		a.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *api) promoteVersion(w http.ResponseWriter, r *http.Request, params map[string]string) {
	id, err := pathID(params)
	if err != nil {
		a.fail(w, r, err)
		return
	}

	report, err := a.catalog.PromoteVersion(r.Context(), id)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.write(w, http.StatusOK, report)
}

type exportResponse struct {
	Key       string `json:"key"`
	Documents int    `json:"documents"`
}

func (a *api) exportVersion(w http.ResponseWriter, r *http.Request, params map[string]string) {
	id, err := pathID(params)
	if err != nil {
		a.fail(w, r, err)
		return
	}

	key, count, err := a.catalog.ExportVersion(r.Context(), id)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.write(w, http.StatusOK, exportResponse{Key: key, Documents: count})
}

func (a *api) rebuildIndex(w http.ResponseWriter, r *http.Request, params map[string]string) {
	id, err := pathID(params)
	if err != nil {
		a.fail(w, r, err)
		return
	}

	query := r.URL.Query()
	opts := search.Options{
		Recreate: query.Get("recreate") == "true",
		Promote:  query.Get("promote") == "true",
	}

	result, err := a.catalog.RebuildIndex(r.Context(), id, params["language"], opts)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.write(w, http.StatusOK, result)
}

func (a *api) getExtension(w http.ResponseWriter, r *http.Request, params map[string]string) {
	extension, err := a.catalog.GetExtension(r.Context(), params["id"])
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.write(w, http.StatusOK, extension)
}

func (a *api) deleteExtension(w http.ResponseWriter, r *http.Request, params map[string]string) {
	if err := a.catalog.DeleteExtension(r.Context(), params["id"]); err != nil {
		a.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *api) runTask(w http.ResponseWriter, r *http.Request, params map[string]string) {
	ran, err := a.executor.Trigger(params["task"])
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.write(w, http.StatusOK, map[string]bool{"ran": ran})
}
