package catalog

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/emrgen/catalog/internal/server"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// Client talks to the admin API of a catalog worker.
type Client struct {
	baseURL string
	http    *http.Client
}

// APIError is returned for non 2xx responses.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("catalog api: %d: %s", e.Status, e.Message)
}

func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 10 * time.Minute},
	}
}

func (c *Client) do(ctx context.Context, method, path string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	res, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	if res.StatusCode >= 300 {
		var failure struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(res.Body).Decode(&failure)
		return &APIError{Status: res.StatusCode, Message: failure.Error}
	}

	if out == nil || res.StatusCode == http.StatusNoContent {
		return nil
	}
	return json.NewDecoder(res.Body).Decode(out)
}

// Dataset, Version, Harvest and Extension mirror the JSON of the admin API.
type Dataset struct {
	ID       uint   `json:"ID"`
	Name     string `json:"Name"`
	IsActive bool   `json:"IsActive"`
}

type Version struct {
	ID        uint      `json:"ID"`
	DatasetID uint      `json:"DatasetID"`
	Version   string    `json:"Version"`
	IsCurrent bool      `json:"IsCurrent"`
	CreatedAt time.Time `json:"CreatedAt"`
}

type Source struct {
	Name     string `json:"name"`
	Module   string `json:"module"`
	Endpoint string `json:"endpoint"`
	SetSpec  string `json:"SetSpec,omitempty"`
}

type Harvest struct {
	ID             uint       `json:"ID"`
	DatasetID      uint       `json:"DatasetID"`
	SourceID       uint       `json:"SourceID"`
	Stage          string     `json:"Stage"`
	LatestUpdateAt time.Time  `json:"LatestUpdateAt"`
	HarvestedAt    *time.Time `json:"HarvestedAt"`
}

type Extension struct {
	ID         string         `json:"id"`
	Properties map[string]any `json:"properties"`
	IsAddition bool           `json:"is_addition"`
	IsParent   bool           `json:"is_parent"`
}

type Seed struct {
	Reference  string         `json:"reference"`
	State      string         `json:"state,omitempty"`
	Properties map[string]any `json:"properties,omitempty"`
	ModifiedAt *time.Time     `json:"modified_at,omitempty"`
}

func (c *Client) ListDatasets(ctx context.Context) ([]Dataset, error) {
	var out []Dataset
	return out, c.do(ctx, http.MethodGet, "/v1/datasets", nil, &out)
}

func (c *Client) CreateDataset(ctx context.Context, name string) (*Dataset, error) {
	var out Dataset
	return &out, c.do(ctx, http.MethodPost, "/v1/datasets", map[string]string{"name": name}, &out)
}

func (c *Client) CreateSource(ctx context.Context, source Source) error {
	return c.do(ctx, http.MethodPost, "/v1/sources", source, nil)
}

// PutSeeds replaces the seeds a static source serves on its next harvest.
func (c *Client) PutSeeds(ctx context.Context, source string, seeds []Seed) error {
	return c.do(ctx, http.MethodPut, "/v1/sources/"+url.PathEscape(source)+"/seeds", seeds, nil)
}

func (c *Client) AddHarvest(ctx context.Context, dataset, source string) (*Harvest, error) {
	var out Harvest
	return &out, c.do(ctx, http.MethodPost, "/v1/datasets/"+url.PathEscape(dataset)+"/harvests", map[string]string{"source": source}, &out)
}

func (c *Client) ListHarvests(ctx context.Context, dataset string) ([]Harvest, error) {
	var out []Harvest
	return out, c.do(ctx, http.MethodGet, "/v1/datasets/"+url.PathEscape(dataset)+"/harvests", nil, &out)
}

// RunHarvests runs every harvest of the dataset and returns the raw run results.
func (c *Client) RunHarvests(ctx context.Context, dataset string) (json.RawMessage, error) {
	var out json.RawMessage
	return out, c.do(ctx, http.MethodPost, "/v1/datasets/"+url.PathEscape(dataset)+"/harvests/run", nil, &out)
}

func (c *Client) RunHarvest(ctx context.Context, id uint) (json.RawMessage, error) {
	var out json.RawMessage
	return out, c.do(ctx, http.MethodPost, fmt.Sprintf("/v1/harvests/%d/run", id), nil, &out)
}

func (c *Client) ResetHarvest(ctx context.Context, id uint) error {
	return c.do(ctx, http.MethodPost, fmt.Sprintf("/v1/harvests/%d/reset", id), nil, nil)
}

func (c *Client) ListVersions(ctx context.Context, dataset string) ([]Version, error) {
	var out []Version
	return out, c.do(ctx, http.MethodGet, "/v1/datasets/"+url.PathEscape(dataset)+"/versions", nil, &out)
}

func (c *Client) CreateVersion(ctx context.Context, dataset string) (*Version, error) {
	var out Version
	return &out, c.do(ctx, http.MethodPost, "/v1/datasets/"+url.PathEscape(dataset)+"/versions", nil, &out)
}

// PromoteVersion makes the version current and returns the promotion report.
func (c *Client) PromoteVersion(ctx context.Context, id uint) (json.RawMessage, error) {
	var out json.RawMessage
	return out, c.do(ctx, http.MethodPost, fmt.Sprintf("/v1/versions/%d/promote", id), nil, &out)
}

func (c *Client) DeleteVersion(ctx context.Context, id uint) error {
	return c.do(ctx, http.MethodDelete, fmt.Sprintf("/v1/versions/%d", id), nil, nil)
}

func (c *Client) RebuildIndex(ctx context.Context, id uint, language string, recreate, promote bool) (json.RawMessage, error) {
	query := url.Values{}
	query.Set("recreate", fmt.Sprint(recreate))
	query.Set("promote", fmt.Sprint(promote))

	var out json.RawMessage
	path := fmt.Sprintf("/v1/versions/%d/indices/%s/rebuild?%s", id, url.PathEscape(language), query.Encode())
	return out, c.do(ctx, http.MethodPost, path, nil, &out)
}

func (c *Client) SyncIndices(ctx context.Context, dataset string) (json.RawMessage, error) {
	var out json.RawMessage
	return out, c.do(ctx, http.MethodPost, "/v1/datasets/"+url.PathEscape(dataset)+"/indices/sync", nil, &out)
}

// SaveExtension creates or updates an extension and returns its id.
func (c *Client) SaveExtension(ctx context.Context, dataset string, extension Extension) (string, error) {
	var out struct {
		ID string `json:"ID"`
	}
	err := c.do(ctx, http.MethodPost, "/v1/datasets/"+url.PathEscape(dataset)+"/extensions", extension, &out)
	return out.ID, err
}

func (c *Client) DeleteExtension(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/v1/extensions/"+url.PathEscape(id), nil, nil)
}

// ExportVersion dumps the version and returns the object key of the dump.
func (c *Client) ExportVersion(ctx context.Context, id uint) (string, error) {
	var out struct {
		Key string `json:"key"`
	}
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("/v1/versions/%d/export", id), nil, &out)
	return out.Key, err
}

func (c *Client) ImportVersion(ctx context.Context, dataset, key string) (*Version, error) {
	var out struct {
		Version *Version `json:"version"`
	}
	err := c.do(ctx, http.MethodPost, "/v1/datasets/"+url.PathEscape(dataset)+"/imports", map[string]string{"key": key}, &out)
	return out.Version, err
}

func (c *Client) Reports(ctx context.Context, dataset string) (map[string]json.RawMessage, error) {
	var out map[string]json.RawMessage
	return out, c.do(ctx, http.MethodGet, "/v1/datasets/"+url.PathEscape(dataset)+"/reports", nil, &out)
}

// RunTask runs a scheduled task now. It reports false when the task was already running.
func (c *Client) RunTask(ctx context.Context, task string) (bool, error) {
	var out map[string]bool
	err := c.do(ctx, http.MethodPost, "/v1/tasks/"+url.PathEscape(task)+"/run", nil, &out)
	return out["ran"], err
}

// CheckHealth asks the grpc health service of a worker whether it is serving.
func CheckHealth(ctx context.Context, addr string) (bool, error) {
	conn, err := grpc.NewClient(addr,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithUnaryInterceptor(server.UnaryRequestTimeInterceptor()),
	)
	if err != nil {
		return false, err
	}
	defer conn.Close()

	res, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{})
	if err != nil {
		return false, err
	}
	return res.GetStatus() == healthpb.HealthCheckResponse_SERVING, nil
}
