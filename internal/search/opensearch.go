package search

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/opensearch-project/opensearch-go/v2"
	"github.com/opensearch-project/opensearch-go/v2/opensearchapi"
	"github.com/sirupsen/logrus"
)

// OpenSearchEngine talks to an OpenSearch cluster. One engine is created per
// worker process and shared by every synchronizer call.
type OpenSearchEngine struct {
	client  *opensearch.Client
	timeout time.Duration
}

var _ Engine = (*OpenSearchEngine)(nil)

func NewOpenSearchEngine(addresses []string, username, password string, timeout time.Duration) (*OpenSearchEngine, error) {
	client, err := opensearch.NewClient(opensearch.Config{
		Addresses: addresses,
		Username:  username,
		Password:  password,
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{MinVersion: tls.VersionTLS12},
		},
	})
	if err != nil {
		return nil, err
	}

	return &OpenSearchEngine{
		client:  client,
		timeout: timeout,
	}, nil
}

func (o *OpenSearchEngine) IndexExists(ctx context.Context, name string) (bool, error) {
	res, err := opensearchapi.IndicesExistsRequest{Index: []string{name}}.Do(ctx, o.client)
	if err != nil {
		return false, err
	}
	defer res.Body.Close()

	switch res.StatusCode {
	case http.StatusOK:
		return true, nil
	case http.StatusNotFound:
		return false, nil
	default:
		return false, responseError("index exists", res)
	}
}

func (o *OpenSearchEngine) CreateIndex(ctx context.Context, name string, configuration json.RawMessage) error {
	res, err := opensearchapi.IndicesCreateRequest{
		Index: name,
		Body:  bytes.NewReader(configuration),
	}.Do(ctx, o.client)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	if res.IsError() {
		return responseError("create index", res)
	}

	logrus.Infof("created index %s", name)

	return nil
}

func (o *OpenSearchEngine) DeleteIndex(ctx context.Context, name string) error {
	res, err := opensearchapi.IndicesDeleteRequest{Index: []string{name}}.Do(ctx, o.client)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	if res.IsError() && res.StatusCode != http.StatusNotFound {
		return responseError("delete index", res)
	}

	logrus.Infof("deleted index %s", name)

	return nil
}

func (o *OpenSearchEngine) Bulk(ctx context.Context, index string, actions []Action) ([]ItemError, error) {
	if len(actions) == 0 {
		return nil, nil
	}

	body, err := bulkBody(actions)
	if err != nil {
		return nil, err
	}

	res, err := opensearchapi.BulkRequest{
		Index:   index,
		Body:    body,
		Timeout: o.timeout,
	}.Do(ctx, o.client)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()

	if res.IsError() {
		return nil, responseError("bulk", res)
	}

	return parseBulkResponse(res.Body)
}

func (o *OpenSearchEngine) PutAlias(ctx context.Context, index, alias string) error {
	res, err := opensearchapi.IndicesPutAliasRequest{
		Index: []string{index},
		Name:  alias,
	}.Do(ctx, o.client)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	if res.IsError() {
		return responseError("put alias", res)
	}

	return nil
}

func (o *OpenSearchEngine) DeleteAlias(ctx context.Context, alias string) error {
	targets, err := o.AliasTargets(ctx, alias)
	if err != nil {
		return err
	}
	if len(targets) == 0 {
		return nil
	}

	res, err := opensearchapi.IndicesDeleteAliasRequest{
		Index: targets,
		Name:  []string{alias},
	}.Do(ctx, o.client)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	if res.IsError() && res.StatusCode != http.StatusNotFound {
		return responseError("delete alias", res)
	}

	return nil
}

func (o *OpenSearchEngine) AliasTargets(ctx context.Context, alias string) ([]string, error) {
	res, err := opensearchapi.IndicesGetAliasRequest{Name: []string{alias}}.Do(ctx, o.client)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()

	if res.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if res.IsError() {
		return nil, responseError("get alias", res)
	}

	var holders map[string]json.RawMessage
	if err := json.NewDecoder(res.Body).Decode(&holders); err != nil {
		return nil, err
	}

	targets := make([]string, 0, len(holders))
	for index := range holders {
		targets = append(targets, index)
	}

	return targets, nil
}

func responseError(op string, res *opensearchapi.Response) error {
	body, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
	return fmt.Errorf("opensearch %s failed with status %d: %s", op, res.StatusCode, body)
}

// bulkBody renders actions in the newline delimited bulk format.
func bulkBody(actions []Action) (io.Reader, error) {
	var buf bytes.Buffer
	encoder := json.NewEncoder(&buf)

	for _, action := range actions {
		meta := map[string]any{
			string(action.Operation): map[string]any{"_id": action.ID},
		}
		if err := encoder.Encode(meta); err != nil {
			return nil, err
		}
		if action.Operation == OperationDelete {
			continue
		}
		if err := encoder.Encode(action.Body); err != nil {
			return nil, fmt.Errorf("document %s: %w", action.ID, err)
		}
	}

	return &buf, nil
}

type bulkResponse struct {
	Errors bool                        `json:"errors"`
	Items  []map[string]bulkItemResult `json:"items"`
}

type bulkItemResult struct {
	ID     string `json:"_id"`
	Status int    `json:"status"`
	Error  *struct {
		Type   string `json:"type"`
		Reason string `json:"reason"`
	} `json:"error,omitempty"`
}

// parseBulkResponse returns the failed items of a bulk response.
// Deleting a document that does not exist is not a failure.
func parseBulkResponse(r io.Reader) ([]ItemError, error) {
	var response bulkResponse
	if err := json.NewDecoder(r).Decode(&response); err != nil {
		return nil, fmt.Errorf("failed to decode bulk response: %w", err)
	}
	if !response.Errors {
		return nil, nil
	}

	var failed []ItemError
	for _, item := range response.Items {
		for operation, result := range item {
			if result.Status < 300 {
				continue
			}
			if operation == string(OperationDelete) && result.Status == http.StatusNotFound {
				continue
			}

			reason := http.StatusText(result.Status)
			if result.Error != nil {
				reason = result.Error.Type + ": " + result.Error.Reason
			}
			failed = append(failed, ItemError{ID: result.ID, Status: result.Status, Reason: reason})
		}
	}

	return failed, nil
}
