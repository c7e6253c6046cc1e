package seed

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/emrgen/catalog/internal/model"
	"github.com/jszwec/csvutil"
	"github.com/sirupsen/logrus"
)

// csvRecord holds the columns with a fixed meaning. Every other column becomes a property.
type csvRecord struct {
	Reference  string `csv:"reference"`
	State      string `csv:"state,omitempty"`
	ModifiedAt string `csv:"modified_at,omitempty"`
}

// CSVSource reads seeds from a CSV file or URL named by the source endpoint.
type CSVSource struct {
	client *http.Client
}

func NewCSVSource(timeout time.Duration) *CSVSource {
	return &CSVSource{
		client: &http.Client{Timeout: timeout},
	}
}

func (c *CSVSource) Fetch(ctx context.Context, source *model.Source, since time.Time) ([]*Seed, error) {
	body, err := c.open(ctx, source.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrUnavailable, source.Name, err)
	}
	defer body.Close()

	seeds, err := ParseCSV(body, since)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrUnavailable, source.Name, err)
	}

	logrus.Debugf("csv source %s produced %d seeds since %s", source.Name, len(seeds), since.Format(time.RFC3339))

	return seeds, nil
}

func (c *CSVSource) open(ctx context.Context, endpoint string) (io.ReadCloser, error) {
	if !strings.HasPrefix(endpoint, "http://") && !strings.HasPrefix(endpoint, "https://") {
		return os.Open(strings.TrimPrefix(endpoint, "file://"))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	res, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	if res.StatusCode != http.StatusOK {
		res.Body.Close()
		return nil, fmt.Errorf("unexpected status %s", res.Status)
	}

	return res.Body, nil
}

// ParseCSV decodes seed records from r, keeping those modified since the given time.
// The header must contain a reference column; state and modified_at are optional.
func ParseCSV(r io.Reader, since time.Time) ([]*Seed, error) {
	dec, err := csvutil.NewDecoder(csv.NewReader(r))
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("empty csv")
		}
		return nil, err
	}

	header := dec.Header()
	var seeds []*Seed
	for {
		var record csvRecord
		if err := dec.Decode(&record); err == io.EOF {
			break
		} else if err != nil {
			return nil, err
		}

		s := &Seed{
			Reference:  record.Reference,
			State:      model.DocumentState(strings.ToLower(record.State)),
			Properties: map[string]any{},
		}
		if s.State == "" {
			s.State = model.DocumentStateActive
		}
		if record.ModifiedAt != "" {
			at, err := time.Parse(time.RFC3339, record.ModifiedAt)
			if err != nil {
				return nil, fmt.Errorf("reference %q: invalid modified_at: %w", record.Reference, err)
			}
			s.ModifiedAt = &at
		}

		values := dec.Record()
		for _, i := range dec.Unused() {
			if values[i] != "" {
				s.Properties[header[i]] = values[i]
			}
		}

		if modifiedSince(s, since) {
			seeds = append(seeds, s)
		}
	}

	return seeds, nil
}
