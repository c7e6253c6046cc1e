package search

import (
	"encoding/json"

	"github.com/emrgen/catalog/internal/model"
)

var analyzers = map[string]string{
	"nl": "dutch",
	"en": "english",
}

// IndexConfiguration returns the settings and mappings a new index of the
// language is created with. The result is stored on the SearchIndex row once
// and reused verbatim whenever the remote index is recreated.
func IndexConfiguration(language string) (json.RawMessage, error) {
	analyzer, ok := analyzers[language]
	if !ok {
		analyzer = "standard"
	}

	text := map[string]any{
		"type":     "text",
		"analyzer": analyzer,
		"fields": map[string]any{
			"keyword": map[string]any{"type": "keyword", "ignore_above": 256},
		},
	}

	configuration := map[string]any{
		"settings": map[string]any{
			"index": map[string]any{
				"number_of_shards":   1,
				"number_of_replicas": 0,
			},
		},
		"mappings": map[string]any{
			"dynamic_templates": []any{
				map[string]any{
					"strings": map[string]any{
						"match_mapping_type": "string",
						"mapping":            text,
					},
				},
			},
			"properties": map[string]any{
				"reference":            map[string]any{"type": "keyword"},
				"collection":           map[string]any{"type": "keyword"},
				"is_addition":          map[string]any{"type": "boolean"},
				model.LanguageProperty: map[string]any{"type": "keyword"},
				"modified_at":          map[string]any{"type": "date"},
			},
		},
	}

	return json.Marshal(configuration)
}
