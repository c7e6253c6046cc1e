package compress

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCodecs(t *testing.T) {
	data := bytes.Repeat([]byte(`{"reference":"a","properties":{"title":"catalog"}}`+"\n"), 200)

	for _, name := range []string{"gzip", "brotli", "lz4", "none"} {
		t.Run(name, func(t *testing.T) {
			codec, err := New(name)
			require.NoError(t, err)
			assert.Equal(t, name, codec.Name())

			encoded, err := codec.Encode(data)
			require.NoError(t, err)
			if name != "none" {
				assert.Less(t, len(encoded), len(data))
			}

			decoded, err := codec.Decode(encoded)
			require.NoError(t, err)
			assert.Equal(t, data, decoded)
		})
	}

	_, err := New("zstd")
	assert.Error(t, err)
}

func TestForExtension(t *testing.T) {
	assert.Equal(t, "gzip", ForExtension("catalog-001.jsonl.gz").Name())
	assert.Equal(t, "brotli", ForExtension("catalog-001.jsonl.br").Name())
	assert.Equal(t, "lz4", ForExtension("catalog-001.jsonl.lz4").Name())
	assert.Equal(t, "none", ForExtension("catalog-001.jsonl").Name())
}
