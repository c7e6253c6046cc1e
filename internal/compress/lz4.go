package compress

import (
	"io"

	"github.com/pierrec/lz4/v4"
)

type LZ4 struct {
}

func NewLZ4() LZ4 {
	return LZ4{}
}

func (l LZ4) Name() string {
	return "lz4"
}

func (l LZ4) Extension() string {
	return ".lz4"
}

func (l LZ4) NewWriter(w io.Writer) (io.WriteCloser, error) {
	return lz4.NewWriter(w), nil
}

func (l LZ4) NewReader(r io.Reader) (io.ReadCloser, error) {
	return io.NopCloser(lz4.NewReader(r)), nil
}

func (l LZ4) Encode(data []byte) ([]byte, error) {
	return encode(l, data)
}

func (l LZ4) Decode(data []byte) ([]byte, error) {
	return decode(l, data)
}
