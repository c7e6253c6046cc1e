package compress

import (
	"io"

	"github.com/andybalholm/brotli"
)

type Brotli struct {
	level int
}

func NewBrotli() Brotli {
	return Brotli{level: brotli.DefaultCompression}
}

func (b Brotli) Name() string {
	return "brotli"
}

func (b Brotli) Extension() string {
	return ".br"
}

func (b Brotli) NewWriter(w io.Writer) (io.WriteCloser, error) {
	return brotli.NewWriterLevel(w, b.level), nil
}

func (b Brotli) NewReader(r io.Reader) (io.ReadCloser, error) {
	return io.NopCloser(brotli.NewReader(r)), nil
}

func (b Brotli) Encode(data []byte) ([]byte, error) {
	return encode(b, data)
}

func (b Brotli) Decode(data []byte) ([]byte, error) {
	return decode(b, data)
}
