package compress

import (
	"compress/gzip"
	"io"
)

type GZip struct {
}

func NewGZip() GZip {
	return GZip{}
}

func (g GZip) Name() string {
	return "gzip"
}

func (g GZip) Extension() string {
	return ".gz"
}

func (g GZip) NewWriter(w io.Writer) (io.WriteCloser, error) {
	return gzip.NewWriter(w), nil
}

func (g GZip) NewReader(r io.Reader) (io.ReadCloser, error) {
	return gzip.NewReader(r)
}

func (g GZip) Encode(data []byte) ([]byte, error) {
	return encode(g, data)
}

func (g GZip) Decode(data []byte) ([]byte, error) {
	return decode(g, data)
}
