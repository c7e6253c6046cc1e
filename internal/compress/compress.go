package compress

import (
	"bytes"
	"fmt"
	"io"
	"strings"
)

// Compress is a compression codec for version exports.
type Compress interface {
	// Name is the codec name used in configuration.
	Name() string
	// Extension is the file suffix of encoded data.
	Extension() string
	NewWriter(w io.Writer) (io.WriteCloser, error)
	NewReader(r io.Reader) (io.ReadCloser, error)
	Encode(data []byte) ([]byte, error)
	Decode(data []byte) ([]byte, error)
}

// New returns the codec with the given name.
func New(name string) (Compress, error) {
	switch name {
	case "gzip":
		return NewGZip(), nil
	case "brotli":
		return NewBrotli(), nil
	case "lz4":
		return NewLZ4(), nil
	case "none", "":
		return NewNop(), nil
	default:
		return nil, fmt.Errorf("unknown compression codec %q", name)
	}
}

// ForExtension returns the codec whose file suffix ends name.
func ForExtension(name string) Compress {
	for _, codec := range []Compress{NewGZip(), NewBrotli(), NewLZ4()} {
		if strings.HasSuffix(name, codec.Extension()) {
			return codec
		}
	}
	return NewNop()
}

func encode(c Compress, data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w, err := c.NewWriter(&buf)
	if err != nil {
		return nil, err
	}

	_, err = w.Write(data)
	if err != nil {
		return nil, err
	}

	err = w.Close()
	if err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

func decode(c Compress, data []byte) ([]byte, error) {
	r, err := c.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer r.Close()

	var buf bytes.Buffer
	_, err = buf.ReadFrom(r)
	if err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}
