package protocol

import (
	"bytes"
	"encoding/json"

	"github.com/klauspost/compress/gzip"
	"github.com/pkg/errors"
)

const (
	HeaderAPIKey          = "X-API-Key"
	HeaderContentEncoding = "Content-Encoding"
	ContentTypeJSON       = "application/json"
)

// Body is an encoded payload ready to be posted.
type Body struct {
	Data    []byte
	Gzipped bool
}

// Encode serializes payload to JSON, gzipping it when compress is set.
func Encode(payload interface{}, compress bool) (*Body, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, errors.Wrap(err, "marshal payload")
	}
	if !compress {
		return &Body{Data: data}, nil
	}

	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(data); err != nil {
		return nil, errors.Wrap(err, "gzip payload")
	}
	if err := zw.Close(); err != nil {
		return nil, errors.Wrap(err, "gzip payload")
	}
	return &Body{Data: buf.Bytes(), Gzipped: true}, nil
}
