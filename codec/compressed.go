package codec

import (
	"bytes"
	"fmt"
	"io"

	"github.com/andybalholm/brotli"
)

// Compressed wraps a codec with brotli compression of the encoded bytes.
// Level ranges from brotli.BestSpeed to brotli.BestCompression.
func Compressed(inner Codec, level int) Codec {
	return compressedCodec{inner: inner, level: level}
}

type compressedCodec struct {
	inner Codec
	level int
}

func (c compressedCodec) Encode(v any) ([]byte, error) {
	data, err := c.inner.Encode(v)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	w := brotli.NewWriterLevel(&buf, c.level)
	if _, err := w.Write(data); err != nil {
		return nil, fmt.Errorf("codec: compress: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("codec: compress: %w", err)
	}
	return buf.Bytes(), nil
}

func (c compressedCodec) Decode(data []byte, v any) error {
	plain, err := io.ReadAll(brotli.NewReader(bytes.NewReader(data)))
	if err != nil {
		return fmt.Errorf("codec: decompress: %w", err)
	}
	return c.inner.Decode(plain, v)
}
