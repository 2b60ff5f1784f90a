// Package codec turns Go values into cache values and back.
package codec

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrUnsupportedType is returned by Raw for values other than []byte and string.
var ErrUnsupportedType = errors.New("codec: unsupported type")

// Codec serializes values stored in the cache.
type Codec interface {
	Encode(v any) ([]byte, error)
	Decode(data []byte, v any) error
}

var (
	// JSON encodes values with encoding/json.
	JSON Codec = jsonCodec{}

	// Raw stores []byte and string values as they are.
	Raw Codec = rawCodec{}
)

type jsonCodec struct{}

func (jsonCodec) Encode(v any) ([]byte, error) {
	return json.Marshal(v)
}

func (jsonCodec) Decode(data []byte, v any) error {
	return json.Unmarshal(data, v)
}

type rawCodec struct{}

func (rawCodec) Encode(v any) ([]byte, error) {
	switch v := v.(type) {
	case []byte:
		return v, nil
	case string:
		return []byte(v), nil
	case *[]byte:
		return *v, nil
	case *string:
		return []byte(*v), nil
	}
	return nil, fmt.Errorf("%w: %T", ErrUnsupportedType, v)
}

func (rawCodec) Decode(data []byte, v any) error {
	switch v := v.(type) {
	case *[]byte:
		*v = data
	case *string:
		*v = string(data)
	default:
		return fmt.Errorf("%w: %T", ErrUnsupportedType, v)
	}
	return nil
}
