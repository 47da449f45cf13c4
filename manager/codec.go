package manager

import (
	"cmp"
	"encoding/json"
	"fmt"

	"github.com/c360/agentsdk/errors"
)

// Codec maps a domain's keys and values to store keys and bytes, and orders
// keys for iteration.
type Codec[K comparable, V any] interface {
	Compare(a, b K) int
	EncodeKey(k K) string
	DecodeKey(s string) (K, error)
	EncodeValue(v V) ([]byte, error)
	DecodeValue(data []byte) (V, error)
}

// JSONValues provides the value half of a Codec using JSON. Domain codecs
// embed it next to their key methods.
type JSONValues[V any] struct{}

// EncodeValue implements Codec.
func (JSONValues[V]) EncodeValue(v V) ([]byte, error) {
	return json.Marshal(v)
}

// DecodeValue implements Codec.
func (JSONValues[V]) DecodeValue(data []byte) (V, error) {
	var v V
	if err := json.Unmarshal(data, &v); err != nil {
		return v, fmt.Errorf("%w: %v", errors.ErrParsingFailed, err)
	}
	return v, nil
}

// StringKeys provides the key half of a Codec for string-kinded keys.
type StringKeys[K ~string] struct{}

// Compare implements Codec.
func (StringKeys[K]) Compare(a, b K) int {
	return cmp.Compare(a, b)
}

// EncodeKey implements Codec.
func (StringKeys[K]) EncodeKey(k K) string {
	return string(k)
}

// DecodeKey implements Codec.
func (StringKeys[K]) DecodeKey(s string) (K, error) {
	if s == "" {
		return "", fmt.Errorf("%w: empty key", errors.ErrInvalidData)
	}
	return K(s), nil
}

// JSONCodec combines StringKeys and JSONValues.
type JSONCodec[K ~string, V any] struct {
	StringKeys[K]
	JSONValues[V]
}
