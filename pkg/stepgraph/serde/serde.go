// Package serde is the single JSON codec used for channel values,
// checkpoints and cache payloads.
//
// It wraps sonic in its standard-library compatible mode so encoded
// output is byte-for-byte stable (sorted map keys, escaped HTML) and can
// be compared across runs.
package serde

import (
	"encoding/json"
	"fmt"

	"github.com/bytedance/sonic"
)

var api = sonic.ConfigStd

// Marshal encodes v as JSON.
func Marshal(v any) ([]byte, error) {
	data, err := api.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("serde: marshal %T: %w", v, err)
	}
	return data, nil
}

// Unmarshal decodes data into v.
func Unmarshal(data []byte, v any) error {
	if err := api.Unmarshal(data, v); err != nil {
		return fmt.Errorf("serde: unmarshal into %T: %w", v, err)
	}
	return nil
}

// Raw encodes v and returns it as a json.RawMessage.
func Raw(v any) (json.RawMessage, error) {
	data, err := Marshal(v)
	if err != nil {
		return nil, err
	}
	return json.RawMessage(data), nil
}

// Decode unmarshals raw into a new value of type T.
func Decode[T any](raw []byte) (T, error) {
	var v T
	if len(raw) == 0 {
		return v, nil
	}
	err := Unmarshal(raw, &v)
	return v, err
}

// Valid reports whether data is a well-formed JSON document.
func Valid(data []byte) bool {
	return api.Valid(data)
}
