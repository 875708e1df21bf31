package vm

import (
	"encoding/json"
	"fmt"
)

// LoadItem decodes the JSON value stored under key into out. It reports false
// when the key does not exist.
func LoadItem(store Storage, key string, out interface{}) (bool, error) {
	raw, found, err := store.Get([]byte(key))
	if err != nil || !found {
		return false, err
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return true, fmt.Errorf("decode %s: %w", key, err)
	}
	return true, nil
}

// SaveItem stores v as JSON under key.
func SaveItem(store Storage, key string, v interface{}) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	store.Set([]byte(key), raw)
	return nil
}

// Dispatch decodes an externally tagged message {"<variant>": {...}} and
// returns the variant name and its body.
func Dispatch(msg []byte) (string, json.RawMessage, error) {
	var envelope map[string]json.RawMessage
	if err := json.Unmarshal(msg, &envelope); err != nil {
		return "", nil, fmt.Errorf("parse message: %w", err)
	}
	if len(envelope) != 1 {
		return "", nil, fmt.Errorf("message must have exactly one variant, got %d", len(envelope))
	}
	for name, body := range envelope {
		return name, body, nil
	}
	return "", nil, nil
}

// Encode builds the externally tagged form of body.
func Encode(variant string, body interface{}) []byte {
	if body == nil {
		body = struct{}{}
	}
	raw, err := json.Marshal(map[string]interface{}{variant: body})
	if err != nil {
		panic(err)
	}
	return raw
}
