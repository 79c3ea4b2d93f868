package memory

import (
	"encoding/json"
	"errors"
	"strings"

	"github.com/aschepis/memvault/memerr"
)

// EncodeContent serializes a record's content for storage.
func EncodeContent(content any) (string, error) {
	b, err := json.Marshal(content)
	if err != nil {
		return "", memerr.NewEncodingError("marshal content", err)
	}
	return string(b), nil
}

// DecodeContent reverses EncodeContent. Numbers decode as json.Number so
// integers beyond 2^53 survive the round trip.
func DecodeContent(raw string) (any, error) {
	var v any
	if err := decodeJSON(raw, &v); err != nil {
		return nil, memerr.NewEncodingError("unmarshal content", err)
	}
	return v, nil
}

// EncodeMetadata serializes a metadata map. A nil map is stored as {}.
func EncodeMetadata(metadata map[string]any) (string, error) {
	if metadata == nil {
		return "{}", nil
	}
	b, err := json.Marshal(metadata)
	if err != nil {
		return "", memerr.NewEncodingError("marshal metadata", err)
	}
	return string(b), nil
}

// DecodeMetadata reverses EncodeMetadata; it never returns a nil map.
func DecodeMetadata(raw string) (map[string]any, error) {
	meta := map[string]any{}
	if raw == "" {
		return meta, nil
	}
	if err := decodeJSON(raw, &meta); err != nil {
		return nil, memerr.NewEncodingError("unmarshal metadata", err)
	}
	if meta == nil {
		meta = map[string]any{}
	}
	return meta, nil
}

func decodeJSON(raw string, v any) error {
	dec := json.NewDecoder(strings.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(v); err != nil {
		return err
	}
	if dec.More() {
		return errors.New("unexpected data after JSON value")
	}
	return nil
}
