package search

import (
	"encoding/json"
	"math/big"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/aschepis/memvault/memerr"
)

// metadataFilter is a set of exact-match predicates over an entry's metadata.
// Expected values are normalized through JSON and numbers compare by value,
// so 5 and 5.0 are equal.
type metadataFilter map[string]any

func newMetadataFilter(filters map[string]any) (metadataFilter, error) {
	if len(filters) == 0 {
		return nil, nil
	}
	f := make(metadataFilter, len(filters))
	for key, want := range filters {
		norm, err := normalizeJSON(want)
		if err != nil {
			return nil, memerr.NewEncodingError("marshal filter value for "+key, err)
		}
		f[key] = norm
	}
	return f, nil
}

// matches reports whether every predicate holds for metaJSON. A missing field
// fails the predicate.
func (f metadataFilter) matches(metaJSON string) bool {
	for path, want := range f {
		res := gjson.Get(metaJSON, path)
		if !res.Exists() {
			return false
		}
		got, err := decodeNumbers([]byte(res.Raw))
		if err != nil {
			return false
		}
		if !jsonEqual(got, want) {
			return false
		}
	}
	return true
}

func normalizeJSON(v any) (any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return decodeNumbers(b)
}

func decodeNumbers(b []byte) (any, error) {
	dec := json.NewDecoder(strings.NewReader(string(b)))
	dec.UseNumber()
	var out any
	if err := dec.Decode(&out); err != nil {
		return nil, err
	}
	return out, nil
}

// jsonEqual compares decoded JSON values. Numbers are compared exactly as
// decimals rather than as float64.
func jsonEqual(a, b any) bool {
	switch av := a.(type) {
	case json.Number:
		bv, ok := b.(json.Number)
		if !ok {
			return false
		}
		ar, aok := new(big.Rat).SetString(av.String())
		br, bok := new(big.Rat).SetString(bv.String())
		if !aok || !bok {
			return av == bv
		}
		return ar.Cmp(br) == 0
	case []any:
		bv, ok := b.([]any)
		if !ok || len(av) != len(bv) {
			return false
		}
		for i := range av {
			if !jsonEqual(av[i], bv[i]) {
				return false
			}
		}
		return true
	case map[string]any:
		bv, ok := b.(map[string]any)
		if !ok || len(av) != len(bv) {
			return false
		}
		for k, x := range av {
			y, ok := bv[k]
			if !ok || !jsonEqual(x, y) {
				return false
			}
		}
		return true
	default:
		return a == b
	}
}
