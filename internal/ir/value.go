package ir

import (
	"bytes"
	"encoding/json"
	"fmt"
	"slices"
	"unicode/utf16"
)

// IRValue is the closed set of values a canonical ledger payload may hold.
// There is deliberately no float and no null variant: both break
// byte-for-byte reproducibility across platforms.
type IRValue interface {
	irValue()
}

// IRString is a string value.
type IRString string

func (IRString) irValue() {}

// IRInt is an integer value. Ledger metadata never carries integers (the
// normalizer stringifies all numbers) but record-level fields such as byte
// counts do.
type IRInt int64

func (IRInt) irValue() {}

// IRBool is a boolean value.
type IRBool bool

func (IRBool) irValue() {}

// IRArray is an ordered list of values.
type IRArray []IRValue

func (IRArray) irValue() {}

// IRObject is a string-keyed map of values.
// Iterate with SortedKeys for deterministic output.
type IRObject map[string]IRValue

func (IRObject) irValue() {}

// SortedKeys returns the keys in RFC 8785 order (UTF-16 code units).
// Plain sort.Strings orders by UTF-8 bytes, which differs for keys outside the BMP.
func (obj IRObject) SortedKeys() []string {
	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	slices.SortFunc(keys, compareKeysRFC8785)
	return keys
}

func compareKeysRFC8785(a, b string) int {
	a16 := utf16.Encode([]rune(a))
	b16 := utf16.Encode([]rune(b))

	n := min(len(a16), len(b16))
	for i := 0; i < n; i++ {
		if a16[i] != b16[i] {
			if a16[i] < b16[i] {
				return -1
			}
			return 1
		}
	}

	switch {
	case len(a16) < len(b16):
		return -1
	case len(a16) > len(b16):
		return 1
	}
	return 0
}

// UnmarshalJSON decodes a JSON object into an IRObject, rejecting floats and nulls.
func (obj *IRObject) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	*obj = make(IRObject, len(raw))
	for k, v := range raw {
		val, err := unmarshalIRValue(v)
		if err != nil {
			return fmt.Errorf("key %q: %w", k, err)
		}
		(*obj)[k] = val
	}
	return nil
}

// UnmarshalJSON decodes a JSON array into an IRArray.
func (arr *IRArray) UnmarshalJSON(data []byte) error {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	*arr = make(IRArray, len(raw))
	for i, v := range raw {
		val, err := unmarshalIRValue(v)
		if err != nil {
			return fmt.Errorf("index %d: %w", i, err)
		}
		(*arr)[i] = val
	}
	return nil
}

func unmarshalIRValue(data []byte) (IRValue, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, fmt.Errorf("empty JSON value")
	}

	switch data[0] {
	case '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return nil, err
		}
		return IRString(s), nil
	case 't', 'f':
		var b bool
		if err := json.Unmarshal(data, &b); err != nil {
			return nil, err
		}
		return IRBool(b), nil
	case 'n':
		return nil, fmt.Errorf("null is forbidden in ledger payloads")
	case '[':
		var arr IRArray
		if err := json.Unmarshal(data, &arr); err != nil {
			return nil, err
		}
		return arr, nil
	case '{':
		var obj IRObject
		if err := json.Unmarshal(data, &obj); err != nil {
			return nil, err
		}
		return obj, nil
	default:
		var n json.Number
		if err := json.Unmarshal(data, &n); err != nil {
			return nil, err
		}
		i, err := n.Int64()
		if err != nil {
			return nil, fmt.Errorf("floats are forbidden in ledger payloads: %s", string(data))
		}
		return IRInt(i), nil
	}
}

// ParseObject decodes canonical (or merely valid) JSON object text.
// An empty string is the empty object.
func ParseObject(text string) (IRObject, error) {
	if text == "" {
		return IRObject{}, nil
	}
	var obj IRObject
	if err := json.Unmarshal([]byte(text), &obj); err != nil {
		return nil, fmt.Errorf("parse object: %w", err)
	}
	return obj, nil
}
