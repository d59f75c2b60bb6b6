package ir

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"

	"golang.org/x/text/unicode/norm"
)

// MarshalCanonical produces RFC 8785 canonical JSON. It is the only
// serialization that may feed an entry hash.
//
// Differences from encoding/json:
//  1. Object keys sorted by UTF-16 code units
//  2. No HTML escaping of < > &
//  3. Strings NFC-normalized
//  4. Floats and nulls rejected
//
// Accepts IRValue types and the plain Go types string, bool, int, int64,
// []any and map[string]any.
func MarshalCanonical(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := writeCanonical(&buf, v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func writeCanonical(buf *bytes.Buffer, v any) error {
	switch val := v.(type) {
	case nil:
		return fmt.Errorf("null is forbidden in canonical JSON")
	case IRString:
		return writeCanonicalString(buf, string(val))
	case string:
		return writeCanonicalString(buf, val)
	case IRInt:
		buf.WriteString(strconv.FormatInt(int64(val), 10))
	case int64:
		buf.WriteString(strconv.FormatInt(val, 10))
	case int:
		buf.WriteString(strconv.Itoa(val))
	case IRBool:
		buf.WriteString(strconv.FormatBool(bool(val)))
	case bool:
		buf.WriteString(strconv.FormatBool(val))
	case IRArray:
		return writeCanonicalArray(buf, len(val), func(i int) any { return val[i] })
	case []any:
		return writeCanonicalArray(buf, len(val), func(i int) any { return val[i] })
	case IRObject:
		return writeCanonicalObject(buf, val)
	case map[string]any:
		obj := make(IRObject, len(val))
		for k, elem := range val {
			irElem, err := toIRValue(elem)
			if err != nil {
				return fmt.Errorf("object[%q]: %w", k, err)
			}
			obj[k] = irElem
		}
		return writeCanonicalObject(buf, obj)
	case float64, float32:
		return fmt.Errorf("floats are forbidden in canonical JSON: %v", val)
	default:
		return fmt.Errorf("unsupported type for canonical JSON: %T", v)
	}
	return nil
}

func toIRValue(v any) (IRValue, error) {
	switch val := v.(type) {
	case nil:
		return nil, fmt.Errorf("null is forbidden")
	case IRValue:
		return val, nil
	case string:
		return IRString(val), nil
	case int64:
		return IRInt(val), nil
	case int:
		return IRInt(val), nil
	case bool:
		return IRBool(val), nil
	case []any:
		arr := make(IRArray, len(val))
		for i, elem := range val {
			irElem, err := toIRValue(elem)
			if err != nil {
				return nil, fmt.Errorf("[%d]: %w", i, err)
			}
			arr[i] = irElem
		}
		return arr, nil
	case map[string]any:
		obj := make(IRObject, len(val))
		for k, elem := range val {
			irElem, err := toIRValue(elem)
			if err != nil {
				return nil, fmt.Errorf("[%q]: %w", k, err)
			}
			obj[k] = irElem
		}
		return obj, nil
	case float64, float32:
		return nil, fmt.Errorf("floats are forbidden")
	default:
		return nil, fmt.Errorf("unsupported type: %T", v)
	}
}

// writeCanonicalString escapes only what RFC 8785 requires: control
// characters, backslash and quote. encoding/json additionally escapes
// U+2028/U+2029 for JavaScript embedding, so those are written by hand here.
func writeCanonicalString(buf *bytes.Buffer, s string) error {
	s = norm.NFC.String(s)

	var enc bytes.Buffer
	e := json.NewEncoder(&enc)
	e.SetEscapeHTML(false)
	buf.WriteByte('"')
	start := 0
	for i, r := range s {
		if r != '\u2028' && r != '\u2029' {
			continue
		}
		if err := writeEscaped(buf, e, &enc, s[start:i]); err != nil {
			return err
		}
		buf.WriteRune(r)
		start = i + len(string(r))
	}
	if err := writeEscaped(buf, e, &enc, s[start:]); err != nil {
		return err
	}
	buf.WriteByte('"')
	return nil
}

// writeEscaped appends the JSON-escaped body of s (without surrounding quotes).
func writeEscaped(buf *bytes.Buffer, e *json.Encoder, scratch *bytes.Buffer, s string) error {
	if s == "" {
		return nil
	}
	scratch.Reset()
	if err := e.Encode(s); err != nil {
		return err
	}
	out := bytes.TrimSuffix(scratch.Bytes(), []byte("\n"))
	buf.Write(out[1 : len(out)-1])
	return nil
}

func writeCanonicalArray(buf *bytes.Buffer, n int, at func(int) any) error {
	buf.WriteByte('[')
	for i := 0; i < n; i++ {
		if i > 0 {
			buf.WriteByte(',')
		}
		if err := writeCanonical(buf, at(i)); err != nil {
			return fmt.Errorf("array[%d]: %w", i, err)
		}
	}
	buf.WriteByte(']')
	return nil
}

func writeCanonicalObject(buf *bytes.Buffer, obj IRObject) error {
	// NFC before sorting so that equivalent keys order identically.
	normalized := make(IRObject, len(obj))
	for k, v := range obj {
		nk := norm.NFC.String(k)
		if _, dup := normalized[nk]; dup {
			return fmt.Errorf("duplicate key %q after NFC normalization", nk)
		}
		normalized[nk] = v
	}

	buf.WriteByte('{')
	for i, k := range normalized.SortedKeys() {
		if i > 0 {
			buf.WriteByte(',')
		}
		if err := writeCanonicalString(buf, k); err != nil {
			return fmt.Errorf("key %q: %w", k, err)
		}
		buf.WriteByte(':')
		if err := writeCanonical(buf, normalized[k]); err != nil {
			return fmt.Errorf("value for key %q: %w", k, err)
		}
	}
	buf.WriteByte('}')
	return nil
}
