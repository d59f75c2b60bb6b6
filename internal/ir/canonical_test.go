package ir

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshalCanonicalBasic(t *testing.T) {
	tests := []struct {
		name     string
		input    any
		expected string
	}{
		{"string", IRString("hello"), `"hello"`},
		{"empty string", IRString(""), `""`},
		{"int", IRInt(42), "42"},
		{"negative int", IRInt(-100), "-100"},
		{"max int64", IRInt(9223372036854775807), "9223372036854775807"},
		{"bool true", IRBool(true), "true"},
		{"bool false", IRBool(false), "false"},
		{"empty array", IRArray{}, "[]"},
		{"empty object", IRObject{}, "{}"},
		{"go string", "plain", `"plain"`},
		{"go int", 7, "7"},
		{"slice any", []any{int64(1), "two", true}, `[1,"two",true]`},
		{"map any", map[string]any{"b": int64(1), "a": "x"}, `{"a":"x","b":1}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := MarshalCanonical(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, string(result))
		})
	}
}

func TestMarshalCanonicalNestedSortedKeys(t *testing.T) {
	obj := IRObject{
		"z": IRObject{"b": IRInt(1), "a": IRInt(2)},
		"a": IRInt(3),
	}

	result, err := MarshalCanonical(obj)
	require.NoError(t, err)
	assert.Equal(t, `{"a":3,"z":{"a":2,"b":1}}`, string(result))
}

func TestMarshalCanonicalUTF16Ordering(t *testing.T) {
	// U+10000 encodes as the surrogate pair D800 DC00, which sorts before E000
	// in UTF-16 even though it sorts after it in UTF-8.
	obj := IRObject{
		"\ue000":     IRInt(1),
		"\U00010000": IRInt(2),
	}

	result, err := MarshalCanonical(obj)
	require.NoError(t, err)
	assert.Equal(t, "{\"\U00010000\":2,\"\ue000\":1}", string(result))
}

func TestMarshalCanonicalNoHTMLEscape(t *testing.T) {
	result, err := MarshalCanonical(IRObject{"memo": IRString("<b>fees</b> & costs")})
	require.NoError(t, err)
	assert.Equal(t, `{"memo":"<b>fees</b> & costs"}`, string(result))
}

func TestMarshalCanonicalRejects(t *testing.T) {
	tests := []struct {
		name  string
		input any
		want  string
	}{
		{"float64", float64(3.14), "float"},
		{"float32", float32(3.14), "float"},
		{"nil", nil, "null"},
		{"float in map", map[string]any{"amount": 1.5}, "float"},
		{"struct", struct{}{}, "unsupported"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := MarshalCanonical(tt.input)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestMarshalCanonicalNFC(t *testing.T) {
	composed := "caf\u00e9"
	decomposed := "cafe\u0301"

	v1, err := MarshalCanonical(IRObject{composed: IRString(composed)})
	require.NoError(t, err)
	v2, err := MarshalCanonical(IRObject{decomposed: IRString(decomposed)})
	require.NoError(t, err)

	assert.Equal(t, v1, v2)
}

func TestMarshalCanonicalRejectsNFCKeyCollision(t *testing.T) {
	inputs := []any{
		map[string]any{"caf\u00e9": "composed", "cafe\u0301": "decomposed"},
		IRObject{"caf\u00e9": IRString("composed"), "cafe\u0301": IRString("decomposed")},
		IRObject{"outer": IRObject{"\u00c5": IRInt(1), "A\u030a": IRInt(2)}},
	}

	for _, input := range inputs {
		for i := 0; i < 50; i++ {
			_, err := MarshalCanonical(input)
			require.Error(t, err)
			assert.Contains(t, err.Error(), "duplicate key")
		}
	}
}

func TestMarshalCanonicalStringEscaping(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"newline", "a\nb", `"a\nb"`},
		{"tab", "a\tb", `"a\tb"`},
		{"quote", `a"b`, `"a\"b"`},
		{"backslash", `a\b`, `"a\\b"`},
		{"nul", "a\x00b", `"a\u0000b"`},
		{"line separator", "a\u2028b", "\"a\u2028b\""},
		{"paragraph separator", "a\u2029b", "\"a\u2029b\""},
		{"literal escape text", `seq \u2028`, `"seq \\u2028"`},
		{"mixed", "lit \\u2028 and real \u2028", "\"lit \\\\u2028 and real  \""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := MarshalCanonical(IRString(tt.input))
			require.NoError(t, err)
			assert.Equal(t, tt.expected, string(result))
		})
	}
}

func TestMarshalCanonicalRoundTrip(t *testing.T) {
	cases := []IRObject{
		{},
		{"a": IRString("1"), "b": IRBool(false)},
		{"nested": IRObject{"list": IRArray{IRString("x"), IRObject{"k": IRString("v")}}}},
	}

	for _, original := range cases {
		first, err := MarshalCanonical(original)
		require.NoError(t, err)

		parsed, err := ParseObject(string(first))
		require.NoError(t, err)

		second, err := MarshalCanonical(parsed)
		require.NoError(t, err)
		assert.Equal(t, first, second)
	}
}

func TestParseObjectRejectsFloatsAndNulls(t *testing.T) {
	_, err := ParseObject(`{"amount":1.25}`)
	require.Error(t, err)

	_, err = ParseObject(`{"memo":null}`)
	require.Error(t, err)

	obj, err := ParseObject("")
	require.NoError(t, err)
	assert.Empty(t, obj)
}

func FuzzMarshalCanonicalIdempotent(f *testing.F) {
	f.Add(`{"a":"1","b":"test"}`)
	f.Add(`{"nested":{"deep":{"value":"123"}}}`)
	f.Add(`{"list":[true,false,"x"]}`)

	f.Fuzz(func(t *testing.T, text string) {
		obj, err := ParseObject(text)
		if err != nil {
			t.Skip()
		}
		first, err := MarshalCanonical(obj)
		if err != nil {
			t.Skip()
		}
		again, err := ParseObject(string(first))
		require.NoError(t, err)
		second, err := MarshalCanonical(again)
		require.NoError(t, err)
		assert.Equal(t, first, second)
	})
}
