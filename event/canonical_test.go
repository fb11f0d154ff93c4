package event

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshalCanonical_SortsKeys(t *testing.T) {
	got, err := MarshalCanonical(map[string]any{
		"zeta":  1,
		"alpha": 2,
		"mid":   3,
	})
	require.NoError(t, err)
	assert.Equal(t, `{"alpha":2,"mid":3,"zeta":1}`, string(got))
}

func TestMarshalCanonical_NoHTMLEscaping(t *testing.T) {
	got, err := MarshalCanonical(map[string]string{"html": "<a> & </a>"})
	require.NoError(t, err)
	assert.Equal(t, `{"html":"<a> & </a>"}`, string(got))
}

func TestMarshalCanonical_EscapesControlCharacters(t *testing.T) {
	got, err := MarshalCanonical("line1\nline2\ttab\x01")
	require.NoError(t, err)
	assert.Equal(t, `"line1\nline2\ttab"`, string(got))
}

func TestMarshalCanonical_PreservesLargeNumbers(t *testing.T) {
	// int64 beyond float64's exact range must not lose precision.
	got, err := MarshalCanonical(map[string]any{"n": int64(9007199254740993)})
	require.NoError(t, err)
	assert.Equal(t, `{"n":9007199254740993}`, string(got))
}

func TestMarshalCanonical_NFCNormalization(t *testing.T) {
	// e + combining acute accent normalizes to the precomposed form.
	got, err := MarshalCanonical("é")
	require.NoError(t, err)
	assert.Equal(t, "\"é\"", string(got))
}

func TestMarshalCanonical_UTF16KeyOrder(t *testing.T) {
	// U+10000 encodes as the surrogate pair D800 DC00 in UTF-16. Code
	// unit D800 sorts before U+FF61, while in UTF-8 byte order U+FF61
	// (EF BD A1) sorts before U+10000 (F0 90 80 80). UTF-16 order wins.
	got, err := MarshalCanonical(map[string]any{
		"\U00010000": 1,
		"｡":     2,
	})
	require.NoError(t, err)
	assert.Equal(t, "{\"\U00010000\":1,\"｡\":2}", string(got))
}

func TestMarshalCanonical_StructRoundTrip(t *testing.T) {
	type payload struct {
		B string `json:"b"`
		A int    `json:"a"`
	}
	got, err := MarshalCanonical(payload{B: "x", A: 7})
	require.NoError(t, err)
	assert.Equal(t, `{"a":7,"b":"x"}`, string(got))
}

func TestMarshalCanonical_Deterministic(t *testing.T) {
	v := map[string]any{"k1": []any{1, "two", nil, true}, "k2": map[string]any{"inner": "v"}}
	first, err := MarshalCanonical(v)
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		again, err := MarshalCanonical(v)
		require.NoError(t, err)
		assert.Equal(t, string(first), string(again))
	}
}
