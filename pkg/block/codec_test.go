package block

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseStream_Shapes(t *testing.T) {
	seq := mustParse(t, `[
		{"type": "gallery", "id": "g", "value": {"images": [1, 2, 3], "caption": "c"}},
		{"type": "links", "id": "k", "value": [{"page": 4}, {"page": 5}]},
		{"type": "empty", "id": "e", "value": []},
		{"type": "count", "id": "n", "value": 12345678901234567}
	]`)

	g, err := Locate(seq, "g")
	require.NoError(t, err)
	st, ok := g.Value.(*Struct)
	require.True(t, ok)
	assert.Equal(t, "images", st.Fields()[0].Name)
	assert.Equal(t, "caption", st.Fields()[1].Name)
	images, _ := st.Get("images")
	assert.IsType(t, Scalar{}, images)

	k, err := Locate(seq, "k")
	require.NoError(t, err)
	assert.IsType(t, Scalar{}, k.Value, "arrays without block ids stay opaque")

	e, err := Locate(seq, "e")
	require.NoError(t, err)
	assert.IsType(t, &Sequence{}, e.Value, "empty arrays are empty containers")

	n, err := Locate(seq, "n")
	require.NoError(t, err)
	assert.Equal(t, json.Number("12345678901234567"), n.Value.(Scalar).V)
}

func TestParseStream_Empty(t *testing.T) {
	for _, in := range []string{"", "null", "[]", "  "} {
		seq, err := ParseStream([]byte(in))
		require.NoError(t, err, in)
		assert.Equal(t, 0, seq.Len())
	}

	_, err := ParseStream([]byte(`{"not": "a stream"}`))
	assert.Error(t, err)

	_, err = ParseStream([]byte(`[{"type": "text", "id": "x", "value": {]`))
	assert.Error(t, err)
}

func TestMarshal_RoundTripKeepsOrder(t *testing.T) {
	in := `[{"type":"list","value":{"zeta":"z","alpha":[{"type":"item","value":"a","id":"i1"}]},"id":"l"}]`
	seq := mustParse(t, in)

	out, err := json.Marshal(seq)
	require.NoError(t, err)
	assert.Equal(t, in, string(out))
}

func TestInterface(t *testing.T) {
	seq := mustParse(t, `[{"type": "section", "id": "s", "value": [{"type": "text", "id": "t", "value": {"body": "x"}}]}]`)

	assert.Equal(t, []any{
		map[string]any{"type": "section", "id": "s", "value": []any{
			map[string]any{"type": "text", "id": "t", "value": map[string]any{"body": "x"}},
		}},
	}, Interface(seq))
}
