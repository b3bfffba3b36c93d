package canonjson

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanonicalizeSortsKeysAndStripsWhitespace(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{
			name: "unsorted keys",
			in:   `{"b": 2, "a": 1}`,
			want: `{"a":1,"b":2}`,
		},
		{
			name: "nested objects",
			in:   `{"z": {"y": true, "x": null}, "a": [3, 2, 1]}`,
			want: `{"a":[3,2,1],"z":{"x":null,"y":true}}`,
		},
		{
			name: "float literal preserved",
			in:   `{"rate": 0.12}`,
			want: `{"rate":0.12}`,
		},
		{
			name: "large integer preserved",
			in:   `{"n": 9007199254740993}`,
			want: `{"n":9007199254740993}`,
		},
		{
			name: "html characters not escaped",
			in:   `{"u": "a<b>&c"}`,
			want: `{"u":"a<b>&c"}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Canonicalize([]byte(tt.in))
			require.NoError(t, err)
			assert.Equal(t, tt.want, string(got))
		})
	}
}

func TestCanonicalizeRejectsInvalidInput(t *testing.T) {
	_, err := Canonicalize([]byte(`{"a":`))
	assert.Error(t, err)

	_, err = Canonicalize([]byte(`{"a":1} {"b":2}`))
	assert.Error(t, err)
}

func TestMarshalStructFieldsSorted(t *testing.T) {
	type params struct {
		Zeta  string  `json:"zeta"`
		Alpha float64 `json:"alpha"`
	}

	got, err := Marshal(params{Zeta: "z", Alpha: 1.5})
	require.NoError(t, err)
	assert.Equal(t, `{"alpha":1.5,"zeta":"z"}`, string(got))
}

func TestMarshalDeterministic(t *testing.T) {
	in := map[string]any{"rate": 0.12, "window": "P1Y", "meters": []string{"M1", "M2"}}

	first, err := Marshal(in)
	require.NoError(t, err)
	second, err := Marshal(in)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}
