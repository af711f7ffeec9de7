package static

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	cases := []struct {
		in   string
		want []string
	}{
		{"", nil},
		{"a:1", []string{"a:1"}},
		{" a:1 , b:2 ", []string{"a:1", "b:2"}},
		{",,a:1, ,b:2,", []string{"a:1", "b:2"}},
	}
	for _, c := range cases {
		got := Parse(c.in)
		if c.want == nil {
			assert.Empty(t, got, c.in)
			continue
		}
		assert.Equal(t, c.want, got, c.in)
	}
}

func TestParseStrict(t *testing.T) {
	got, err := ParseStrict("10.0.0.1:7946, node-b:7946")
	require.NoError(t, err)
	assert.Equal(t, []string{"10.0.0.1:7946", "node-b:7946"}, got)

	_, err = ParseStrict("10.0.0.1")
	assert.Error(t, err)
	_, err = ParseStrict("a:70000")
	assert.Error(t, err)
}

func TestNew(t *testing.T) {
	d := New(" a:1 ", "", "b:2")
	got := d.Seeds()
	require.Equal(t, []string{"a:1", "b:2"}, got)

	got[0] = "x"
	assert.Equal(t, "a:1", d.Seeds()[0])
}
