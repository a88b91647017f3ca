package bytesize

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestParse(t *testing.T) {
	cases := []struct {
		in   string
		want int64
	}{
		{"1024", 1024},
		{"1KB", KB},
		{"1.5 GB", GB + GB/2},
		{"100mb", 100 * MB},
		{"2Ti", 2 * TB},
		{"0", 0},
	}
	for _, tc := range cases {
		got, err := Parse(tc.in)
		require.NoError(t, err, tc.in)
		assert.Equal(t, tc.want, got, tc.in)
	}
}

func TestParseErrors(t *testing.T) {
	for _, in := range []string{"", "abc", "10XB", "-5MB"} {
		_, err := Parse(in)
		assert.Error(t, err, in)
	}
}

func TestFormat(t *testing.T) {
	assert.Equal(t, "0 B", Format(0))
	assert.Equal(t, "512 B", Format(512))
	assert.Equal(t, "1.00 KB", Format(KB))
	assert.Equal(t, "2.50 MB", Format(2*MB+MB/2))
	assert.Equal(t, "1.00 TB", Format(TB))
}

func TestSizeUnmarshalYAML(t *testing.T) {
	var v struct {
		Limit Size `yaml:"limit"`
	}
	require.NoError(t, yaml.Unmarshal([]byte("limit: 500Mi\n"), &v))
	assert.Equal(t, 500*MB, v.Limit.Bytes())

	require.NoError(t, yaml.Unmarshal([]byte("limit: 4096\n"), &v))
	assert.Equal(t, int64(4096), v.Limit.Bytes())

	err := yaml.Unmarshal([]byte("limit: {a: 1}\n"), &v)
	assert.Error(t, err)
}
