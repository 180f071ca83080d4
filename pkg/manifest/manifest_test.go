package manifest

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDigest_FixedLengthAndStable(t *testing.T) {
	a := Digest("hello")
	assert.Len(t, a, DigestLen)
	assert.Equal(t, a, Digest("hello"))
	assert.NotEqual(t, a, Digest("hello "))
	assert.Len(t, Digest(""), DigestLen)
}

func TestFormatParse_RoundTrip(t *testing.T) {
	m := Manifest{
		"raw":          Digest("raw text"),
		"prompt.facts": Digest("prompt"),
		"labs":         Digest(""),
	}
	require.NoError(t, m.Validate())

	line := Format(m)
	assert.Equal(t, "labs:"+m["labs"]+",prompt.facts:"+m["prompt.facts"]+",raw:"+m["raw"], line)

	got, ok := Parse(line)
	require.True(t, ok)
	assert.True(t, got.Equal(m))
}

func TestParse_Malformed(t *testing.T) {
	d := Digest("x")
	cases := map[string]string{
		"empty":         "",
		"no colon":      "raw" + d,
		"empty key":     ":" + d,
		"short digest":  "raw:abc",
		"upper hex":     "raw:ABCDEF0123456789",
		"trailing sep":  "raw:" + d + ",",
		"duplicate key": "raw:" + d + ",raw:" + d,
		"space in key":  "r aw:" + d,
		"body text":     "### 2024-01-01 felt fine",
	}
	for name, line := range cases {
		t.Run(name, func(t *testing.T) {
			m, ok := Parse(line)
			assert.False(t, ok)
			assert.Nil(t, m)
		})
	}
}

func TestEqual_OrderIndependent(t *testing.T) {
	a := Manifest{"a": Digest("1"), "b": Digest("2")}
	b := Manifest{"b": Digest("2"), "a": Digest("1")}
	assert.True(t, a.Equal(b))

	b["c"] = Digest("3")
	assert.False(t, a.Equal(b))

	delete(b, "c")
	b["b"] = Digest("changed")
	assert.False(t, a.Equal(b))
}

func TestSplitJoin(t *testing.T) {
	m := Manifest{"raw": Digest("r")}
	content := Join(m, "line one\nline two\n")

	got, body, ok := Split(content)
	require.True(t, ok)
	assert.True(t, got.Equal(m))
	assert.Equal(t, "line one\nline two\n", body)

	_, body, ok = Split("no header here\nbody")
	assert.False(t, ok)
	assert.Equal(t, "no header here\nbody", body)
}

func TestValidate(t *testing.T) {
	assert.Error(t, Manifest{}.Validate())
	assert.Error(t, Manifest{"a,b": Digest("x")}.Validate())
	assert.Error(t, Manifest{"a": "nothex"}.Validate())
	assert.NoError(t, Manifest{"a": Digest("x")}.Validate())
}
