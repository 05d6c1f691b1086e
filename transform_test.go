package client

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestTransformer(t *testing.T, threshold int) *transformer {
	t.Helper()
	return buildTransformer(Config{CompressThreshold: threshold, UTF8: true}.withDefaults())
}

func TestBytesPassThroughUntouched(t *testing.T) {
	tr := newTestTransformer(t, 0)

	data, flags, err := tr.encode("k", []byte("raw"))
	require.NoError(t, err)
	assert.Equal(t, []byte("raw"), data)
	assert.Zero(t, flags)

	v, err := tr.decode("k", data, flags, nil)
	require.NoError(t, err)
	assert.Equal(t, []byte("raw"), v)
}

func TestStringsAreMarkedAsText(t *testing.T) {
	tr := newTestTransformer(t, 0)

	data, flags, err := tr.encode("k", "héllo")
	require.NoError(t, err)
	assert.Equal(t, flagText, flags)

	v, err := tr.decode("k", data, flags, nil)
	require.NoError(t, err)
	assert.Equal(t, "héllo", v)
}

func TestStringsStayUntaggedWithoutUTF8(t *testing.T) {
	tr := buildTransformer(Config{}.withDefaults())

	data, flags, err := tr.encode("k", "hello")
	require.NoError(t, err)
	assert.Zero(t, flags)

	v, err := tr.decode("k", data, flags, nil)
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), v)
}

func TestStructsGoThroughTheCodec(t *testing.T) {
	tr := newTestTransformer(t, 0)

	data, flags, err := tr.encode("k", map[string]int{"a": 1})
	require.NoError(t, err)
	assert.Equal(t, flagEncoded, flags)

	v, err := tr.decode("k", data, flags, nil)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"a": float64(1)}, v)
}

func TestDecodeIntoTarget(t *testing.T) {
	type point struct {
		X int `json:"x"`
	}
	tr := newTestTransformer(t, 0)

	data, flags, err := tr.encode("k", point{X: 9})
	require.NoError(t, err)

	var out point
	_, err = tr.decode("k", data, flags, &out)
	require.NoError(t, err)
	assert.Equal(t, 9, out.X)
}

func TestCompressibleValuesAreCompressed(t *testing.T) {
	tr := newTestTransformer(t, 16)
	value := strings.Repeat("abcdefgh", 100)

	data, flags, err := tr.encode("k", value)
	require.NoError(t, err)
	assert.NotZero(t, flags&flagCompressed)
	assert.Less(t, len(data), len(value))

	v, err := tr.decode("k", data, flags, nil)
	require.NoError(t, err)
	assert.Equal(t, value, v)
}

func TestBelowThresholdSkipsCompression(t *testing.T) {
	tr := newTestTransformer(t, 64)

	_, flags, err := tr.encode("k", "short")
	require.NoError(t, err)
	assert.Zero(t, flags&flagCompressed)
}

func TestIncompressibleValuesStayRaw(t *testing.T) {
	tr := newTestTransformer(t, 16)
	// A gzip stream does not compress further, so the ratio check rejects
	// the second pass.
	once, flags, err := tr.encode("k", strings.Repeat("abcdefgh", 100))
	require.NoError(t, err)
	require.NotZero(t, flags&flagCompressed)

	data, flags, err := tr.encode("k", once)
	require.NoError(t, err)
	assert.Zero(t, flags&flagCompressed)
	assert.Equal(t, once, data)
}

func TestDecodeFailureNamesTheKey(t *testing.T) {
	tr := newTestTransformer(t, 0)

	_, err := tr.decode("bad-key", []byte("not gzip"), flagCompressed, nil)
	var terr *TransformError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, "bad-key", terr.Key)
	assert.Equal(t, "decompress", terr.Stage)
}

func TestDecodeCompressedWorksWithCompressionDisabled(t *testing.T) {
	writer := newTestTransformer(t, 16)
	value := strings.Repeat("abcdefgh", 100)
	data, flags, err := writer.encode("k", value)
	require.NoError(t, err)
	require.NotZero(t, flags&flagCompressed)

	reader := newTestTransformer(t, 0)
	v, err := reader.decode("k", data, flags, nil)
	require.NoError(t, err)
	assert.Equal(t, value, v)
}
