package sfb_test

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xakep666/ps3dump-go/internal/testutil"
	"github.com/xakep666/ps3dump-go/pkg/sfb"
)

func TestParse(t *testing.T) {
	raw := testutil.BuildSFB(map[string]string{
		"HYBRID_FLAG": "g",
		"TITLE_ID":    "BLES-01234",
	})

	manifest, err := sfb.Parse(bytes.NewReader(raw))
	require.NoError(t, err)

	assert.Equal(t, "g", manifest.Field("HYBRID_FLAG"))
	assert.Equal(t, "BLES-01234", manifest.Field("TITLE_ID"))
	assert.Empty(t, manifest.Field("NO_SUCH_KEY"))
}

func TestParse_BadMagic(t *testing.T) {
	raw := testutil.BuildSFB(map[string]string{"TITLE_ID": "BLES01234"})
	raw[0] = 'X'

	_, err := sfb.Parse(bytes.NewReader(raw))
	assert.Error(t, err)
}

func TestParse_Empty(t *testing.T) {
	raw := testutil.BuildSFB(nil)

	manifest, err := sfb.Parse(bytes.NewReader(raw))
	require.NoError(t, err)
	assert.Empty(t, manifest)
}
