package sfo_test

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xakep666/ps3dump-go/internal/testutil"
	"github.com/xakep666/ps3dump-go/pkg/sfo"
)

func TestParse(t *testing.T) {
	raw := testutil.BuildSFO(map[string]string{
		"TITLE":    "Example Game",
		"TITLE_ID": "BLES01234",
		"VERSION":  "01.00",
		"APP_VER":  "01.02",
	})

	params, err := sfo.Parse(bytes.NewReader(raw))
	require.NoError(t, err)

	assert.Equal(t, "Example Game", params.Field("TITLE"))
	assert.Equal(t, "BLES01234", params.Field("TITLE_ID"))
	assert.Equal(t, "01.00", params.Field("VERSION"))
	assert.Equal(t, "01.02", params.Field("APP_VER"))
}

func TestParse_ValueCleaning(t *testing.T) {
	raw := testutil.BuildSFO(map[string]string{
		"TITLE": "Multi\nLine  Title ",
	})

	params, err := sfo.Parse(bytes.NewReader(raw))
	require.NoError(t, err)

	assert.Equal(t, "Multi Line Title", params.Field("TITLE"))
}

func TestParse_BadMagic(t *testing.T) {
	raw := testutil.BuildSFO(map[string]string{"TITLE": "x"})
	raw[1] = 'X'

	_, err := sfo.Parse(bytes.NewReader(raw))
	assert.Error(t, err)
}
