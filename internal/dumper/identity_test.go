package dumper_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/xakep666/ps3dump-go/internal/dumper"
)

func TestIdentity_Region(t *testing.T) {
	tests := []struct {
		code string
		want string
	}{
		{"BCAS01234", "ASIA"},
		{"BLES01234", "EU"},
		{"BLHS01234", "HK"},
		{"BLJM01234", "JP"},
		{"BCPS01234", "JP"},
		{"BCTS01234", "JP"},
		{"BLKS01234", "KR"},
		{"BLUS01234", "US"},
		{"BLXS01234", ""},
		{"BL", ""},
		{"", ""},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			assert.Equal(t, tt.want, dumper.Identity{ProductCode: tt.code}.Region())
		})
	}
}

func TestIdentity_OutputName(t *testing.T) {
	id := dumper.Identity{
		Title:       "Example Game",
		ProductCode: "BLES01234",
	}

	t.Run("default template", func(t *testing.T) {
		assert.Equal(t, "BLES01234 [Example Game]", id.OutputName(""))
	})

	t.Run("placeholders", func(t *testing.T) {
		assert.Equal(t,
			"BLES-01234-EU-Example Game",
			id.OutputName("{product_code_letters}-{product_code_numbers}-{region}-{title}"))
	})

	t.Run("forbidden characters stripped", func(t *testing.T) {
		dirty := dumper.Identity{Title: `Bad<>:"/\|?*Name`, ProductCode: "BLES01234"}
		assert.Equal(t, "BadName", dirty.OutputName("{title}"))
	})

	t.Run("trailing dots trimmed", func(t *testing.T) {
		dotted := dumper.Identity{Title: "Game Vol. 2...", ProductCode: "BLES01234"}
		assert.Equal(t, "Game Vol. 2", dotted.OutputName("{title}"))
	})

	t.Run("empty result falls back", func(t *testing.T) {
		empty := dumper.Identity{Title: "???", ProductCode: "BLES01234"}
		assert.Equal(t, "unknown-BLES01234", empty.OutputName("{title}"))
	})
}

func TestValidationStatus_String(t *testing.T) {
	assert.Equal(t, "ok", dumper.ValidationOk.String())
	assert.Equal(t, "unknown", dumper.ValidationUnknown.String())
	assert.Equal(t, "failed", dumper.ValidationFailed.String())
}
