package kongini

import (
	"strings"
	"testing"

	"github.com/alecthomas/kong"
	"github.com/stretchr/testify/assert"
)

// cli mirrors the shape of the real application: global flags plus
// per-subcommand flags that map to ini sections.
type cli struct {
	Debug   bool
	JSONLog bool `name:"json-log"`

	Dump struct {
		CacheDir   string `name:"cache-dir"`
		Template   string
		BufferSize int `name:"buffer-size" default:"1024"`
	} `cmd:""`

	Detect struct {
		Template string
	} `cmd:""`
}

func TestConfigResolution(t *testing.T) {
	config := `
debug=true
json-log=false

[dump]
cache-dir=/srv/ps3keys
template={product_code} [{title}]
buffer-size=8388608
`

	r, err := Loader(strings.NewReader(config))
	assert.NoError(t, err)

	var c cli
	parser := newParser(t, &c, kong.Resolvers(r))

	_, err = parser.Parse([]string{"dump"})
	assert.NoError(t, err)
	assert.True(t, c.Debug)
	assert.False(t, c.JSONLog)
	assert.Equal(t, "/srv/ps3keys", c.Dump.CacheDir)
	assert.Equal(t, "{product_code} [{title}]", c.Dump.Template)
	assert.Equal(t, 8388608, c.Dump.BufferSize)
}

func TestConfigPerCommandSections(t *testing.T) {
	config := `
[dump]
template={product_code}

[detect]
template={region}-{title}
`

	r, err := Loader(strings.NewReader(config))
	assert.NoError(t, err)

	var c cli
	parser := newParser(t, &c, kong.Resolvers(r))

	_, err = parser.Parse([]string{"detect"})
	assert.NoError(t, err)
	assert.Equal(t, "{region}-{title}", c.Detect.Template)
}

func TestConfigAbsentValuesKeepDefaults(t *testing.T) {
	r, err := Loader(strings.NewReader("debug=true"))
	assert.NoError(t, err)

	var c cli
	parser := newParser(t, &c, kong.Resolvers(r))

	_, err = parser.Parse([]string{"dump"})
	assert.NoError(t, err)
	assert.Empty(t, c.Dump.CacheDir)
	assert.Equal(t, 1024, c.Dump.BufferSize)
}

func TestConfigFlagOverridesFile(t *testing.T) {
	config := `
[dump]
cache-dir=/srv/ps3keys
`

	r, err := Loader(strings.NewReader(config))
	assert.NoError(t, err)

	var c cli
	parser := newParser(t, &c, kong.Resolvers(r))

	_, err = parser.Parse([]string{"dump", "--cache-dir", "/mnt/other"})
	assert.NoError(t, err)
	assert.Equal(t, "/mnt/other", c.Dump.CacheDir)
}

func TestConfigUnparseable(t *testing.T) {
	_, err := Loader(strings.NewReader("[never closed"))
	assert.Error(t, err)
}

func newParser(t *testing.T, c any, options ...kong.Option) *kong.Kong {
	t.Helper()

	options = append([]kong.Option{
		kong.Name("ps3dump-test"),
		kong.Exit(func(int) {
			t.Helper()
			t.Fatalf("unexpected exit()")
		}),
	}, options...)

	parser, err := kong.New(c, options...)
	assert.NoError(t, err)
	return parser
}
