// Package dumper implements the disc dumping engine: identification of
// the inserted PS3 disc, decryption key discovery, the decrypting
// per-file copy and validation against reference hashes.
package dumper

import (
	"context"
	"errors"
	"time"

	"github.com/xakep666/ps3dump-go/internal/keystore"
	"github.com/xakep666/ps3dump-go/pkg/device"
)

// Options configure an Engine.
type Options struct {
	// InputDir overrides mounted drive discovery with an explicit
	// directory.
	InputDir string

	// NameTemplate renders the output directory name, see
	// Identity.OutputName.
	NameTemplate string

	// BufferSize for the copy loop, bytes. Defaults to 8 MiB.
	BufferSize int64
}

const defaultCopyBufferSize = 8 << 20

// mountFile is what the mounted filesystem knows about one disc file.
type mountFile struct {
	size         int64
	ctime, mtime time.Time
	hasCTime     bool
}

// Engine drives one disc through identification, key discovery and
// dumping. It is not safe for concurrent method calls except Progress
// and Cancel.
type Engine struct {
	opts Options

	keys   *keystore.Index
	tested map[string]struct{}

	identity   *Identity
	inputDir   string
	sfbRaw     []byte
	mountFiles map[string]mountFile
	totalBytes uint64

	dev    *device.Device
	chosen *keystore.Record
	key    []byte

	tracker progressTracker

	baseCtx context.Context
	abort   context.CancelFunc
}

// New creates an Engine.
func New(opts Options) *Engine {
	if opts.BufferSize <= 0 {
		opts.BufferSize = defaultCopyBufferSize
	}

	baseCtx, abort := context.WithCancel(context.Background())
	return &Engine{
		opts:    opts,
		keys:    keystore.NewIndex(),
		tested:  make(map[string]struct{}),
		baseCtx: baseCtx,
		abort:   abort,
	}
}

// Cancel requests cooperative cancellation of any running operation.
func (e *Engine) Cancel() { e.abort() }

// Progress returns a snapshot of the dump state.
func (e *Engine) Progress() Progress { return e.tracker.snapshot() }

// Keys exposes the accumulated key index.
func (e *Engine) Keys() *keystore.Index { return e.keys }

// Identity returns the detected disc identity, nil before DetectDisc.
func (e *Engine) Identity() *Identity { return e.identity }

// ChosenKey returns the selected key record, nil before FindKey.
func (e *Engine) ChosenKey() *keystore.Record { return e.chosen }

// Close releases the raw device handle.
func (e *Engine) Close() error {
	e.abort()

	if e.dev != nil {
		err := e.dev.Close()
		e.dev = nil
		return err
	}

	return nil
}

// opContext couples the caller context with the engine-wide Cancel.
func (e *Engine) opContext(ctx context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(ctx)
	if e.baseCtx.Err() != nil {
		// AfterFunc fires asynchronously; an engine cancelled earlier
		// must be visible to the operation's first ctx check
		cancel()
	}
	stop := context.AfterFunc(e.baseCtx, cancel)

	return ctx, func() {
		stop()
		cancel()
	}
}

// IsCancelled reports whether the error is a cooperative cancellation.
func IsCancelled(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
