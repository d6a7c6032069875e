package dumper

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"runtime"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/xakep666/ps3dump-go/internal/keystore"
	"github.com/xakep666/ps3dump-go/internal/logutil"
	"github.com/xakep666/ps3dump-go/pkg/crypto"
	"github.com/xakep666/ps3dump-go/pkg/iso9660"
)

// detectionProbe is a known-plaintext sector used to recognize the right
// key: the correct key decrypts it to the expected prefix.
type detectionProbe struct {
	sector     uint32
	ciphertext []byte
	iv         [crypto.KeySize]byte
	prefix     []byte
}

// probe candidates in priority order; zero-length files are skipped.
var probeFiles = []struct {
	path   string
	prefix []byte
}{
	{`PS3_GAME\LICDIR\LIC.DAT`, []byte("PS3LICDA")},
	{`PS3_GAME\USRDIR\EBOOT.BIN`, []byte{'S', 'C', 'E', 0, 0, 0, 0, 2}},
}

// FindKey scans the key cache, probes every untested key against the
// disc and selects the matching one. It returns the chosen key id.
func (e *Engine) FindKey(ctx context.Context, cacheDir string) (string, error) {
	ctx, cancel := e.opContext(ctx)
	defer cancel()

	if e.identity == nil {
		return "", fmt.Errorf("disc not detected yet")
	}

	if err := e.matchPhysicalDevice(ctx); err != nil {
		return "", err
	}

	probe, err := e.buildProbe()
	if err != nil {
		return "", err
	}

	for _, p := range keystore.Providers() {
		records, err := p.Enumerate(ctx, cacheDir, e.identity.ProductCode)
		if err != nil {
			// cancellation mid-provider leaves the index untouched
			return "", err
		}

		e.keys.Add(records...)
	}

	ids := e.keys.KeyIDs()
	untested := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, done := e.tested[id]; !done {
			untested = append(untested, id)
		}
	}
	if len(untested) == 0 {
		return "", ErrNoKey
	}

	matches := make([]bool, len(untested))

	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(runtime.GOMAXPROCS(0))
	for i, id := range untested {
		i, id := i, id
		eg.Go(func() error {
			if err := egCtx.Err(); err != nil {
				return err
			}

			cip, err := crypto.NewSectorCipher(e.keys.Key(id))
			if err != nil {
				slog.Warn("Skipping unusable key", slog.String("key_id", id), logutil.ErrorAttr(err))
				return nil
			}

			plain := make([]byte, len(probe.ciphertext))
			if err = cip.DecryptSector(plain, probe.ciphertext, probe.iv[:]); err != nil {
				return nil
			}

			matches[i] = bytes.HasPrefix(plain, probe.prefix)
			return nil
		})
	}
	if err = eg.Wait(); err != nil {
		return "", err
	}

	for _, id := range untested {
		e.tested[id] = struct{}{}
	}

	var matched []string
	for i, ok := range matches {
		if ok {
			matched = append(matched, untested[i])
		}
	}

	switch {
	case len(matched) == 0:
		return "", ErrNoMatch
	case len(matched) > 1:
		// same key under different ids is unexpected, not fatal
		slog.Warn("Multiple keys decrypt the probe, choosing the first",
			slog.Any("key_ids", matched))
	}

	chosenID := matched[0]
	rec := chooseRecord(e.keys.Group(chosenID), e.identity.ProductCode)
	e.chosen = &rec
	e.key = e.keys.Key(chosenID)

	slog.Info("Key selected",
		slog.String("key_id", chosenID),
		slog.String("source", rec.Kind.String()),
		slog.String("path", rec.SourcePath))

	return chosenID, nil
}

// buildProbe reads the ciphertext of the first discoverable
// known-plaintext file on the raw disc.
func (e *Engine) buildProbe() (*detectionProbe, error) {
	disc, err := iso9660.NewReader(e.dev)
	if err != nil {
		return nil, fmt.Errorf("raw disc filesystem unreadable: %w", err)
	}

	for _, candidate := range probeFiles {
		fi, err := disc.Lookup(candidate.path)
		if err != nil || fi.Dir || fi.Size == 0 {
			continue
		}

		ciphertext := make([]byte, crypto.SectorSize)
		if _, err = e.dev.ReadAt(ciphertext, int64(fi.StartSector)*crypto.SectorSize); err != nil {
			return nil, fmt.Errorf("probe sector read failed: %w", err)
		}

		return &detectionProbe{
			sector:     fi.StartSector,
			ciphertext: ciphertext,
			iv:         e.dev.SectorIV(fi.StartSector),
			prefix:     candidate.prefix,
		}, nil
	}

	return nil, ErrDetectionFileMissing
}

// chooseRecord picks the record whose metadata should feed validation:
// an IRD named after the product code, else any IRD, else the first one.
func chooseRecord(group []keystore.Record, productCode string) keystore.Record {
	code := strings.ToLower(productCode)

	for _, rec := range group {
		if rec.Kind == keystore.KindIRD &&
			strings.Contains(strings.ToLower(filepath.Base(rec.SourcePath)), code) {
			return rec
		}
	}

	for _, rec := range group {
		if rec.Kind == keystore.KindIRD {
			return rec
		}
	}

	return group[0]
}
