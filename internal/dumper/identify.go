package dumper

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/djherbis/times"

	"github.com/xakep666/ps3dump-go/internal/logutil"
	"github.com/xakep666/ps3dump-go/pkg/device"
	"github.com/xakep666/ps3dump-go/pkg/iso9660"
	"github.com/xakep666/ps3dump-go/pkg/sfb"
	"github.com/xakep666/ps3dump-go/pkg/sfo"
)

const (
	discManifestName = "PS3_DISC.SFB"
	paramSFOName     = "PARAM.SFO"
	gameDirName      = "PS3_GAME"

	hybridFlagKey = "HYBRID_FLAG"
	titleIDKey    = "TITLE_ID"

	productCodeLen = 9
)

// DetectDisc locates the mounted PS3 disc, parses its manifests and
// enumerates the mounted file tree. The returned Identity is immutable.
func (e *Engine) DetectDisc(ctx context.Context) (*Identity, error) {
	ctx, cancel := e.opContext(ctx)
	defer cancel()

	inputDir := e.opts.InputDir
	if inputDir == "" {
		inputDir = findMountedDisc()
		if inputDir == "" {
			return nil, ErrDiscNotFound
		}
	}

	sfbRaw, err := os.ReadFile(filepath.Join(inputDir, discManifestName))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDiscNotFound, err)
	}

	manifest, err := sfb.Parse(bytes.NewReader(sfbRaw))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDiscNotFound, err)
	}

	if !strings.Contains(manifest.Field(hybridFlagKey), "g") {
		slog.Warn("Disc manifest does not declare a game disc",
			slog.String("hybrid_flag", manifest.Field(hybridFlagKey)))
	}

	titleID := normalizeTitleID(manifest.Field(titleIDKey))

	sfoFile, err := os.Open(filepath.Join(inputDir, gameDirName, paramSFOName))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidDisc, err)
	}

	params, err := sfo.Parse(sfoFile)
	_ = sfoFile.Close()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidDisc, err)
	}

	if sfoTitleID := normalizeTitleID(params.Field("TITLE_ID")); sfoTitleID != titleID {
		slog.Warn("TITLE_ID mismatch between manifests",
			slog.String("sfb", titleID), slog.String("sfo", sfoTitleID))
	}

	if err = e.walkMount(ctx, inputDir); err != nil {
		return nil, err
	}

	e.inputDir = inputDir
	e.sfbRaw = sfbRaw
	e.identity = &Identity{
		Title:       params.Field("TITLE"),
		ProductCode: titleID,
		DiscVersion: params.Field("VERSION"),
		AppVersion:  params.Field("APP_VER"),
	}

	slog.Info("Disc identified",
		slog.String("title", e.identity.Title),
		slog.String("product_code", e.identity.ProductCode),
		slog.String("version", e.identity.DiscVersion),
		slog.String("region", e.identity.Region()))

	return e.identity, nil
}

// findMountedDisc probes mounted optical drives for the disc manifest.
// First match wins; drives are visited in stable order.
func findMountedDisc() string {
	mounts := device.MountPoints()

	paths := make([]string, 0, len(mounts))
	for _, mountPath := range mounts {
		paths = append(paths, mountPath)
	}
	sort.Strings(paths)

	for _, mountPath := range paths {
		if _, err := os.Stat(filepath.Join(mountPath, discManifestName)); err == nil {
			return mountPath
		}
	}

	return ""
}

// normalizeTitleID folds over-long title ids to the AAAA##### layout by
// keeping the first 4 and last 5 characters.
func normalizeTitleID(id string) string {
	id = strings.TrimSpace(id)
	if len(id) <= productCodeLen {
		return id
	}

	return id[:4] + id[len(id)-5:]
}

// walkMount enumerates all files visible through the mount for presence
// checks, total size and host-reported timestamps.
func (e *Engine) walkMount(ctx context.Context, inputDir string) error {
	files := make(map[string]mountFile)
	var totalBytes uint64

	err := filepath.WalkDir(inputDir, func(path string, d fs.DirEntry, err error) error {
		if cerr := ctx.Err(); cerr != nil {
			return cerr
		}
		if err != nil {
			slog.Warn("Skipping path on mount", slog.String("path", path), logutil.ErrorAttr(err))
			if d != nil && d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			slog.Warn("Stat failed on mount", slog.String("path", path), logutil.ErrorAttr(err))
			return nil
		}

		rel, err := filepath.Rel(inputDir, path)
		if err != nil {
			return err
		}

		mf := mountFile{size: info.Size(), mtime: info.ModTime()}
		if spec, serr := times.Stat(path); serr == nil && spec.HasChangeTime() {
			mf.ctime = spec.ChangeTime()
			mf.hasCTime = true
		}

		files[mountKey(filepath.ToSlash(rel))] = mf
		totalBytes += uint64(info.Size())
		return nil
	})
	if err != nil {
		return err
	}

	e.mountFiles = files
	e.totalBytes = totalBytes
	return nil
}

// mountKey normalizes a volume-relative path for presence lookups.
func mountKey(volumePath string) string {
	return strings.ToUpper(strings.Trim(strings.ReplaceAll(volumePath, `\`, "/"), "/"))
}

// matchPhysicalDevice finds the raw block device whose manifest bytes
// equal the mounted copy and keeps it open for dumping.
func (e *Engine) matchPhysicalDevice(ctx context.Context) error {
	if e.dev != nil {
		return nil
	}
	if len(e.sfbRaw) == 0 {
		return fmt.Errorf("disc not detected yet")
	}

	for _, path := range device.Enumerate() {
		if err := ctx.Err(); err != nil {
			return err
		}

		dev, err := device.Open(path)
		if err != nil {
			slog.Debug("Raw device open failed", slog.String("device", path), logutil.ErrorAttr(err))
			continue
		}

		if e.deviceCarriesDisc(dev) {
			slog.Info("Matched raw device", slog.String("device", path))
			e.dev = dev
			return nil
		}

		_ = dev.Close()
	}

	return ErrNoPhysicalDeviceMatch
}

func (e *Engine) deviceCarriesDisc(dev *device.Device) bool {
	disc, err := iso9660.NewReader(dev)
	if err != nil {
		return false
	}

	f, err := disc.Open(discManifestName)
	if err != nil {
		return false
	}

	raw, err := io.ReadAll(f)
	if err != nil {
		return false
	}

	return bytes.Equal(raw, e.sfbRaw)
}
