package keystore

import (
	"context"
	"encoding/hex"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/xakep666/ps3dump-go/internal/logutil"
	"github.com/xakep666/ps3dump-go/pkg/crypto"
	"github.com/xakep666/ps3dump-go/pkg/ird"
)

const (
	irdExt  = ".ird"
	dkeyExt = ".dkey"
)

// Provider enumerates key records of one source kind from the cache
// directory. A broken cache file is logged and skipped, never fatal.
type Provider interface {
	Kind() Kind
	Enumerate(ctx context.Context, cacheDir, productCode string) ([]Record, error)
}

// Providers returns the fixed provider set in priority order: IRD first
// so it wins the metadata tie-break for duplicated keys.
func Providers() []Provider {
	return []Provider{IRDProvider{}, RedumpProvider{}}
}

// IRDProvider yields keys from .ird archives.
type IRDProvider struct{}

func (IRDProvider) Kind() Kind { return KindIRD }

func (p IRDProvider) Enumerate(ctx context.Context, cacheDir, productCode string) ([]Record, error) {
	paths, err := collectCacheFiles(ctx, cacheDir, irdExt, productCode)
	if err != nil {
		return nil, err
	}

	var ret []Record
	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		archive, err := ird.Open(path)
		if err != nil {
			slog.Warn("Skipping unreadable ird", slog.String("path", path), logutil.ErrorAttr(err))
			continue
		}

		key, err := crypto.DeriveDiscKey(archive.Data1[:])
		if err != nil {
			slog.Warn("Skipping ird with bad key material", slog.String("path", path), logutil.ErrorAttr(err))
			continue
		}

		hashes := make(map[uint64]string, len(archive.FileHashes))
		for _, fh := range archive.FileHashes {
			hashes[fh.StartSector] = hex.EncodeToString(fh.MD5[:])
		}

		ret = append(ret, Record{
			Key:         key,
			KeyID:       KeyID(key),
			Kind:        KindIRD,
			SourcePath:  path,
			GameVersion: archive.GameVersion,
			FileHashes:  hashes,
		})
	}

	return ret, nil
}

// RedumpProvider yields keys from flat .dkey dumps.
type RedumpProvider struct{}

func (RedumpProvider) Kind() Kind { return KindRedump }

func (p RedumpProvider) Enumerate(ctx context.Context, cacheDir, productCode string) ([]Record, error) {
	paths, err := collectCacheFiles(ctx, cacheDir, dkeyExt, productCode)
	if err != nil {
		return nil, err
	}

	var ret []Record
	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		f, err := os.Open(path)
		if err != nil {
			slog.Warn("Skipping unreadable key dump", slog.String("path", path), logutil.ErrorAttr(err))
			continue
		}

		data1, err := crypto.ReadKeyFile(f)
		_ = f.Close()
		if err != nil {
			slog.Warn("Skipping malformed key dump", slog.String("path", path), logutil.ErrorAttr(err))
			continue
		}

		key, err := crypto.DeriveDiscKey(data1)
		if err != nil {
			slog.Warn("Skipping key dump with bad key material", slog.String("path", path), logutil.ErrorAttr(err))
			continue
		}

		ret = append(ret, Record{
			Key:        key,
			KeyID:      KeyID(key),
			Kind:       KindRedump,
			SourcePath: path,
		})
	}

	return ret, nil
}

// collectCacheFiles walks the cache tree for files with given extension.
// Files whose name mentions the product code sort first so their keys get
// the lowest enumeration positions.
func collectCacheFiles(ctx context.Context, cacheDir, ext, productCode string) ([]string, error) {
	var ret []string

	err := filepath.WalkDir(cacheDir, func(path string, d fs.DirEntry, err error) error {
		if cerr := ctx.Err(); cerr != nil {
			return cerr
		}
		if err != nil {
			slog.Warn("Skipping cache path", slog.String("path", path), logutil.ErrorAttr(err))
			if d != nil && d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}

		if !d.IsDir() && strings.EqualFold(filepath.Ext(d.Name()), ext) {
			ret = append(ret, path)
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	code := strings.ToLower(productCode)
	sort.SliceStable(ret, func(i, j int) bool {
		im := code != "" && strings.Contains(strings.ToLower(filepath.Base(ret[i])), code)
		jm := code != "" && strings.Contains(strings.ToLower(filepath.Base(ret[j])), code)
		return im && !jm
	})

	return ret, nil
}
