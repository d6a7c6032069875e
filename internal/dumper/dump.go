package dumper

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"os"
	"path/filepath"
	"sort"

	"github.com/docker/go-units"

	"github.com/xakep666/ps3dump-go/internal/copier"
	"github.com/xakep666/ps3dump-go/internal/logutil"
	"github.com/xakep666/ps3dump-go/pkg/crypto"
	"github.com/xakep666/ps3dump-go/pkg/device"
	"github.com/xakep666/ps3dump-go/pkg/iso9660"
)

const (
	// filesystem snapshot size: reading the directory structures from
	// memory avoids seek storms on the raw device
	fsSnapshotSize = 64 << 20

	// extra destination headroom demanded beyond the dump size
	freeSpaceMargin = 100 << 10

	maxCopyAttempts = 2

	reasonMissing    = "missing"
	reasonCorrupted  = "corrupted"
	reasonReadFailed = "failed to read"
)

// Report is the completion summary of a dump.
type Report struct {
	OutputDir   string
	Validation  ValidationStatus
	BrokenFiles []BrokenFile
}

// Dump copies and decrypts every disc file into a directory named after
// the identity template under outputBase. Per-file failures accumulate
// in the report; only cancellation aborts the run.
func (e *Engine) Dump(ctx context.Context, outputBase string) (*Report, error) {
	ctx, cancel := e.opContext(ctx)
	defer cancel()

	if e.identity == nil {
		return nil, fmt.Errorf("disc not detected yet")
	}
	if e.key == nil || e.dev == nil {
		return nil, fmt.Errorf("decryption key not selected yet")
	}

	disc, err := e.openDiscSnapshot()
	if err != nil {
		return nil, err
	}

	files, dirs, err := collectRecords(disc, e.mountFiles)
	if err != nil {
		return nil, fmt.Errorf("disc enumeration failed: %w", err)
	}

	regions, err := e.dev.UnprotectedRegions()
	if err != nil {
		return nil, fmt.Errorf("unprotected region map unavailable: %w", err)
	}

	refs := e.buildReferences(files)
	if refs == nil {
		slog.Info("No reference hashes for this disc, dump will not be verified")
	}

	cipher, err := crypto.NewSectorCipher(e.key)
	if err != nil {
		return nil, err
	}

	var totalBytes, totalSectors uint64
	for _, f := range files {
		totalBytes += f.Length
		totalSectors += (f.Length + crypto.SectorSize - 1) / crypto.SectorSize
	}

	outputDir := filepath.Join(outputBase, e.identity.OutputName(e.opts.NameTemplate))

	if free, ferr := freeSpace(outputBase); ferr == nil && free < totalBytes+freeSpaceMargin {
		slog.Warn("Destination may not have enough free space",
			slog.String("free", units.BytesSize(float64(free))),
			slog.String("required", units.BytesSize(float64(totalBytes+freeSpaceMargin))))
	}

	if err = makeDirs(outputDir, dirs); err != nil {
		return nil, err
	}

	e.tracker.update(func(p *Progress) {
		*p = Progress{TotalFiles: len(files), TotalSectors: totalSectors}
	})

	slog.Info("Dumping disc",
		slog.String("output", outputDir),
		slog.Int("files", len(files)),
		slog.String("size", units.BytesSize(float64(totalBytes))))

	cp := copier.NewPooledCopier(e.opts.BufferSize)

	var doneSectors uint64
	for i, f := range files {
		if err = ctx.Err(); err != nil {
			return nil, err
		}

		e.tracker.update(func(p *Progress) {
			p.CurrentFile = i
			p.CurrentPath = f.SourcePath
		})

		target := hostPath(outputDir, f.SourcePath)
		fileSectors := (f.Length + crypto.SectorSize - 1) / crypto.SectorSize

		if _, onMount := e.mountFiles[mountKey(f.SourcePath)]; !onMount {
			slog.Warn("File absent on mount", slog.String("path", f.SourcePath))
			e.recordBroken(f.SourcePath, reasonMissing, ValidationFailed)
			doneSectors += fileSectors
			e.tracker.update(func(p *Progress) { p.CurrentSector = doneSectors })
			continue
		}

		if err = e.copyFile(ctx, cp, cipher, regions, f, target, refs[f.SourcePath], doneSectors); err != nil {
			return nil, err
		}

		doneSectors += fileSectors
		e.tracker.update(func(p *Progress) { p.CurrentSector = doneSectors })

		if err = os.Chtimes(target, f.MTime, f.MTime); err != nil {
			slog.Warn("Timestamp restore failed", slog.String("path", target), logutil.ErrorAttr(err))
		}
	}

	restoreDirTimes(outputDir, dirs)

	report := &Report{
		OutputDir:   outputDir,
		Validation:  e.tracker.snapshot().Validation,
		BrokenFiles: e.tracker.snapshot().BrokenFiles,
	}

	slog.Info("Dump finished",
		slog.String("validation", report.Validation.String()),
		slog.Int("broken_files", len(report.BrokenFiles)))

	return report, nil
}

// copyFile performs up to maxCopyAttempts copies of one file with hash
// verification. All per-file failures, output I/O errors included, are
// recorded, never returned; only cancellation propagates as an error.
func (e *Engine) copyFile(
	ctx context.Context,
	cp *copier.Copier,
	cipher *crypto.SectorCipher,
	regions []device.Region,
	f FileRecord,
	target string,
	refs fileReference,
	doneSectors uint64,
) error {
	log := slog.With(slog.String("path", f.SourcePath))

	algorithms := refs.algorithms()

	var prevSums map[string]string
	for attempt := 0; attempt < maxCopyAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		stream := newDumpStream(e.dev, cipher, e.dev.SectorIV, regions, f.StartSector, f.Length, algorithms)

		err := e.writeFile(ctx, cp, target, stream, doneSectors*crypto.SectorSize)
		if err != nil {
			if IsCancelled(err) {
				// partial output stays in place
				return err
			}

			log.Warn("Copy attempt failed", slog.Int("attempt", attempt+1), logutil.ErrorAttr(err))
			if attempt+1 == maxCopyAttempts {
				e.recordBroken(f.SourcePath, reasonReadFailed, ValidationFailed)
				return nil
			}
			continue
		}

		sums := stream.Sums()

		if len(refs) == 0 {
			e.tracker.update(func(p *Progress) { p.degrade(ValidationUnknown) })
			return nil
		}

		if refs.matches(sums) {
			return nil
		}

		if stream.Corrupted() || equalSums(sums, prevSums) {
			log.Warn("File corrupted", slog.Bool("short_read", stream.Corrupted()))
			e.recordBroken(f.SourcePath, reasonCorrupted, ValidationFailed)
			return nil
		}

		prevSums = sums
		log.Warn("Hash mismatch, retrying", slog.Int("attempt", attempt+1))
	}

	e.recordBroken(f.SourcePath, reasonCorrupted, ValidationFailed)
	return nil
}

// writeFile streams one file to its target, reporting sector progress
// per chunk.
func (e *Engine) writeFile(ctx context.Context, cp *copier.Copier, target string, stream *dumpStream, baseBytes uint64) error {
	out, err := os.Create(target)
	if err != nil {
		return fmt.Errorf("create output failed: %w", err)
	}

	pw := &progressWriter{w: out, tracker: &e.tracker, base: baseBytes}

	_, cerr := cp.Copy(ctx, pw, stream)

	if serr := out.Sync(); serr != nil && cerr == nil {
		cerr = serr
	}
	if clerr := out.Close(); clerr != nil && cerr == nil {
		cerr = clerr
	}

	return cerr
}

type progressWriter struct {
	w       io.Writer
	tracker *progressTracker
	base    uint64
	written uint64
}

func (pw *progressWriter) Write(p []byte) (int, error) {
	n, err := pw.w.Write(p)
	pw.written += uint64(n)

	sectors := (pw.base + pw.written) / crypto.SectorSize
	pw.tracker.update(func(pr *Progress) { pr.CurrentSector = sectors })

	return n, err
}

func (e *Engine) recordBroken(path, reason string, degradeTo ValidationStatus) {
	e.tracker.update(func(p *Progress) {
		p.BrokenFiles = append(p.BrokenFiles, BrokenFile{Path: path, Reason: reason})
		p.degrade(degradeTo)
	})
}

// openDiscSnapshot builds the ISO reader over an in-memory copy of the
// device's leading sectors, falling back to the live device when the
// snapshot does not parse.
func (e *Engine) openDiscSnapshot() (*iso9660.Reader, error) {
	snapshot := make([]byte, fsSnapshotSize)
	n, err := e.dev.ReadAt(snapshot, 0)
	if n > 0 {
		if disc, serr := iso9660.NewReader(bytes.NewReader(snapshot[:n])); serr == nil {
			return disc, nil
		}
	}
	if err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
		slog.Debug("Filesystem snapshot read failed", logutil.ErrorAttr(err))
	}

	disc, err := iso9660.NewReader(e.dev)
	if err != nil {
		return nil, fmt.Errorf("raw disc filesystem unreadable: %w", err)
	}

	return disc, nil
}

// collectRecords walks the disc filesystem into file and directory
// records. Timestamps prefer what the mounted filesystem reports and
// fall back to the iso9660 recording time.
func collectRecords(disc *iso9660.Reader, mount map[string]mountFile) ([]FileRecord, []DirRecord, error) {
	var (
		files []FileRecord
		dirs  []DirRecord
	)

	err := disc.Walk(func(fi iso9660.FileInfo) error {
		src := discPath(fi.Path)

		ctime, mtime := fi.Recorded, fi.Recorded
		if mf, ok := mount[mountKey(fi.Path)]; ok && !fi.Dir {
			mtime = mf.mtime
			if mf.hasCTime {
				ctime = mf.ctime
			} else {
				ctime = mf.mtime
			}
		}

		if fi.Dir {
			dirs = append(dirs, DirRecord{Path: src, CTime: ctime, MTime: mtime})
			return nil
		}

		files = append(files, FileRecord{
			SourcePath:  src,
			StartSector: fi.StartSector,
			Length:      fi.Size,
			CTime:       ctime,
			MTime:       mtime,
		})
		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	return files, dirs, nil
}

// makeDirs materializes the output tree including empty directories.
func makeDirs(outputDir string, dirs []DirRecord) error {
	if err := os.MkdirAll(outputDir, os.ModePerm); err != nil {
		return fmt.Errorf("create output directory failed: %w", err)
	}

	for _, d := range dirs {
		if err := os.MkdirAll(hostPath(outputDir, d.Path), os.ModePerm); err != nil {
			return fmt.Errorf("create directory %q failed: %w", d.Path, err)
		}
	}

	return nil
}

// restoreDirTimes fixes directory timestamps in reverse lexical order so
// parent updates do not clobber already restored children.
func restoreDirTimes(outputDir string, dirs []DirRecord) {
	sorted := make([]DirRecord, len(dirs))
	copy(sorted, dirs)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Path > sorted[j].Path })

	for _, d := range sorted {
		target := hostPath(outputDir, d.Path)
		if err := os.Chtimes(target, d.MTime, d.MTime); err != nil {
			slog.Warn("Directory timestamp restore failed", slog.String("path", target), logutil.ErrorAttr(err))
		}
	}
}

func equalSums(a, b map[string]string) bool {
	if b == nil {
		return false
	}

	return maps.Equal(a, b)
}
