// Package iso9660 provides a read-only view of an ISO 9660 filesystem
// backed by any io.ReaderAt (an image file, a raw block device or an
// in-memory prefix of one).
//
// ISO 9660 Overview
// https://wiki.osdev.org/ISO_9660
package iso9660

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"path"
	"strings"
	"time"

	"golang.org/x/text/encoding/unicode"
)

const (
	// SectorSize is the logical block size; PS3 discs always use 2048.
	SectorSize = 0x800

	systemAreaSectors  = 16
	standardIdentifier = "CD001"

	volumeTypeBoot          byte = 0
	volumeTypePrimary       byte = 1
	volumeTypeSupplementary byte = 2
	volumeTypeTerminator    byte = 255

	// directory record field offsets, ECMA-119 9.1
	dirEntryExtentLoc  = 2
	dirEntryDataLen    = 10
	dirEntryRecordedAt = 18
	dirEntryFlags      = 25
	dirEntryNameLen    = 32
	dirEntryName       = 33

	dirFlagDir = 1 << 1
)

// ErrNotISO9660 reported when no valid primary volume descriptor found.
var ErrNotISO9660 = errors.New("not an iso9660 filesystem")

var utf16Decoder = unicode.UTF16(unicode.BigEndian, unicode.IgnoreBOM).NewDecoder() // joliet ucs-2 is utf16 actually

// FileInfo describes one file or directory on the volume.
type FileInfo struct {
	// Path is volume-relative, forward-slash separated, without the
	// iso9660 ";1" version suffix.
	Path        string
	StartSector uint32
	Size        uint64
	Recorded    time.Time
	Dir         bool
}

// Reader is a read-only ISO 9660 volume.
type Reader struct {
	src          io.ReaderAt
	totalSectors uint32
	root         dirEntry
	joliet       bool
}

type dirEntry struct {
	name        string
	startSector uint32
	size        uint64
	recorded    time.Time
	dir         bool
}

// NewReader locates the volume descriptors and prepares a Reader.
// A Joliet supplementary descriptor takes precedence over the primary one
// because PS3 discs carry original file names there.
func NewReader(src io.ReaderAt) (*Reader, error) {
	var (
		primary, supplementary *dirEntry
		totalSectors           uint32
	)

	sector := make([]byte, SectorSize)
	for n := systemAreaSectors; ; n++ {
		if _, err := src.ReadAt(sector, int64(n)*SectorSize); err != nil {
			return nil, fmt.Errorf("volume descriptor read failed: %w", err)
		}

		if string(sector[1:6]) != standardIdentifier {
			return nil, ErrNotISO9660
		}

		stop := false
		switch sector[0] {
		case volumeTypePrimary:
			totalSectors = binary.LittleEndian.Uint32(sector[80:84])
			e := parseDirEntry(sector[156:], false)
			primary = &e
		case volumeTypeSupplementary:
			// only UCS-2 (joliet) supplementary descriptors are usable
			if esc := sector[88:120]; esc[0] == 0x25 && esc[1] == 0x2f {
				e := parseDirEntry(sector[156:], true)
				supplementary = &e
			}
		case volumeTypeTerminator:
			stop = true
		}
		if stop {
			break
		}
	}

	if primary == nil {
		return nil, ErrNotISO9660
	}

	ret := &Reader{
		src:          src,
		totalSectors: totalSectors,
		root:         *primary,
	}
	if supplementary != nil {
		ret.root = *supplementary
		ret.joliet = true
	}

	return ret, nil
}

// SectorSize returns the logical block size of the volume.
func (r *Reader) SectorSize() int { return SectorSize }

// TotalSectors returns the volume space size in sectors.
func (r *Reader) TotalSectors() uint32 { return r.totalSectors }

// Walk enumerates every file and directory on the volume depth-first,
// directories before their contents. The root itself is not reported.
func (r *Reader) Walk(fn func(FileInfo) error) error {
	return r.walkDir("", r.root, fn)
}

func (r *Reader) walkDir(dir string, d dirEntry, fn func(FileInfo) error) error {
	entries, err := r.readDir(d)
	if err != nil {
		return fmt.Errorf("read dir %q failed: %w", dir, err)
	}

	for _, e := range entries {
		p := path.Join(dir, e.name)
		err = fn(FileInfo{
			Path:        p,
			StartSector: e.startSector,
			Size:        e.size,
			Recorded:    e.recorded,
			Dir:         e.dir,
		})
		if err != nil {
			return err
		}

		if e.dir {
			if err = r.walkDir(p, e, fn); err != nil {
				return err
			}
		}
	}

	return nil
}

// Lookup resolves a volume path (forward- or backslash-separated,
// case-insensitive) to its FileInfo.
func (r *Reader) Lookup(name string) (FileInfo, error) {
	name = strings.Trim(strings.ReplaceAll(name, `\`, "/"), "/")
	if name == "" {
		return FileInfo{}, fmt.Errorf("empty path")
	}

	cur := r.root
	parts := strings.Split(name, "/")
	for i, part := range parts {
		entries, err := r.readDir(cur)
		if err != nil {
			return FileInfo{}, fmt.Errorf("read dir failed: %w", err)
		}

		found := false
		for _, e := range entries {
			if strings.EqualFold(e.name, part) {
				cur = e
				found = true
				break
			}
		}
		if !found {
			return FileInfo{}, fmt.Errorf("%q: %w", strings.Join(parts[:i+1], "/"), fs.ErrNotExist)
		}
	}

	return FileInfo{
		Path:        strings.Join(parts, "/"),
		StartSector: cur.startSector,
		Size:        cur.size,
		Recorded:    cur.recorded,
		Dir:         cur.dir,
	}, nil
}

// Exists reports whether the given volume path resolves.
func (r *Reader) Exists(name string) bool {
	_, err := r.Lookup(name)
	return err == nil
}

// Open returns a section reader over the file contents.
func (r *Reader) Open(name string) (*io.SectionReader, error) {
	fi, err := r.Lookup(name)
	if err != nil {
		return nil, err
	}
	if fi.Dir {
		return nil, fmt.Errorf("%q is a directory", name)
	}

	return io.NewSectionReader(r.src, int64(fi.StartSector)*SectorSize, int64(fi.Size)), nil
}

func (r *Reader) readDir(d dirEntry) ([]dirEntry, error) {
	if !d.dir {
		return nil, fmt.Errorf("not a directory")
	}

	data := make([]byte, (d.size+SectorSize-1)/SectorSize*SectorSize)
	if _, err := r.src.ReadAt(data[:d.size], int64(d.startSector)*SectorSize); err != nil {
		return nil, err
	}
	data = data[:d.size]

	var ret []dirEntry
	for off := uint64(0); off < uint64(len(data)); {
		recLen := uint64(data[off])
		if recLen == 0 {
			// records do not cross sector boundaries, skip the padding
			off = (off/SectorSize + 1) * SectorSize
			continue
		}
		if off+recLen > uint64(len(data)) {
			return nil, fmt.Errorf("directory record at %d overflows extent", off)
		}

		e := parseDirEntry(data[off:off+recLen], r.joliet)
		off += recLen

		// skip "." and ".."
		if e.name == "" || e.name == "\x00" || e.name == "\x01" {
			continue
		}

		ret = append(ret, e)
	}

	return ret, nil
}

func parseDirEntry(rec []byte, joliet bool) dirEntry {
	nameLen := int(rec[dirEntryNameLen])
	name := string(rec[dirEntryName : dirEntryName+nameLen])

	switch name {
	case "\x00", "\x01":
		// keep special identifiers as-is
	default:
		if joliet {
			if decoded, err := utf16Decoder.String(name); err == nil {
				name = decoded
			}
		}
		// drop file version suffix
		if i := strings.IndexByte(name, ';'); i >= 0 {
			name = name[:i]
		}
	}

	return dirEntry{
		name:        name,
		startSector: binary.LittleEndian.Uint32(rec[dirEntryExtentLoc : dirEntryExtentLoc+4]),
		size:        uint64(binary.LittleEndian.Uint32(rec[dirEntryDataLen : dirEntryDataLen+4])),
		recorded:    parseRecordingTimestamp(rec[dirEntryRecordedAt : dirEntryRecordedAt+7]),
		dir:         rec[dirEntryFlags]&dirFlagDir != 0,
	}
}

// parseRecordingTimestamp decodes the 7-byte form of ECMA-119 9.1.5.
func parseRecordingTimestamp(b []byte) time.Time {
	offsetInQuarters := int(int8(b[6]))
	zone := time.FixedZone("", offsetInQuarters*15*60)

	return time.Date(1900+int(b[0]), time.Month(b[1]), int(b[2]), int(b[3]), int(b[4]), int(b[5]), 0, zone)
}
