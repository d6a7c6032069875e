// Package testutil builds synthetic disc images, manifests and key
// archives for tests.
package testutil

import (
	"crypto/aes"
	"crypto/cipher"
	"encoding/binary"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/xakep666/ps3dump-go/pkg/crypto"
)

const sectorSize = 2048

// ISOFile is one file to place on a synthetic volume.
type ISOFile struct {
	Path     string // forward-slash, volume-relative
	Data     []byte
	Recorded time.Time
}

// ISOLayout reports where the builder placed the content.
type ISOLayout struct {
	Image        []byte
	FileSectors  map[string]uint32 // path -> start sector
	TotalSectors uint32
}

// BuildISO assembles a minimal single-descriptor ISO 9660 image holding
// the given files. Directories are created implicitly; each directory
// extent occupies one sector.
func BuildISO(files []ISOFile, extraDirs ...string) *ISOLayout {
	dirs := collectDirs(files, extraDirs)

	// sector plan: 0-15 system area, 16 PVD, 17 terminator, then one
	// sector per directory, then file extents
	dirSector := make(map[string]uint32, len(dirs))
	next := uint32(18)
	for _, d := range dirs {
		dirSector[d] = next
		next++
	}

	fileSector := make(map[string]uint32, len(files))
	for _, f := range files {
		fileSector[f.Path] = next
		next += sectorsFor(len(f.Data))
		if len(f.Data) == 0 {
			next++
		}
	}

	totalSectors := next
	image := make([]byte, int(totalSectors)*sectorSize)

	// volume descriptors
	pvd := image[16*sectorSize : 17*sectorSize]
	pvd[0] = 1
	copy(pvd[1:6], "CD001")
	pvd[6] = 1
	putBothUint32(pvd[80:], totalSectors)
	putBothUint16(pvd[128:], sectorSize)
	writeDirRecord(pvd[156:], "\x00", dirSector[""], sectorSize, time.Time{}, true)

	term := image[17*sectorSize : 18*sectorSize]
	term[0] = 255
	copy(term[1:6], "CD001")
	term[6] = 1

	// directory extents
	for _, d := range dirs {
		extent := image[int(dirSector[d])*sectorSize : (int(dirSector[d])+1)*sectorSize]
		off := 0

		parent := ""
		if d != "" {
			parent = path.Dir(d)
			if parent == "." {
				parent = ""
			}
		}

		off += writeDirRecord(extent[off:], "\x00", dirSector[d], sectorSize, time.Time{}, true)
		off += writeDirRecord(extent[off:], "\x01", dirSector[parent], sectorSize, time.Time{}, true)

		for _, sub := range dirs {
			if sub != "" && parentOf(sub) == d {
				off += writeDirRecord(extent[off:], path.Base(sub), dirSector[sub], sectorSize, time.Time{}, true)
			}
		}

		for _, f := range files {
			if parentOf(f.Path) == d {
				off += writeDirRecord(extent[off:], path.Base(f.Path)+";1", fileSector[f.Path], uint32(len(f.Data)), f.Recorded, false)
			}
		}
	}

	// file extents
	for _, f := range files {
		copy(image[int(fileSector[f.Path])*sectorSize:], f.Data)
	}

	return &ISOLayout{
		Image:        image,
		FileSectors:  fileSector,
		TotalSectors: totalSectors,
	}
}

func collectDirs(files []ISOFile, extra []string) []string {
	seen := map[string]struct{}{"": {}}
	add := func(dir string) {
		for dir != "" && dir != "." {
			seen[dir] = struct{}{}
			dir = parentOf(dir)
		}
	}

	for _, f := range files {
		add(parentOf(f.Path))
	}
	for _, d := range extra {
		add(strings.Trim(d, "/"))
	}

	dirs := make([]string, 0, len(seen))
	for d := range seen {
		dirs = append(dirs, d)
	}
	sort.Strings(dirs)
	return dirs
}

func parentOf(p string) string {
	parent := path.Dir(p)
	if parent == "." {
		return ""
	}
	return parent
}

func sectorsFor(n int) uint32 {
	return uint32((n + sectorSize - 1) / sectorSize)
}

func writeDirRecord(dst []byte, name string, extent, size uint32, recorded time.Time, dir bool) int {
	nameLen := len(name)
	recLen := 33 + nameLen
	if recLen%2 != 0 {
		recLen++
	}

	dst[0] = byte(recLen)
	putBothUint32(dst[2:], extent)
	putBothUint32(dst[10:], size)
	if !recorded.IsZero() {
		t := recorded.UTC()
		dst[18] = byte(t.Year() - 1900)
		dst[19] = byte(t.Month())
		dst[20] = byte(t.Day())
		dst[21] = byte(t.Hour())
		dst[22] = byte(t.Minute())
		dst[23] = byte(t.Second())
	}
	if dir {
		dst[25] = 2
	}
	putBothUint16(dst[28:], 1)
	dst[32] = byte(nameLen)
	copy(dst[33:], name)

	return recLen
}

func putBothUint32(dst []byte, v uint32) {
	binary.LittleEndian.PutUint32(dst[0:4], v)
	binary.BigEndian.PutUint32(dst[4:8], v)
}

func putBothUint16(dst []byte, v uint16) {
	binary.LittleEndian.PutUint16(dst[0:2], v)
	binary.BigEndian.PutUint16(dst[2:4], v)
}

// WriteRegionMap places an unprotected-region table at the image start:
// a single region [0, encryptedFrom).
func WriteRegionMap(image []byte, encryptedFrom uint32) {
	binary.BigEndian.PutUint32(image[0:4], 1)
	binary.BigEndian.PutUint32(image[8:12], 0)
	binary.BigEndian.PutUint32(image[12:16], encryptedFrom)
}

// EncryptImage encrypts every sector from encryptedFrom on with the disc
// key derived from data1, mirroring how pressed media is laid out.
func EncryptImage(image []byte, data1 []byte, encryptedFrom uint32) error {
	key, err := crypto.DeriveDiscKey(data1)
	if err != nil {
		return err
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return err
	}

	total := uint32(len(image) / sectorSize)
	for sector := encryptedFrom; sector < total; sector++ {
		iv := crypto.SectorIV(sector)
		span := image[int(sector)*sectorSize : (int(sector)+1)*sectorSize]
		cipher.NewCBCEncrypter(block, iv[:]).CryptBlocks(span, span)
	}

	return nil
}
