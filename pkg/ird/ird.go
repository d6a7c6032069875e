// Package ird reads IRD archives: community-produced disc metadata
// bundling the encryption key material and per-file MD5 hashes of a dump,
// indexed by game version.
// See https://www.psdevwiki.com/ps3/IRD_file for file format.
package ird

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"

	"github.com/klauspost/compress/gzip"
)

const (
	keySize = 16
	md5Size = 16
	picSize = 0x73
)

var irdMagic = [...]byte{'3', 'I', 'R', 'D'}

// FileHash is a reference MD5 of one file, keyed by its start sector.
type FileHash struct {
	StartSector uint64
	MD5         [md5Size]byte
}

// File is a parsed IRD archive.
type File struct {
	Version     byte
	ProductCode string // 9 characters
	Title       string

	UpdateVersion string
	GameVersion   string
	AppVersion    string

	// Header and Footer keep the gzip-compressed copies of the disc's
	// leading and trailing sectors as stored in the archive.
	Header []byte
	Footer []byte

	RegionHashes [][md5Size]byte
	FileHashes   []FileHash

	Data1 [keySize]byte
	Data2 [keySize]byte
	PIC   [picSize]byte
}

// Open parses an IRD archive at path.
func Open(path string) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	return Parse(f)
}

// Parse reads a gzip-compressed IRD archive.
func Parse(r io.Reader) (*File, error) {
	gz, err := gzip.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("ird is not gzip-compressed: %w", err)
	}
	defer gz.Close()

	var magic [4]byte
	if _, err = io.ReadFull(gz, magic[:]); err != nil {
		return nil, fmt.Errorf("magic read failed: %w", err)
	}
	if magic != irdMagic {
		return nil, fmt.Errorf("bad ird magic: %q", magic)
	}

	var ret File
	if err = binary.Read(gz, binary.LittleEndian, &ret.Version); err != nil {
		return nil, fmt.Errorf("version read failed: %w", err)
	}

	var productCode [9]byte
	if _, err = io.ReadFull(gz, productCode[:]); err != nil {
		return nil, fmt.Errorf("product code read failed: %w", err)
	}
	ret.ProductCode = string(productCode[:])

	if ret.Title, err = readString(gz); err != nil {
		return nil, fmt.Errorf("title read failed: %w", err)
	}

	if ret.UpdateVersion, err = readString(gz); err != nil {
		return nil, fmt.Errorf("update version read failed: %w", err)
	}
	if ret.GameVersion, err = readString(gz); err != nil {
		return nil, fmt.Errorf("game version read failed: %w", err)
	}
	if ret.AppVersion, err = readString(gz); err != nil {
		return nil, fmt.Errorf("app version read failed: %w", err)
	}

	if ret.Version == 7 {
		var id uint32
		if err = binary.Read(gz, binary.LittleEndian, &id); err != nil {
			return nil, fmt.Errorf("id read failed: %w", err)
		}
	}

	if ret.Header, err = readBlob(gz); err != nil {
		return nil, fmt.Errorf("header read failed: %w", err)
	}
	if ret.Footer, err = readBlob(gz); err != nil {
		return nil, fmt.Errorf("footer read failed: %w", err)
	}

	var regionCount byte
	if err = binary.Read(gz, binary.LittleEndian, &regionCount); err != nil {
		return nil, fmt.Errorf("region count read failed: %w", err)
	}

	ret.RegionHashes = make([][md5Size]byte, regionCount)
	for i := range ret.RegionHashes {
		if _, err = io.ReadFull(gz, ret.RegionHashes[i][:]); err != nil {
			return nil, fmt.Errorf("region %d hash read failed: %w", i, err)
		}
	}

	var fileCount uint32
	if err = binary.Read(gz, binary.LittleEndian, &fileCount); err != nil {
		return nil, fmt.Errorf("file count read failed: %w", err)
	}

	ret.FileHashes = make([]FileHash, fileCount)
	for i := range ret.FileHashes {
		if err = binary.Read(gz, binary.LittleEndian, &ret.FileHashes[i].StartSector); err != nil {
			return nil, fmt.Errorf("file %d sector read failed: %w", i, err)
		}
		if _, err = io.ReadFull(gz, ret.FileHashes[i].MD5[:]); err != nil {
			return nil, fmt.Errorf("file %d hash read failed: %w", i, err)
		}
	}

	// extra config and attachments fields (2 bytes each), not used here
	var extra [4]byte
	if err = binary.Read(gz, binary.LittleEndian, &extra); err != nil {
		return nil, fmt.Errorf("extra data read failed: %w", err)
	}

	if ret.Version >= 9 {
		if _, err = io.ReadFull(gz, ret.PIC[:]); err != nil {
			return nil, fmt.Errorf("pic read failed: %w", err)
		}
	}

	if _, err = io.ReadFull(gz, ret.Data1[:]); err != nil {
		return nil, fmt.Errorf("data1 read failed: %w", err)
	}
	if _, err = io.ReadFull(gz, ret.Data2[:]); err != nil {
		return nil, fmt.Errorf("data2 read failed: %w", err)
	}

	if ret.Version < 9 {
		if _, err = io.ReadFull(gz, ret.PIC[:]); err != nil {
			return nil, fmt.Errorf("pic read failed: %w", err)
		}
	}

	return &ret, nil
}

func readString(r io.Reader) (string, error) {
	var length byte
	if err := binary.Read(r, binary.LittleEndian, &length); err != nil {
		return "", err
	}

	buf := make([]byte, length)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", err
	}

	return string(buf), nil
}

func readBlob(r io.Reader) ([]byte, error) {
	var length uint32
	if err := binary.Read(r, binary.LittleEndian, &length); err != nil {
		return nil, err
	}

	buf := make([]byte, length)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}

	return buf, nil
}
