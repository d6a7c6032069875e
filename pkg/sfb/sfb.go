// Package sfb reads PS3_DISC.SFB disc manifests.
// See https://psdevwiki.com/ps3/PS3_DISC.SFB for file format.
package sfb

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"strings"
)

var sfbMagic = [...]byte{'.', 'S', 'F', 'B'}

const (
	entryTableOffset = 0x20
	keyFieldSize     = 16
)

type sfbHeader struct {
	Magic   [4]byte
	Version uint32
	_       [24]byte
}

type sfbIndexEntry struct {
	Key        [keyFieldSize]byte
	DataOffset uint32
	DataLength uint32
	_          [8]byte
}

// Manifest is a parsed PS3_DISC.SFB key/value table.
type Manifest map[string]string

// Field returns the value for given key or empty string.
func (m Manifest) Field(key string) string { return m[key] }

// Parse reads all entries of a PS3_DISC.SFB file.
func Parse(f io.ReadSeeker) (Manifest, error) {
	var hdr sfbHeader

	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("seek start failed: %w", err)
	}

	if err := binary.Read(f, binary.BigEndian, &hdr); err != nil {
		return nil, fmt.Errorf("sfb header read failed: %w", err)
	}

	if hdr.Magic != sfbMagic {
		return nil, fmt.Errorf("bad sfb magic: %q", hdr.Magic)
	}

	ret := make(Manifest)
	for i := 0; ; i++ {
		var e sfbIndexEntry

		entryOff := int64(entryTableOffset) + int64(i)*int64(binary.Size(e))

		if _, err := f.Seek(entryOff, io.SeekStart); err != nil {
			return nil, fmt.Errorf("seek to index entry %d failed: %w", i, err)
		}

		if err := binary.Read(f, binary.BigEndian, &e); err != nil {
			return nil, fmt.Errorf("failed to parse index entry %d: %w", i, err)
		}

		key := string(bytes.TrimRight(e.Key[:], "\x00"))
		if key == "" { // zero entry terminates the table
			break
		}

		if _, err := f.Seek(int64(e.DataOffset), io.SeekStart); err != nil {
			return nil, fmt.Errorf("seek to value of %q failed: %w", key, err)
		}

		value := make([]byte, e.DataLength)
		if _, err := io.ReadFull(f, value); err != nil {
			return nil, fmt.Errorf("failed to read value of %q: %w", key, err)
		}

		ret[key] = strings.Trim(string(value), "\x00 ")
	}

	return ret, nil
}
