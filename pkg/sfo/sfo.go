// Package sfo reads PARAM.SFO files.
// See https://psdevwiki.com/ps3/PARAM.SFO for file format.
package sfo

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"strings"
)

var sfoMagic = [...]byte{0, 'P', 'S', 'F'}

type sfoHeader struct {
	Magic             [4]byte
	Version           [4]byte
	KeyTableStart     uint32
	DataTableStart    uint32
	TableEntriesCount uint32
}

type sfoIndexTableEntry struct {
	KeyOffset  uint16 // relative to key table start (i.e. 0 for first key)
	DataFormat uint16
	DataLen    uint32
	DataMaxLen uint32
	DataOffset uint32 // relative to data table start
}

// Params is a parsed PARAM.SFO key/value table. Values are cleaned:
// NULs and surrounding spaces stripped, line breaks collapsed to a space.
type Params map[string]string

// Field returns the value for the given key or empty string.
func (p Params) Field(key string) string { return p[key] }

// Parse reads all string-typed fields of a PARAM.SFO file.
func Parse(f io.ReadSeeker) (Params, error) {
	var hdr sfoHeader

	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("seek start failed: %w", err)
	}

	if err := binary.Read(f, binary.LittleEndian, &hdr); err != nil {
		return nil, fmt.Errorf("sfo header read failed: %w", err)
	}

	if hdr.Magic != sfoMagic {
		return nil, fmt.Errorf("bad sfo magic: %s", hdr.Magic)
	}

	var br bufio.Reader

	ret := make(Params, hdr.TableEntriesCount)
	for i := uint32(0); i < hdr.TableEntriesCount; i++ {
		var e sfoIndexTableEntry

		indexEntryOff := binary.Size(hdr) + int(i)*binary.Size(e)

		if _, err := f.Seek(int64(indexEntryOff), io.SeekStart); err != nil {
			return nil, fmt.Errorf("seek to index entry %d failed: %w", i, err)
		}

		if err := binary.Read(f, binary.LittleEndian, &e); err != nil {
			return nil, fmt.Errorf("failed to parse index table entry: %w", err)
		}

		keyOff := hdr.KeyTableStart + uint32(e.KeyOffset)

		if _, err := f.Seek(int64(keyOff), io.SeekStart); err != nil {
			return nil, fmt.Errorf("failed to seek to key at %d: %w", keyOff, err)
		}

		br.Reset(f)
		key, err := br.ReadBytes(0)
		if err != nil {
			return nil, fmt.Errorf("failed to read key at %d: %w", keyOff, err)
		}

		dataOff := int64(hdr.DataTableStart) + int64(e.DataOffset)

		if _, err := f.Seek(dataOff, io.SeekStart); err != nil {
			return nil, fmt.Errorf("failed to seek to value at %d: %w", dataOff, err)
		}

		value := make([]byte, e.DataLen)
		if _, err := io.ReadFull(f, value); err != nil {
			return nil, fmt.Errorf("failed to read value: %w", err)
		}

		ret[string(key[:len(key)-1])] = cleanValue(string(value))
	}

	return ret, nil
}

func cleanValue(v string) string {
	v = strings.Trim(v, "\x00 ")
	return strings.Join(strings.Fields(v), " ")
}
