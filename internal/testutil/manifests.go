package testutil

import (
	"bytes"
	"encoding/binary"
	"sort"

	"github.com/klauspost/compress/gzip"

	"github.com/xakep666/ps3dump-go/pkg/ird"
)

// BuildSFB encodes a PS3_DISC.SFB manifest with the given fields.
func BuildSFB(fields map[string]string) []byte {
	buf := make([]byte, 0x800)
	copy(buf[0:4], ".SFB")
	binary.BigEndian.PutUint32(buf[4:8], 0x200)

	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	entryOff := 0x20
	dataOff := uint32(0x200)
	for _, k := range keys {
		copy(buf[entryOff:entryOff+16], k)
		binary.BigEndian.PutUint32(buf[entryOff+16:], dataOff)
		binary.BigEndian.PutUint32(buf[entryOff+20:], uint32(len(fields[k])))
		copy(buf[dataOff:], fields[k])

		entryOff += 0x20
		dataOff += uint32(len(fields[k]))
		dataOff = (dataOff + 0x1f) &^ 0x1f
	}

	return buf
}

// BuildSFO encodes a PARAM.SFO table with the given string fields.
func BuildSFO(fields map[string]string) []byte {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	headerSize := 20
	indexSize := 16 * len(keys)
	keyTableStart := headerSize + indexSize

	var keyTable, dataTable bytes.Buffer
	type entry struct{ keyOff, dataOff, dataLen int }
	entries := make([]entry, 0, len(keys))

	for _, k := range keys {
		entries = append(entries, entry{
			keyOff:  keyTable.Len(),
			dataOff: dataTable.Len(),
			dataLen: len(fields[k]) + 1,
		})
		keyTable.WriteString(k)
		keyTable.WriteByte(0)
		dataTable.WriteString(fields[k])
		dataTable.WriteByte(0)
	}

	dataTableStart := keyTableStart + keyTable.Len()

	var buf bytes.Buffer
	buf.Write([]byte{0, 'P', 'S', 'F'})
	buf.Write([]byte{1, 1, 0, 0})
	binary.Write(&buf, binary.LittleEndian, uint32(keyTableStart))
	binary.Write(&buf, binary.LittleEndian, uint32(dataTableStart))
	binary.Write(&buf, binary.LittleEndian, uint32(len(keys)))

	for _, e := range entries {
		binary.Write(&buf, binary.LittleEndian, uint16(e.keyOff))
		binary.Write(&buf, binary.LittleEndian, uint16(0x0204)) // utf8 string
		binary.Write(&buf, binary.LittleEndian, uint32(e.dataLen))
		binary.Write(&buf, binary.LittleEndian, uint32(e.dataLen))
		binary.Write(&buf, binary.LittleEndian, uint32(e.dataOff))
	}

	buf.Write(keyTable.Bytes())
	buf.Write(dataTable.Bytes())

	return buf.Bytes()
}

// IRDParams describe the synthetic archive to build.
type IRDParams struct {
	Version     byte // 0 defaults to 6
	ProductCode string
	Title       string

	UpdateVersion string
	GameVersion   string
	AppVersion    string

	FileHashes []ird.FileHash
	Data1      [16]byte
}

// BuildIRD encodes a gzip-compressed IRD archive.
func BuildIRD(p IRDParams) []byte {
	return BuildIRDWithMagic("3IRD", p)
}

// BuildIRDWithMagic is BuildIRD with an arbitrary leading magic, for
// negative tests.
func BuildIRDWithMagic(magic string, p IRDParams) []byte {
	if p.Version == 0 {
		p.Version = 6
	}

	var body bytes.Buffer
	body.WriteString(magic)
	body.WriteByte(p.Version)
	body.WriteString(p.ProductCode)

	writeString := func(s string) {
		body.WriteByte(byte(len(s)))
		body.WriteString(s)
	}
	writeString(p.Title)
	writeString(p.UpdateVersion)
	writeString(p.GameVersion)
	writeString(p.AppVersion)

	if p.Version == 7 {
		binary.Write(&body, binary.LittleEndian, uint32(1))
	}

	binary.Write(&body, binary.LittleEndian, uint32(0)) // header blob
	binary.Write(&body, binary.LittleEndian, uint32(0)) // footer blob

	body.WriteByte(1) // region count
	body.Write(make([]byte, 16))

	binary.Write(&body, binary.LittleEndian, uint32(len(p.FileHashes)))
	for _, fh := range p.FileHashes {
		binary.Write(&body, binary.LittleEndian, fh.StartSector)
		body.Write(fh.MD5[:])
	}

	body.Write(make([]byte, 4)) // extra config + attachments

	var pic [0x73]byte
	if p.Version >= 9 {
		body.Write(pic[:])
	}
	body.Write(p.Data1[:])
	body.Write(make([]byte, 16)) // data2
	if p.Version < 9 {
		body.Write(pic[:])
	}

	var out bytes.Buffer
	gz := gzip.NewWriter(&out)
	_, _ = gz.Write(body.Bytes())
	_ = gz.Close()

	return out.Bytes()
}
