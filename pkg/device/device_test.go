package device_test

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xakep666/ps3dump-go/pkg/device"
)

func regionTable(regions ...[2]uint32) []byte {
	buf := make([]byte, device.SectorSize)
	binary.BigEndian.PutUint32(buf[0:4], uint32(len(regions)))
	for i, r := range regions {
		binary.BigEndian.PutUint32(buf[8+i*8:], r[0])
		binary.BigEndian.PutUint32(buf[12+i*8:], r[1])
	}
	return buf
}

func TestReadRegions(t *testing.T) {
	regions, err := device.ReadRegions(bytes.NewReader(regionTable([2]uint32{0, 0x100}, [2]uint32{0x200, 0x300})))
	require.NoError(t, err)

	assert.Equal(t, []device.Region{{Start: 0, End: 0x100}, {Start: 0x200, End: 0x300}}, regions)
}

func TestReadRegions_Invalid(t *testing.T) {
	tests := []struct {
		name  string
		table []byte
	}{
		{"zero count", regionTable()},
		{"end before start", regionTable([2]uint32{0, 0x100}, [2]uint32{0x300, 0x200})},
		{"overlapping", regionTable([2]uint32{0, 0x100}, [2]uint32{0x80, 0x200})},
		{"first not at zero", regionTable([2]uint32{1, 0x100})},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := device.ReadRegions(bytes.NewReader(tt.table))
			assert.Error(t, err)
		})
	}
}

func TestDevice_UnprotectedRegions_Cached(t *testing.T) {
	dev := device.FromReaderAt(bytes.NewReader(regionTable([2]uint32{0, 0x10})), "test")
	t.Cleanup(func() { _ = dev.Close() })

	first, err := dev.UnprotectedRegions()
	require.NoError(t, err)

	second, err := dev.UnprotectedRegions()
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestInRegions(t *testing.T) {
	regions := []device.Region{{Start: 0, End: 0x10}, {Start: 0x20, End: 0x30}}

	assert.True(t, device.InRegions(regions, 0))
	assert.True(t, device.InRegions(regions, 0xf))
	assert.False(t, device.InRegions(regions, 0x10))
	assert.False(t, device.InRegions(regions, 0x1f))
	assert.True(t, device.InRegions(regions, 0x20))
	assert.False(t, device.InRegions(regions, 0x30))
}

func TestSectorIV_MatchesCrypto(t *testing.T) {
	dev := device.FromReaderAt(bytes.NewReader(nil), "test")

	iv := dev.SectorIV(0xdeadbeef)
	assert.Equal(t, []byte{0xde, 0xad, 0xbe, 0xef}, iv[12:])
}
