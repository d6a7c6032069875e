// Package device gives access to optical block devices: enumeration of
// CD/DVD drives and their mount points, raw sector reads and the
// disc-crypto helpers (per-sector IV, unprotected region map).
package device

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"

	"github.com/xakep666/ps3dump-go/pkg/crypto"
)

// SectorSize of PS3 Blu-ray media.
const SectorSize = crypto.SectorSize

// Region is a half-open sector range [Start, End).
type Region struct {
	Start, End uint32
}

// Contains reports whether the sector falls into the region.
func (r Region) Contains(sector uint32) bool {
	return sector >= r.Start && sector < r.End
}

type unprotectedRegionsHeader struct {
	Count uint32
	_     uint32 // pad
}

type unprotectedRegion struct {
	Start, End uint32
}

// Device is an opened raw optical device (or an image standing in for one).
type Device struct {
	f interface {
		io.ReaderAt
		io.Closer
	}
	path string

	regions []Region
}

// Open opens the raw device at path read-only.
func Open(path string) (*Device, error) {
	f, err := os.OpenFile(path, os.O_RDONLY, 0)
	if err != nil {
		return nil, fmt.Errorf("open raw device failed: %w", err)
	}

	return &Device{f: f, path: path}, nil
}

// FromReaderAt wraps an arbitrary source as a Device, e.g. an image held
// in memory by tests.
func FromReaderAt(r io.ReaderAt, path string) *Device {
	return &Device{f: nopCloser{r}, path: path}
}

type nopCloser struct{ io.ReaderAt }

func (nopCloser) Close() error { return nil }

// Path returns the path the device was opened at.
func (d *Device) Path() string { return d.path }

// ReadAt reads raw (still encrypted) bytes from the device.
func (d *Device) ReadAt(b []byte, off int64) (int, error) { return d.f.ReadAt(b, off) }

// SectorIV returns the 16-byte CBC initialization vector for given sector.
func (d *Device) SectorIV(sector uint32) [crypto.KeySize]byte {
	return crypto.SectorIV(sector)
}

// UnprotectedRegions returns the ordered list of sector ranges the drive
// delivers as plaintext despite the disc being encrypted. The map is read
// once from the disc's leading region table and cached.
func (d *Device) UnprotectedRegions() ([]Region, error) {
	if d.regions != nil {
		return d.regions, nil
	}

	regions, err := ReadRegions(d.f)
	if err != nil {
		return nil, err
	}

	d.regions = regions
	return regions, nil
}

// Close releases the device handle.
func (d *Device) Close() error { return d.f.Close() }

// ReadRegions parses the plaintext region table at the disc start.
// Region "borders" must increase monotonically.
func ReadRegions(src io.ReaderAt) ([]Region, error) {
	head := make([]byte, SectorSize)
	if _, err := src.ReadAt(head, 0); err != nil {
		return nil, fmt.Errorf("read region table failed: %w", err)
	}

	var hdr unprotectedRegionsHeader
	hdr.Count = binary.BigEndian.Uint32(head[0:4])

	if hdr.Count < 1 || hdr.Count > uint32((SectorSize-8)/8) {
		return nil, fmt.Errorf("unexpected unencrypted regions count (%d)", hdr.Count)
	}

	var prevRegionEnd uint32
	ret := make([]Region, 0, hdr.Count)
	for i := uint32(0); i < hdr.Count; i++ {
		var r unprotectedRegion
		r.Start = binary.BigEndian.Uint32(head[8+i*8 : 12+i*8])
		r.End = binary.BigEndian.Uint32(head[12+i*8 : 16+i*8])

		if r.End <= r.Start {
			return nil, fmt.Errorf("region %d: end (%#x) less than start (%#x)", i, r.End, r.Start)
		}
		if r.Start < prevRegionEnd {
			return nil, fmt.Errorf("region %d: start (%#x) less than previous region end (%#x)", i, r.Start, prevRegionEnd)
		}
		prevRegionEnd = r.End

		ret = append(ret, Region{Start: r.Start, End: r.End})
	}

	if ret[0].Start != 0 {
		return nil, fmt.Errorf("region 0 start is not zero (%#x)", ret[0].Start)
	}

	return ret, nil
}

// InRegions reports whether the sector is covered by any region.
func InRegions(regions []Region, sector uint32) bool {
	for _, r := range regions {
		if r.Contains(sector) {
			return true
		}
	}

	return false
}
