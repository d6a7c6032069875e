package dumper

import (
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"hash"
	"io"

	"github.com/xakep666/ps3dump-go/pkg/crypto"
	"github.com/xakep666/ps3dump-go/pkg/device"
)

// dumpStream presents one disc file as a flat plaintext byte stream.
// Sectors inside unprotected regions pass through untouched, all others
// are decrypted with the chosen key and the per-sector IV. Every emitted
// byte is fed to the requested hash algorithms.
//
// A short read or a failing decryption is recorded in corrupted instead
// of an error so the controller decides whether a retry makes sense.
type dumpStream struct {
	src     io.ReaderAt
	cipher  *crypto.SectorCipher
	ivFor   func(uint32) [crypto.KeySize]byte
	regions []device.Region

	startSector uint32
	sector      uint32
	remaining   uint64

	buf    [crypto.SectorSize]byte
	bufOff int
	bufLen int

	hashes map[string]hash.Hash
	sink   io.Writer

	corrupted bool
}

func newDumpStream(
	src io.ReaderAt,
	cipher *crypto.SectorCipher,
	ivFor func(uint32) [crypto.KeySize]byte,
	regions []device.Region,
	startSector uint32,
	length uint64,
	algorithms []string,
) *dumpStream {
	hashes := make(map[string]hash.Hash)
	writers := make([]io.Writer, 0, len(algorithms)+1)

	for _, alg := range append([]string{"md5"}, algorithms...) {
		if _, ok := hashes[alg]; ok {
			continue
		}

		var h hash.Hash
		switch alg {
		case "md5":
			h = md5.New()
		case "sha1":
			h = sha1.New()
		case "sha256":
			h = sha256.New()
		default:
			continue
		}

		hashes[alg] = h
		writers = append(writers, h)
	}

	return &dumpStream{
		src:         src,
		cipher:      cipher,
		ivFor:       ivFor,
		regions:     regions,
		startSector: startSector,
		sector:      startSector,
		remaining:   length,
		hashes:      hashes,
		sink:        io.MultiWriter(writers...),
	}
}

func (s *dumpStream) Read(p []byte) (int, error) {
	if s.bufOff == s.bufLen {
		if s.remaining == 0 {
			return 0, io.EOF
		}
		if err := s.fill(); err != nil {
			return 0, err
		}
	}

	n := copy(p, s.buf[s.bufOff:s.bufLen])
	s.bufOff += n
	return n, nil
}

// fill reads and decodes the next sector, truncated to the declared file
// length on the last one.
func (s *dumpStream) fill() error {
	n, err := s.src.ReadAt(s.buf[:], int64(s.sector)*crypto.SectorSize)
	switch {
	case err == nil:
	case errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF):
		s.corrupted = true
		clear(s.buf[n:])
	default:
		return err
	}

	if !device.InRegions(s.regions, s.sector) {
		iv := s.ivFor(s.sector)
		if derr := s.cipher.DecryptSector(s.buf[:], s.buf[:], iv[:]); derr != nil {
			s.corrupted = true
		}
	}

	emit := uint64(crypto.SectorSize)
	if s.remaining < emit {
		emit = s.remaining
	}

	if _, err = s.sink.Write(s.buf[:emit]); err != nil {
		return err
	}

	s.bufOff = 0
	s.bufLen = int(emit)
	s.sector++
	s.remaining -= emit
	return nil
}

// SectorPosition returns the count of sectors consumed so far, monotone
// over the stream lifetime.
func (s *dumpStream) SectorPosition() uint32 { return s.sector - s.startSector }

// Corrupted reports whether any sector was short-read or failed to
// decrypt.
func (s *dumpStream) Corrupted() bool { return s.corrupted }

// Sums returns the hex digests of all emitted bytes, keyed by algorithm.
// Valid after the stream is fully drained.
func (s *dumpStream) Sums() map[string]string {
	ret := make(map[string]string, len(s.hashes))
	for alg, h := range s.hashes {
		ret[alg] = hex.EncodeToString(h.Sum(nil))
	}

	return ret
}
