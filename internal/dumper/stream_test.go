package dumper

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/md5"
	"crypto/sha1"
	"encoding/hex"
	"io"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xakep666/ps3dump-go/pkg/crypto"
	"github.com/xakep666/ps3dump-go/pkg/device"
)

func encryptTestSectors(t *testing.T, image, key []byte, regions []device.Region) {
	t.Helper()

	block, err := aes.NewCipher(key)
	require.NoError(t, err)

	for sector := uint32(0); sector < uint32(len(image)/crypto.SectorSize); sector++ {
		if device.InRegions(regions, sector) {
			continue
		}

		iv := crypto.SectorIV(sector)
		span := image[int(sector)*crypto.SectorSize : (int(sector)+1)*crypto.SectorSize]
		cipher.NewCBCEncrypter(block, iv[:]).CryptBlocks(span, span)
	}
}

func TestDumpStream(t *testing.T) {
	key := []byte("0123456789abcdef")
	regions := []device.Region{{Start: 0, End: 1}}

	plain := make([]byte, 3*crypto.SectorSize)
	rand.New(rand.NewSource(1)).Read(plain)

	image := bytes.Clone(plain)
	encryptTestSectors(t, image, key, regions)
	require.NotEqual(t, plain, image)

	sc, err := crypto.NewSectorCipher(key)
	require.NoError(t, err)

	length := uint64(2*crypto.SectorSize + 100)
	s := newDumpStream(bytes.NewReader(image), sc, crypto.SectorIV, regions, 0, length, []string{"sha1"})

	got, err := io.ReadAll(s)
	require.NoError(t, err)

	assert.Equal(t, plain[:length], got, "unprotected sector passes through, the rest decrypts")
	assert.False(t, s.Corrupted())
	assert.Equal(t, uint32(3), s.SectorPosition())

	wantMD5 := md5.Sum(plain[:length])
	wantSHA1 := sha1.Sum(plain[:length])
	sums := s.Sums()
	assert.Equal(t, hex.EncodeToString(wantMD5[:]), sums["md5"])
	assert.Equal(t, hex.EncodeToString(wantSHA1[:]), sums["sha1"])
}

func TestDumpStream_StartOffset(t *testing.T) {
	key := []byte("0123456789abcdef")

	plain := make([]byte, 4*crypto.SectorSize)
	rand.New(rand.NewSource(2)).Read(plain)

	image := bytes.Clone(plain)
	encryptTestSectors(t, image, key, nil)

	sc, err := crypto.NewSectorCipher(key)
	require.NoError(t, err)

	s := newDumpStream(bytes.NewReader(image), sc, crypto.SectorIV, nil, 2, crypto.SectorSize, nil)

	got, err := io.ReadAll(s)
	require.NoError(t, err)
	assert.Equal(t, plain[2*crypto.SectorSize:3*crypto.SectorSize], got)
}

func TestDumpStream_ShortRead(t *testing.T) {
	key := []byte("0123456789abcdef")

	image := make([]byte, crypto.SectorSize+100)

	sc, err := crypto.NewSectorCipher(key)
	require.NoError(t, err)

	// declared length exceeds what the source can deliver
	s := newDumpStream(bytes.NewReader(image), sc, crypto.SectorIV, []device.Region{{Start: 0, End: 10}}, 0, 2*crypto.SectorSize, nil)

	got, err := io.ReadAll(s)
	require.NoError(t, err)

	assert.Len(t, got, 2*crypto.SectorSize)
	assert.True(t, s.Corrupted())
}

func TestDumpStream_EmptyFile(t *testing.T) {
	sc, err := crypto.NewSectorCipher([]byte("0123456789abcdef"))
	require.NoError(t, err)

	s := newDumpStream(bytes.NewReader(nil), sc, crypto.SectorIV, nil, 0, 0, nil)

	got, err := io.ReadAll(s)
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.Equal(t, uint32(0), s.SectorPosition())
}
