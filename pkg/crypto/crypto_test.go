package crypto_test

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xakep666/ps3dump-go/pkg/crypto"
)

func TestDeriveDiscKey(t *testing.T) {
	data1 := bytes.Repeat([]byte{0xa5}, crypto.KeySize)

	key1, err := crypto.DeriveDiscKey(data1)
	require.NoError(t, err)
	require.Len(t, key1, crypto.KeySize)

	key2, err := crypto.DeriveDiscKey(data1)
	require.NoError(t, err)

	assert.Equal(t, key1, key2, "derivation must be deterministic")
	assert.NotEqual(t, data1, key1, "derived key must differ from data1")
}

func TestDeriveDiscKey_BadLength(t *testing.T) {
	_, err := crypto.DeriveDiscKey([]byte{1, 2, 3})
	assert.Error(t, err)
}

func TestSectorIV(t *testing.T) {
	assert.Equal(t,
		[crypto.KeySize]byte{0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0x12, 0x34, 0x56, 0x78},
		crypto.SectorIV(0x12345678))

	assert.Equal(t, [crypto.KeySize]byte{}, crypto.SectorIV(0))
}

func TestSectorCipher_RoundTrip(t *testing.T) {
	key := []byte("0123456789abcdef")
	plain := bytes.Repeat([]byte("sector-payload!!"), crypto.SectorSize/16)
	iv := crypto.SectorIV(42)

	block, err := aes.NewCipher(key)
	require.NoError(t, err)

	encrypted := make([]byte, len(plain))
	cipher.NewCBCEncrypter(block, iv[:]).CryptBlocks(encrypted, plain)

	sc, err := crypto.NewSectorCipher(key)
	require.NoError(t, err)

	decrypted := make([]byte, len(encrypted))
	require.NoError(t, sc.DecryptSector(decrypted, encrypted, iv[:]))
	assert.Equal(t, plain, decrypted)

	// identical inputs must give identical outputs
	again := make([]byte, len(encrypted))
	require.NoError(t, sc.DecryptSector(again, encrypted, iv[:]))
	assert.Equal(t, decrypted, again)
}

func TestSectorCipher_Concurrent(t *testing.T) {
	key := []byte("0123456789abcdef")
	iv := crypto.SectorIV(7)

	sc, err := crypto.NewSectorCipher(key)
	require.NoError(t, err)

	src := bytes.Repeat([]byte{0xee}, crypto.SectorSize)

	want := make([]byte, crypto.SectorSize)
	require.NoError(t, sc.DecryptSector(want, src, iv[:]))

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()

			got := make([]byte, crypto.SectorSize)
			if assert.NoError(t, sc.DecryptSector(got, src, iv[:])) {
				assert.Equal(t, want, got)
			}
		}()
	}
	wg.Wait()
}

func TestSectorCipher_BadInput(t *testing.T) {
	sc, err := crypto.NewSectorCipher([]byte("0123456789abcdef"))
	require.NoError(t, err)

	iv := crypto.SectorIV(1)
	assert.Error(t, sc.DecryptSector(make([]byte, 10), make([]byte, 10), iv[:]))
	assert.Error(t, sc.DecryptSector(make([]byte, 8), make([]byte, 16), iv[:]))
}

func TestReadKeyFile(t *testing.T) {
	key, err := crypto.ReadKeyFile(strings.NewReader("000102030405060708090a0b0c0d0e0f\n"))
	require.NoError(t, err)
	assert.Equal(t, []byte{0, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15}, key)

	_, err = crypto.ReadKeyFile(strings.NewReader("too-short"))
	assert.Error(t, err)
}
