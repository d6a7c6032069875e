// Package crypto implements the disc-level cryptography of encrypted
// PS3 Blu-ray media: derivation of the disc key from "data1" key material
// and per-sector AES-128-CBC decryption.
// See https://www.psdevwiki.com/ps3/Bluray_disc#Encryption for details.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"io"
)

const (
	// KeySize is the size of all keys and IVs involved.
	KeySize = 16

	// SectorSize is the size of one addressable disc sector.
	SectorSize = 2048
)

var (
	// keyData1 is a base encryption key for image.
	// Key used to decrypt image is a result of its encryption with ivData1 in CBC mode.
	keyData1 = [KeySize]byte{0x38, 0x0b, 0xcf, 0x0b, 0x53, 0x45, 0x5b, 0x3c, 0x78, 0x17, 0xab, 0x4f, 0xa3, 0xba, 0x90, 0xed}
	ivData1  = [KeySize]byte{0x69, 0x47, 0x47, 0x72, 0xaf, 0x6f, 0xda, 0xb3, 0x42, 0x74, 0x3a, 0xef, 0xaa, 0x18, 0x62, 0x87}
)

// DeriveDiscKey computes the actual sector decryption key from data1 material
// (the content of a redump .dkey file or an IRD data1 field).
func DeriveDiscKey(data1 []byte) ([]byte, error) {
	if len(data1) != KeySize {
		return nil, fmt.Errorf("data1 must be %d bytes, got %d", KeySize, len(data1))
	}

	cip, err := aes.NewCipher(keyData1[:])
	if err != nil {
		return nil, err
	}

	key := make([]byte, KeySize)
	cipher.NewCBCEncrypter(cip, ivData1[:]).CryptBlocks(key, data1)
	return key, nil
}

// SectorIV returns the CBC initialization vector for given sector:
// zero bytes with the sector number encoded big-endian into the tail.
func SectorIV(sector uint32) [KeySize]byte {
	var iv [KeySize]byte
	binary.BigEndian.PutUint32(iv[KeySize-4:], sector)
	return iv
}

// SectorCipher decrypts single sectors with a fixed disc key.
// DecryptSector is a pure function of (ciphertext, iv) so a single
// SectorCipher may be shared between goroutines.
type SectorCipher struct {
	block cipher.Block
}

// NewSectorCipher builds a SectorCipher from an already derived disc key.
func NewSectorCipher(discKey []byte) (*SectorCipher, error) {
	block, err := aes.NewCipher(discKey)
	if err != nil {
		return nil, fmt.Errorf("disc key rejected: %w", err)
	}

	return &SectorCipher{block: block}, nil
}

// DecryptSector decrypts src into dst under iv. Src length must be a
// multiple of the AES block size; dst and src may overlap entirely.
func (c *SectorCipher) DecryptSector(dst, src, iv []byte) error {
	if len(src)%aes.BlockSize != 0 {
		return fmt.Errorf("ciphertext length %d is not a multiple of block size", len(src))
	}
	if len(dst) < len(src) {
		return fmt.Errorf("dst too short: %d < %d", len(dst), len(src))
	}

	// new decrypter per call keeps this reentrant for the parallel key probe
	cipher.NewCBCDecrypter(c.block, iv).CryptBlocks(dst[:len(src)], src)
	return nil
}

// ReadKeyFile reads key file and decodes hex-encoded key material.
func ReadKeyFile(f io.Reader) ([]byte, error) {
	var key [KeySize]byte
	_, err := io.ReadFull(hex.NewDecoder(f), key[:])
	return key[:], err
}
