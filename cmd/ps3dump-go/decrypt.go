package main

import (
	"fmt"
	"os"

	"github.com/xakep666/ps3dump-go/pkg/crypto"
	"github.com/xakep666/ps3dump-go/pkg/device"
)

type decryptCmd struct {
	Image  *os.File `arg:"" help:"Path to encrypted image to decrypt."`
	Key    *os.File `arg:"" help:"Path to key file (hex-encoded data1)."`
	Output *os.File `arg:"" help:"Path to output image." type:"outputfile"`
}

func (c *decryptCmd) Run(g *globals) error {
	g.setupLogger()

	defer c.Image.Close()
	defer c.Key.Close()
	defer c.Output.Close()

	data1, err := crypto.ReadKeyFile(c.Key)
	if err != nil {
		return fmt.Errorf("key read failed: %w", err)
	}

	key, err := crypto.DeriveDiscKey(data1)
	if err != nil {
		return err
	}

	cipher, err := crypto.NewSectorCipher(key)
	if err != nil {
		return err
	}

	regions, err := device.ReadRegions(c.Image)
	if err != nil {
		return fmt.Errorf("region map read failed: %w", err)
	}

	stat, err := c.Image.Stat()
	if err != nil {
		return err
	}

	fmt.Printf("Decrypting image %s ...\n", c.Image.Name())

	buf := make([]byte, crypto.SectorSize)
	totalSectors := uint32(stat.Size() / crypto.SectorSize)
	for sector := uint32(0); sector < totalSectors; sector++ {
		if _, err = c.Image.ReadAt(buf, int64(sector)*crypto.SectorSize); err != nil {
			return fmt.Errorf("sector %d read failed: %w", sector, err)
		}

		if !device.InRegions(regions, sector) {
			iv := crypto.SectorIV(sector)
			if err = cipher.DecryptSector(buf, buf, iv[:]); err != nil {
				return fmt.Errorf("sector %d decrypt failed: %w", sector, err)
			}
		}

		if _, err = c.Output.Write(buf); err != nil {
			return fmt.Errorf("write failed: %w", err)
		}
	}

	// trailing bytes of a truncated image pass through untouched
	if tail := stat.Size() % crypto.SectorSize; tail != 0 {
		if _, err = c.Image.ReadAt(buf[:tail], int64(totalSectors)*crypto.SectorSize); err != nil {
			return err
		}
		if _, err = c.Output.Write(buf[:tail]); err != nil {
			return err
		}
	}

	return nil
}
