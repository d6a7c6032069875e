package dumper

import "errors"

var (
	// ErrDiscNotFound reported when no mounted PS3 disc carries a
	// PS3_DISC.SFB manifest.
	ErrDiscNotFound = errors.New("no mounted PS3 disc found")

	// ErrInvalidDisc reported when the manifest is present but
	// PARAM.SFO is missing or unparseable.
	ErrInvalidDisc = errors.New("disc has no readable PARAM.SFO")

	// ErrNoPhysicalDeviceMatch reported when no raw device contents
	// match the mounted disc.
	ErrNoPhysicalDeviceMatch = errors.New("no physical device matches the mounted disc")

	// ErrNoKey reported when the key cache yields no untested keys.
	ErrNoKey = errors.New("no candidate decryption keys")

	// ErrNoMatch reported when no candidate key decrypts the probe
	// sector correctly.
	ErrNoMatch = errors.New("no key matches the disc")

	// ErrDetectionFileMissing reported when none of the known-plaintext
	// probe files exist with non-zero length.
	ErrDetectionFileMissing = errors.New("no detection probe file on disc")
)
