//go:build windows

package device

import (
	"fmt"
	"strings"

	"golang.org/x/sys/windows"
)

const fallbackDrives = 32

// Enumerate returns raw-device paths of present optical drives
// (`\\.\CDROMn`). The DOS device table is queried first; on failure the
// fixed CDROM0..31 range is probed for openability.
func Enumerate() []string {
	names, err := dosDeviceNames()
	if err != nil {
		return probeFallback()
	}

	var ret []string
	for _, name := range names {
		if strings.HasPrefix(strings.ToUpper(name), "CDROM") {
			ret = append(ret, `\\.\`+name)
		}
	}

	if len(ret) == 0 {
		return probeFallback()
	}

	return ret
}

func dosDeviceNames() ([]string, error) {
	buf := make([]uint16, 65536)
	for {
		n, err := windows.QueryDosDevice(nil, &buf[0], uint32(len(buf)))
		if err == nil {
			buf = buf[:n]
			break
		}
		if err == windows.ERROR_INSUFFICIENT_BUFFER {
			buf = make([]uint16, len(buf)*2)
			continue
		}
		return nil, err
	}

	// buffer holds a sequence of null-terminated names
	var ret []string
	start := 0
	for i, v := range buf {
		if v != 0 {
			continue
		}
		if i > start {
			ret = append(ret, windows.UTF16ToString(buf[start:i]))
		}
		start = i + 1
	}

	return ret, nil
}

func probeFallback() []string {
	var ret []string
	for i := 0; i < fallbackDrives; i++ {
		path := fmt.Sprintf(`\\.\CDROM%d`, i)

		h, err := openHandle(path)
		if err != nil {
			continue
		}
		_ = windows.CloseHandle(h)

		ret = append(ret, path)
	}

	return ret
}

func openHandle(path string) (windows.Handle, error) {
	p, err := windows.UTF16PtrFromString(path)
	if err != nil {
		return windows.InvalidHandle, err
	}

	return windows.CreateFile(p, windows.GENERIC_READ,
		windows.FILE_SHARE_READ|windows.FILE_SHARE_WRITE, nil,
		windows.OPEN_EXISTING, 0, 0)
}

// MountPoints maps mounted optical drive letters to themselves: on
// Windows the mount point is the drive root (`D:\`) and the matching raw
// device is discovered separately by content comparison.
func MountPoints() map[string]string {
	mask, err := windows.GetLogicalDrives()
	if err != nil {
		return nil
	}

	ret := make(map[string]string)
	for i := 0; i < 26; i++ {
		if mask&(1<<i) == 0 {
			continue
		}

		root := string(rune('A'+i)) + `:\`
		p, err := windows.UTF16PtrFromString(root)
		if err != nil {
			continue
		}

		if windows.GetDriveType(p) == windows.DRIVE_CDROM {
			ret[root] = root
		}
	}

	return ret
}
