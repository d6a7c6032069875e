//go:build !windows

package device

import (
	"bufio"
	"os"
	"path/filepath"
	"slices"
	"strings"
)

const cdromInfoPath = "/proc/sys/dev/cdrom/info"

// Enumerate returns raw-device paths of present optical drives.
// The kernel's CD-ROM info table is consulted first, then /dev/sr* is
// globbed; results are deduplicated and filtered for existence.
func Enumerate() []string {
	var candidates []string

	if f, err := os.Open(cdromInfoPath); err == nil {
		scanner := bufio.NewScanner(f)
		for scanner.Scan() {
			name, ok := strings.CutPrefix(scanner.Text(), "drive name:")
			if !ok {
				continue
			}

			for _, drive := range strings.Fields(name) {
				candidates = append(candidates, "/dev/"+drive)
			}
		}
		_ = f.Close()
	}

	if globbed, err := filepath.Glob("/dev/sr*"); err == nil {
		candidates = append(candidates, globbed...)
	}

	slices.Sort(candidates)
	candidates = slices.Compact(candidates)

	ret := candidates[:0]
	for _, c := range candidates {
		if _, err := os.Stat(c); err == nil {
			ret = append(ret, c)
		}
	}

	return ret
}

// MountPoints maps enumerated raw devices to their mount points.
func MountPoints() map[string]string {
	devices := Enumerate()

	f, err := os.Open("/proc/mounts")
	if err != nil {
		return nil
	}
	defer f.Close()

	ret := make(map[string]string)
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 2 {
			continue
		}

		if slices.Contains(devices, fields[0]) {
			ret[fields[0]] = unescapeMountPath(fields[1])
		}
	}

	return ret
}

// unescapeMountPath decodes the octal escapes /proc/mounts uses for
// spaces, tabs and backslashes.
func unescapeMountPath(p string) string {
	if !strings.ContainsRune(p, '\\') {
		return p
	}

	var b strings.Builder
	for i := 0; i < len(p); i++ {
		if p[i] == '\\' && i+3 < len(p) {
			b.WriteByte((p[i+1]-'0')<<6 | (p[i+2]-'0')<<3 | (p[i+3] - '0'))
			i += 3
			continue
		}
		b.WriteByte(p[i])
	}

	return b.String()
}
