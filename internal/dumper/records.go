package dumper

import (
	"path/filepath"
	"strings"
	"time"
)

// FileRecord describes one file to copy, as reported by the ISO-9660
// reader of the raw device. SourcePath is disc-relative and
// backslash-delimited; the host separator is applied at write time.
type FileRecord struct {
	SourcePath  string
	StartSector uint32
	Length      uint64
	CTime       time.Time
	MTime       time.Time
}

// DirRecord describes one directory of the output tree, empty ones
// included.
type DirRecord struct {
	Path  string // disc-relative, backslash-delimited
	CTime time.Time
	MTime time.Time
}

// hostPath converts a disc-relative backslash path to host separators
// relative to root.
func hostPath(root, discPath string) string {
	return filepath.Join(append([]string{root}, strings.Split(discPath, `\`)...)...)
}

// discPath converts a forward-slash volume path to the rooted backslash
// form used in records and reference metadata.
func discPath(volumePath string) string {
	return `\` + strings.ReplaceAll(strings.Trim(volumePath, "/"), "/", `\`)
}
