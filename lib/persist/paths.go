package persist

import "path/filepath"

const (
	backupSuffix = ".bak"
	zipSuffix    = ".zip"
)

// Paths is the set of files owned by one store, all derived from the base path.
type Paths struct {
	Plain       string // name
	PlainBackup string // name.bak
	Zip         string // name.zip
	ZipBackup   string // name.zip.bak

	// Entry is the name of the single entry inside the zip archive
	Entry string
}

// NewPaths derives the path set from a base path
func NewPaths(base string) Paths {
	return Paths{
		Plain:       base,
		PlainBackup: base + backupSuffix,
		Zip:         base + zipSuffix,
		ZipBackup:   base + zipSuffix + backupSuffix,
		Entry:       filepath.Base(base),
	}
}

// Canonical returns the snapshot path of the given representation
func (p Paths) Canonical(compressed bool) string {
	if compressed {
		return p.Zip
	}
	return p.Plain
}

// Backup returns the backup path of the given representation
func (p Paths) Backup(compressed bool) string {
	if compressed {
		return p.ZipBackup
	}
	return p.PlainBackup
}

// All returns every path of the set
func (p Paths) All() []string {
	return []string{p.Plain, p.PlainBackup, p.Zip, p.ZipBackup}
}
