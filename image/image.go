// Package image selects how a firmware file is handed to the flashing
// collaborator.
package image

import (
	"context"
	"path/filepath"
	"strings"
)

// FormatKind is the container format of a firmware image.
type FormatKind int

const (
	Elf FormatKind = iota
	Hex
)

func (k FormatKind) String() string {
	if k == Hex {
		return "hex"
	}
	return "elf"
}

// ElfOptions controls how an ELF image is loaded.
type ElfOptions struct {
	// SkipSections lists section names that are not programmed.
	SkipSections []string
}

// Format describes a firmware image for the flasher.
type Format struct {
	Kind FormatKind
	Elf  ElfOptions
}

// FormatForPath picks the image format from the file extension. Intel hex
// files (.hex, .ihex, any case) are Hex; everything else, including files
// with no extension or a .bin extension, is treated as ELF with default
// options and left to the flasher to reject.
func FormatForPath(path string) Format {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(path), "."))
	switch ext {
	case "hex", "ihex":
		return Format{Kind: Hex}
	}
	return Format{Kind: Elf}
}

// Flasher downloads a firmware image to the target.
type Flasher interface {
	Download(ctx context.Context, path string, f Format) error
}
