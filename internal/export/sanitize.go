package export

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"unicode"
)

// SanitizeName drops control characters, replaces anything outside letters,
// digits and " -_.,()" with '_', trims spaces and caps the result at maxLen
// runes when maxLen > 0.
func SanitizeName(s string, maxLen int) string {
	cleaned := strings.Map(func(r rune) rune {
		switch {
		case unicode.IsControl(r):
			return -1
		case unicode.IsLetter(r), unicode.IsDigit(r), strings.ContainsRune(" -_.,()", r):
			return r
		default:
			return '_'
		}
	}, s)
	cleaned = strings.TrimSpace(cleaned)

	if maxLen > 0 {
		if runes := []rune(cleaned); len(runes) > maxLen {
			cleaned = string(runes[:maxLen])
		}
	}
	return cleaned
}

// FileName sanitizes name into a plain file name ending in ext. It returns
// "" when nothing usable remains.
func FileName(name, ext string) string {
	base := SanitizeName(strings.TrimSuffix(filepath.Base(name), ext), 120)
	base = strings.Trim(base, ". ")
	if base == "" {
		return ""
	}
	return base + ext
}

// ErrInvalidOutputDir wraps every ValidateOutputDir rejection.
var ErrInvalidOutputDir = errors.New("invalid output_dir")

// ValidateOutputDir accepts only an existing, clean, absolute directory.
func ValidateOutputDir(dir string) error {
	reject := func(reason string) error {
		return fmt.Errorf("%w: %s", ErrInvalidOutputDir, reason)
	}

	switch {
	case strings.TrimSpace(dir) == "":
		return reject("required")
	case slices.Contains(strings.Split(filepath.ToSlash(dir), "/"), ".."):
		return reject("path traversal")
	case filepath.Clean(dir) != dir:
		return reject("not a clean path")
	case !filepath.IsAbs(dir):
		return reject("not absolute")
	}

	info, err := os.Stat(dir)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return reject("does not exist")
	case err != nil:
		return fmt.Errorf("%w: %v", ErrInvalidOutputDir, err)
	case !info.IsDir():
		return reject("not a directory")
	}
	return nil
}
