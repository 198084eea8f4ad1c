package subject

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// maxResolveAttempts bounds the counter search in a single directory.
const maxResolveAttempts = 100000

// ErrNoFreeName is returned when every counter up to maxResolveAttempts is taken.
var ErrNoFreeName = errors.New("no free filename")

// Resolve returns path unchanged if nothing exists there. Otherwise it
// inserts a parenthesised counter before the last extension, starting at
// (1) and incrementing until the candidate does not exist:
//
//	trial.csv -> trial(1).csv -> trial(2).csv
//	notes     -> notes(1)     -> notes(2)
//
// The result is free only at the moment of the check; use CreateExclusive to
// also claim it.
func Resolve(path string) (string, error) {
	return resolveWith(path, exists)
}

func resolveWith(path string, exists func(string) (bool, error)) (string, error) {
	taken, err := exists(path)
	if err != nil || !taken {
		return path, err
	}

	stem, ext := splitExt(path)
	for n := 1; n <= maxResolveAttempts; n++ {
		candidate := fmt.Sprintf("%s(%d)%s", stem, n, ext)
		taken, err := exists(candidate)
		if err != nil {
			return "", err
		}
		if !taken {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("%w for %s", ErrNoFreeName, path)
}

// splitExt splits path at the last '.' of its final element. A name without
// '.' has an empty extension.
func splitExt(path string) (stem, ext string) {
	ext = filepath.Ext(path)
	if ext == filepath.Base(path) {
		// ".profile": the dot starts the name, it is not an extension.
		ext = ""
	}
	return strings.TrimSuffix(path, ext), ext
}

func exists(path string) (bool, error) {
	_, err := os.Lstat(path)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, fs.ErrNotExist):
		return false, nil
	default:
		return false, err
	}
}

// CreateExclusive resolves path and creates the result with O_EXCL, retrying
// when another writer claims the same name between check and create.
func CreateExclusive(path string) (*os.File, string, error) {
	for range 16 {
		resolved, err := Resolve(path)
		if err != nil {
			return nil, "", err
		}
		f, err := os.OpenFile(resolved, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
		if errors.Is(err, fs.ErrExist) {
			continue
		}
		if err != nil {
			return nil, "", err
		}
		return f, resolved, nil
	}
	return nil, "", fmt.Errorf("%w for %s: lost every creation race", ErrNoFreeName, path)
}

// CompanionName derives the slot 1 name from the slot 0 name: the name cut
// at its first ".csv". Names without ".csv" lose their last extension. It
// returns "" when no distinct companion name exists.
func CompanionName(name string) string {
	if i := strings.Index(name, ".csv"); i > 0 {
		return name[:i]
	}
	stem, ext := splitExt(name)
	if ext == "" || stem == "" {
		return ""
	}
	return stem
}
