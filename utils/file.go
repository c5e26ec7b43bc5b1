package utils

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/projecteru2/core/log"
)

// StaleTempAge is how old a temp entry must be before GC removes it. Younger
// entries may belong to an in-flight pull.
const StaleTempAge = time.Hour

// EnsureDirs creates every listed directory (and parents) with 0o750.
func EnsureDirs(dirs ...string) error {
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}
	return nil
}

// ValidFile reports whether path is a non-empty regular file.
func ValidFile(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular() && info.Size() > 0
}

// ScanFileStems lists dir and returns each matching file name with suffix
// stripped. GC uses this to enumerate on-disk blobs and snapshot files.
func ScanFileStems(dir, suffix string) []string {
	entries, _ := os.ReadDir(dir)
	var stems []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, suffix) {
			continue
		}
		stems = append(stems, strings.TrimSuffix(name, suffix))
	}
	return stems
}

// ScanSubdirs returns the names of dir's immediate subdirectories. GC uses
// this to enumerate per-VM runtime and log directories.
func ScanSubdirs(dir string) []string {
	entries, _ := os.ReadDir(dir)
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			names = append(names, e.Name())
		}
	}
	return names
}

// FilterUnreferenced returns the candidates that appear neither in refs nor
// in any exclude set. GC Resolve computes deletion targets with it.
func FilterUnreferenced(candidates []string, refs map[string]struct{}, exclude ...map[string]struct{}) []string {
	var out []string
next:
	for _, s := range candidates {
		if _, ok := refs[s]; ok {
			continue
		}
		for _, ex := range exclude {
			if _, ok := ex[s]; ok {
				continue next
			}
		}
		out = append(out, s)
	}
	return out
}

// RemoveMatching removes every entry of dir for which match returns true.
// A missing dir is not an error. Removal failures are collected rather than
// fatal, so one stuck entry does not abort the sweep.
func RemoveMatching(ctx context.Context, dir string, match func(os.DirEntry) bool) []error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return []error{fmt.Errorf("read %s: %w", dir, err)}
	}

	var errs []error
	for _, e := range entries {
		if !match(e) {
			continue
		}
		path := filepath.Join(dir, e.Name())
		if err := os.RemoveAll(path); err != nil {
			errs = append(errs, fmt.Errorf("remove %s: %w", path, err))
			continue
		}
		log.WithFunc("gc").Infof(ctx, "GC removed: %s", path)
	}
	return errs
}
