// Package archive copies activity files off a mounted device into a local
// directory tree, one subdirectory per device.
package archive

import (
	"context"
	"fmt"
	"io"
	"iter"
	"os"
	"path/filepath"
	"strings"

	"github.com/gajzzs/garmind/internal/device"
	"github.com/gajzzs/garmind/internal/logger"
)

const (
	dirPerms  = 0755
	filePerms = 0644
)

// Result counts what a Copy did.
type Result struct {
	Copied  int
	Skipped int
	Bytes   int64
}

// DeviceDir is the directory files from the named device are archived under.
func DeviceDir(root, displayName string) string {
	name := strings.TrimSpace(displayName)
	name = strings.NewReplacer("/", "_", "\\", "_").Replace(name)
	if name == "" || name == "." || name == ".." {
		name = "unknown"
	}
	return filepath.Join(root, name)
}

// Copy drains entries into dest, keeping each entry's path relative to the
// mount. Files already present in dest with the same size are skipped. The
// first entry error or copy failure stops the run; the partial Result is
// returned alongside it.
func Copy(ctx context.Context, entries iter.Seq2[device.ManifestEntry, error], dest string, log logger.Logger) (Result, error) {
	var res Result

	if err := os.MkdirAll(dest, dirPerms); err != nil {
		return res, fmt.Errorf("failed to create archive directory %s: %w", dest, err)
	}

	for entry, err := range entries {
		if err != nil {
			return res, err
		}
		if err := ctx.Err(); err != nil {
			return res, device.NewError(device.ReasonOf(err), "archive", "", err)
		}

		rel := entry.RelPath
		if rel == "" {
			rel = filepath.Base(entry.Path)
		}
		target := filepath.Join(dest, filepath.Clean(string(os.PathSeparator)+rel))

		if info, err := os.Stat(target); err == nil && info.Size() == entry.SizeBytes {
			res.Skipped++
			log.Debug().Str("file", rel).Msg("Already archived")
			continue
		}

		n, err := copyFile(entry.Path, target)
		if err != nil {
			return res, err
		}
		res.Copied++
		res.Bytes += n
		log.Debug().Str("file", rel).Int64("bytes", n).Msg("Archived")
	}

	return res, nil
}

// copyFile writes src to dst through a temporary sibling so that an
// interrupted copy never leaves a truncated file with the final name.
func copyFile(src, dst string) (int64, error) {
	in, err := os.Open(src)
	if err != nil {
		return 0, fmt.Errorf("failed to open %s: %w", src, err)
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(dst), dirPerms); err != nil {
		return 0, fmt.Errorf("failed to create %s: %w", filepath.Dir(dst), err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(dst), "."+filepath.Base(dst)+".*")
	if err != nil {
		return 0, fmt.Errorf("failed to create temporary file for %s: %w", dst, err)
	}
	defer os.Remove(tmp.Name())

	n, err := io.Copy(tmp, in)
	if err != nil {
		tmp.Close()
		return 0, fmt.Errorf("failed to copy %s: %w", src, err)
	}
	if err := tmp.Close(); err != nil {
		return 0, fmt.Errorf("failed to write %s: %w", dst, err)
	}
	if err := os.Chmod(tmp.Name(), filePerms); err != nil {
		return 0, fmt.Errorf("failed to set permissions on %s: %w", dst, err)
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		return 0, fmt.Errorf("failed to move %s into place: %w", dst, err)
	}
	return n, nil
}
