package device

import (
	"context"
	"io/fs"
	"iter"
	"path/filepath"
	"strings"
)

// DefaultExtension is the suffix of Garmin activity files.
const DefaultExtension = ".fit"

// Walk lazily lists every regular file under root whose extension matches
// ext case-insensitively. A tree without matches yields nothing; only a
// failure to read root itself, or cancellation, is reported as an error.
func Walk(ctx context.Context, root, ext string) iter.Seq2[ManifestEntry, error] {
	ext = normalizeExt(ext)

	return func(yield func(ManifestEntry, error) bool) {
		stopped := false
		err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				if path == root {
					return err
				}
				// unreadable subtree
				if d != nil && d.IsDir() {
					return fs.SkipDir
				}
				return nil
			}
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			if d.IsDir() || !d.Type().IsRegular() {
				return nil
			}
			fileExt := filepath.Ext(d.Name())
			if !strings.EqualFold(fileExt, ext) {
				return nil
			}

			info, err := d.Info()
			if err != nil {
				return nil
			}
			rel, err := filepath.Rel(root, path)
			if err != nil {
				rel = d.Name()
			}

			entry := ManifestEntry{
				Path:      path,
				RelPath:   rel,
				SizeBytes: info.Size(),
				Extension: fileExt,
			}
			if !yield(entry, nil) {
				stopped = true
				return filepath.SkipAll
			}
			return nil
		})
		if err != nil && !stopped {
			yield(ManifestEntry{}, Classify(err, "extract", ""))
		}
	}
}

func normalizeExt(ext string) string {
	if ext == "" {
		return DefaultExtension
	}
	if !strings.HasPrefix(ext, ".") {
		return "." + ext
	}
	return ext
}
