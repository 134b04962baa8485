// Package scanner enumerates candidate image files on disk.
package scanner

import (
	"context"
	"io/fs"
	"path/filepath"
	"strings"

	"photokeep/internal/logger"
)

// Supported image extensions
var imageExtensions = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".gif":  true,
	".bmp":  true,
	".webp": true,
	".heic": true,
	".heif": true,
	".tiff": true,
	".tif":  true,
}

// IsImageFile checks if a file has a supported image extension.
func IsImageFile(path string) bool {
	return imageExtensions[strings.ToLower(filepath.Ext(path))]
}

// ListImages walks dir and returns every image file path found below it.
// Unreadable entries are logged and skipped; only a failure to read the root
// itself is returned as an error.
func ListImages(ctx context.Context, dir string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err != nil {
			if path == dir {
				return err
			}
			logger.Warnf("Failed to access %s: %v", path, err)
			return nil
		}
		if !d.IsDir() && IsImageFile(path) {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return files, nil
}
