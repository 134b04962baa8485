// Package exif extracts image metadata with per-path request deduplication.
package exif

import (
	"fmt"
	"os"
	"path/filepath"

	"photokeep/internal/models"

	"github.com/rwcarlsen/goexif/exif"
	"golang.org/x/sync/singleflight"
)

// DecodeFunc parses the EXIF block of the file at path. Injectable for tests.
type DecodeFunc func(path string, data *models.ExifData) error

// Extractor reads metadata for image files. Concurrent Extract calls for the
// same path share a single in-flight extraction and its result.
type Extractor struct {
	group  singleflight.Group
	decode DecodeFunc
}

func NewExtractor() *Extractor {
	return &Extractor{decode: decodeGoexif}
}

// NewExtractorWith uses the given decode function instead of goexif.
func NewExtractorWith(decode DecodeFunc) *Extractor {
	return &Extractor{decode: decode}
}

// Extract returns the metadata for path. A file without an EXIF block is not
// an error: the result falls back to filesystem times.
func (e *Extractor) Extract(path string) (*models.ExifData, error) {
	key := filepath.Clean(path)
	v, err, _ := e.group.Do(key, func() (interface{}, error) {
		return e.extract(key)
	})
	if err != nil {
		return nil, err
	}
	return v.(*models.ExifData), nil
}

func (e *Extractor) extract(path string) (*models.ExifData, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}

	data := &models.ExifData{
		DateTaken:  info.ModTime(),
		FileSize:   info.Size(),
		ModifiedAt: info.ModTime(),
	}

	if err := e.decode(path, data); err != nil {
		// Not all images have EXIF data, this is not an error.
		return data, nil
	}
	return data, nil
}

func decodeGoexif(path string, data *models.ExifData) error {
	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer file.Close()

	x, err := exif.Decode(file)
	if err != nil {
		return err
	}

	if dt, err := x.DateTime(); err == nil {
		data.DateTaken = dt
	}
	if lat, lon, err := x.LatLong(); err == nil {
		data.Latitude = lat
		data.Longitude = lon
	}
	if tag, err := x.Get(exif.Make); err == nil {
		if s, err := tag.StringVal(); err == nil {
			data.CameraMake = s
		}
	}
	if tag, err := x.Get(exif.Model); err == nil {
		if s, err := tag.StringVal(); err == nil {
			data.CameraModel = s
		}
	}
	if tag, err := x.Get(exif.PixelXDimension); err == nil {
		if width, err := tag.Int(0); err == nil {
			data.Width = width
		}
	}
	if tag, err := x.Get(exif.PixelYDimension); err == nil {
		if height, err := tag.Int(0); err == nil {
			data.Height = height
		}
	}
	return nil
}
