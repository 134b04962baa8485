// Package container projects persisted Folders and Albums into the uniform
// image-container view the caches and UI consume.
package container

import (
	"fmt"
	"path/filepath"
	"time"

	"photokeep/internal/models"
)

// Type discriminates the two container variants.
type Type string

const (
	TypeFolder Type = "folder"
	TypeAlbum  Type = "album"
)

// FolderKey and AlbumKey build the container key namespaces. The two
// namespaces never collide by construction.
func FolderKey(id uint) string { return fmt.Sprintf("Folder%d", id) }
func AlbumKey(id uint) string  { return fmt.Sprintf("Album:%d", id) }

// ImageRef is the lightweight cross-reference from an image to its owning
// container; always derived, never independently mutated.
type ImageRef struct {
	ImageID       uint
	Date          time.Time
	ContainerKey  string
	ContainerType Type
	ContainerDate time.Time
}

// ImageContainer is the uniform view over a Folder or Album.
type ImageContainer struct {
	Key       string
	Name      string
	Date      time.Time
	Type      Type
	ImageRefs []ImageRef
}

// FromFolder projects a folder row (images preloaded with their exif data).
func FromFolder(f *models.Folder) ImageContainer {
	c := ImageContainer{
		Key:  FolderKey(f.ID),
		Name: filepath.Base(f.Path),
		Date: f.Date,
		Type: TypeFolder,
	}
	for i := range f.Images {
		c.ImageRefs = append(c.ImageRefs, refFor(&f.Images[i], c))
	}
	return c
}

// FromAlbum projects an album row together with its member images.
func FromAlbum(a *models.Album, images []models.Image) ImageContainer {
	c := ImageContainer{
		Key:  AlbumKey(a.ID),
		Name: a.Name,
		Date: a.Date,
		Type: TypeAlbum,
	}
	for i := range images {
		c.ImageRefs = append(c.ImageRefs, refFor(&images[i], c))
	}
	return c
}

// RefForFolderImage derives the ref a single image contributes to its folder.
func RefForFolderImage(img *models.Image, f *models.Folder) ImageRef {
	return ImageRef{
		ImageID:       img.ID,
		Date:          imageDate(img),
		ContainerKey:  FolderKey(f.ID),
		ContainerType: TypeFolder,
		ContainerDate: f.Date,
	}
}

func refFor(img *models.Image, c ImageContainer) ImageRef {
	return ImageRef{
		ImageID:       img.ID,
		Date:          imageDate(img),
		ContainerKey:  c.Key,
		ContainerType: c.Type,
		ContainerDate: c.Date,
	}
}

func imageDate(img *models.Image) time.Time {
	if img.ExifData != nil {
		return img.ExifData.DateTaken
	}
	return img.CreatedAt
}
