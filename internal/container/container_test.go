package container

import (
	"testing"
	"time"

	"photokeep/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeyNamespacesNeverCollide(t *testing.T) {
	assert.Equal(t, "Folder7", FolderKey(7))
	assert.Equal(t, "Album:7", AlbumKey(7))
	assert.NotEqual(t, FolderKey(7), AlbumKey(7))
}

func TestFromFolder(t *testing.T) {
	taken := time.Date(2020, 3, 1, 10, 0, 0, 0, time.UTC)
	folder := &models.Folder{
		ID:   3,
		Path: "/photos/vacation",
		Date: time.Date(2020, 3, 1, 0, 0, 0, 0, time.UTC),
		Images: []models.Image{
			{ID: 11, Path: "/photos/vacation/a.jpg", ExifData: &models.ExifData{DateTaken: taken}},
			{ID: 12, Path: "/photos/vacation/b.jpg"},
		},
	}

	c := FromFolder(folder)
	assert.Equal(t, "Folder3", c.Key)
	assert.Equal(t, "vacation", c.Name)
	assert.Equal(t, TypeFolder, c.Type)
	require.Len(t, c.ImageRefs, 2)

	ref := c.ImageRefs[0]
	assert.Equal(t, uint(11), ref.ImageID)
	assert.Equal(t, taken, ref.Date)
	assert.Equal(t, "Folder3", ref.ContainerKey)
	assert.Equal(t, TypeFolder, ref.ContainerType)
	assert.Equal(t, folder.Date, ref.ContainerDate)
}

func TestFromFolderWithoutExifFallsBackToRowCreation(t *testing.T) {
	created := time.Date(2022, 7, 4, 9, 0, 0, 0, time.UTC)
	folder := &models.Folder{
		ID:     1,
		Path:   "/photos",
		Images: []models.Image{{ID: 5, CreatedAt: created}},
	}

	c := FromFolder(folder)
	require.Len(t, c.ImageRefs, 1)
	assert.Equal(t, created, c.ImageRefs[0].Date)
}

func TestFromAlbum(t *testing.T) {
	album := &models.Album{
		ID:   9,
		Name: "Best of 2021",
		Date: time.Date(2021, 12, 31, 0, 0, 0, 0, time.UTC),
	}
	images := []models.Image{
		{ID: 21, ExifData: &models.ExifData{DateTaken: time.Date(2021, 5, 1, 0, 0, 0, 0, time.UTC)}},
	}

	c := FromAlbum(album, images)
	assert.Equal(t, "Album:9", c.Key)
	assert.Equal(t, "Best of 2021", c.Name)
	assert.Equal(t, TypeAlbum, c.Type)
	require.Len(t, c.ImageRefs, 1)
	assert.Equal(t, "Album:9", c.ImageRefs[0].ContainerKey)
	assert.Equal(t, TypeAlbum, c.ImageRefs[0].ContainerType)
}

func TestFromAlbumEmpty(t *testing.T) {
	c := FromAlbum(&models.Album{ID: 2, Name: "empty"}, nil)
	assert.Empty(t, c.ImageRefs)
}

func TestRefForFolderImage(t *testing.T) {
	folder := &models.Folder{ID: 4, Path: "/photos", Date: time.Now()}
	img := &models.Image{ID: 8, FolderID: 4, CreatedAt: time.Now()}

	ref := RefForFolderImage(img, folder)
	assert.Equal(t, uint(8), ref.ImageID)
	assert.Equal(t, "Folder4", ref.ContainerKey)
	assert.Equal(t, folder.Date, ref.ContainerDate)
}
