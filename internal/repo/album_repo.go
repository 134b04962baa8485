package repo

import (
	"errors"
	"time"

	"photokeep/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type AlbumRepository struct {
	db *gorm.DB
}

func NewAlbumRepository(db *gorm.DB) *AlbumRepository {
	return &AlbumRepository{db: db}
}

func (r *AlbumRepository) Create(name string, date time.Time) (*models.Album, error) {
	album := models.Album{Name: name, Date: date}
	if err := r.db.Create(&album).Error; err != nil {
		return nil, err
	}
	return &album, nil
}

func (r *AlbumRepository) GetByID(id uint) (*models.Album, error) {
	var album models.Album
	err := r.db.Preload("AlbumImages").First(&album, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &album, nil
}

func (r *AlbumRepository) GetAll() ([]models.Album, error) {
	var albums []models.Album
	err := r.db.Preload("AlbumImages").Order("name ASC").Find(&albums).Error
	return albums, err
}

// ImagesFor loads the member images of an album with their exif data.
func (r *AlbumRepository) ImagesFor(albumID uint) ([]models.Image, error) {
	var images []models.Image
	err := r.db.
		Preload("ExifData").
		Joins("JOIN album_images ai ON ai.image_id = images.id").
		Where("ai.album_id = ?", albumID).
		Order("images.path ASC").
		Find(&images).Error
	return images, err
}

// AddImages links the given image ids into the album. Already-member ids are
// no-ops; ids with no image row are skipped and returned.
func (r *AlbumRepository) AddImages(albumID uint, imageIDs []uint) (skipped []uint, err error) {
	var known []models.Image
	if err := r.db.Select("id").Where("id IN ?", imageIDs).Find(&known).Error; err != nil {
		return nil, err
	}
	knownSet := make(map[uint]struct{}, len(known))
	for _, img := range known {
		knownSet[img.ID] = struct{}{}
	}

	links := make([]models.AlbumImage, 0, len(imageIDs))
	for _, id := range imageIDs {
		if _, ok := knownSet[id]; !ok {
			skipped = append(skipped, id)
			continue
		}
		links = append(links, models.AlbumImage{AlbumID: albumID, ImageID: id})
	}
	if len(links) == 0 {
		return skipped, nil
	}

	err = r.db.Clauses(clause.OnConflict{DoNothing: true}).Create(&links).Error
	if err != nil {
		return nil, err
	}
	return skipped, nil
}

// Delete removes the album and its membership rows; image and folder rows
// are never touched here.
func (r *AlbumRepository) Delete(albumID uint) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("album_id = ?", albumID).Delete(&models.AlbumImage{}).Error; err != nil {
			return err
		}
		return tx.Delete(&models.Album{}, albumID).Error
	})
}
