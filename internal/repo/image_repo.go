package repo

import (
	"errors"

	"photokeep/internal/models"

	"gorm.io/gorm"
)

type ImageRepository struct {
	db *gorm.DB
}

func NewImageRepository(db *gorm.DB) *ImageRepository {
	return &ImageRepository{db: db}
}

func (r *ImageRepository) GetByPath(path string) (*models.Image, error) {
	var image models.Image
	err := r.db.
		Preload("ExifData").
		Where("path = ?", path).
		First(&image).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &image, nil
}

func (r *ImageRepository) GetByIDs(ids []uint) ([]models.Image, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var images []models.Image
	err := r.db.
		Preload("ExifData").
		Where("id IN ?", ids).
		Find(&images).Error
	return images, err
}

func (r *ImageRepository) ListByFolder(folderID uint) ([]models.Image, error) {
	var images []models.Image
	err := r.db.
		Preload("ExifData").
		Where("folder_id = ?", folderID).
		Order("path ASC").
		Find(&images).Error
	return images, err
}

// CreateBatch inserts a batch of discovered images, each with its exif row,
// in one transaction. An image is never committed without its exif data.
func (r *ImageRepository) CreateBatch(images []*models.Image) error {
	if len(images) == 0 {
		return nil
	}
	return r.db.Transaction(func(tx *gorm.DB) error {
		for _, image := range images {
			if err := tx.Create(image).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

// UpdateExif replaces the exif row contents for an existing image.
func (r *ImageRepository) UpdateExif(image *models.Image, data *models.ExifData) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		data.ID = image.ExifDataID
		if err := tx.Save(data).Error; err != nil {
			return err
		}
		image.ExifData = data
		return tx.Model(image).Update("updated_at", gorm.Expr("CURRENT_TIMESTAMP")).Error
	})
}

// DeleteWithLinks removes the image row, its exif data and any album
// membership rows. Albums themselves are left untouched.
func (r *ImageRepository) DeleteWithLinks(image *models.Image) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		return deleteImageTx(tx, image)
	})
}

// AlbumsFor returns the ids of albums holding the image.
func (r *ImageRepository) AlbumsFor(imageID uint) ([]uint, error) {
	var links []models.AlbumImage
	if err := r.db.Where("image_id = ?", imageID).Find(&links).Error; err != nil {
		return nil, err
	}
	ids := make([]uint, 0, len(links))
	for _, link := range links {
		ids = append(ids, link.AlbumID)
	}
	return ids, nil
}

func deleteImageTx(tx *gorm.DB, image *models.Image) error {
	if err := tx.Where("image_id = ?", image.ID).Delete(&models.AlbumImage{}).Error; err != nil {
		return err
	}
	if image.ExifDataID != 0 {
		if err := tx.Delete(&models.ExifData{}, image.ExifDataID).Error; err != nil {
			return err
		}
	}
	return tx.Delete(&models.Image{}, image.ID).Error
}
