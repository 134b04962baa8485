package repo

import (
	"errors"
	"path/filepath"
	"strings"
	"time"

	"photokeep/internal/models"

	"gorm.io/gorm"
)

type FolderRepository struct {
	db *gorm.DB
}

func NewFolderRepository(db *gorm.DB) *FolderRepository {
	return &FolderRepository{db: db}
}

func (r *FolderRepository) GetByID(id uint) (*models.Folder, error) {
	var folder models.Folder
	err := r.db.
		Preload("Images").
		Preload("Images.ExifData").
		First(&folder, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &folder, nil
}

func (r *FolderRepository) GetByPath(path string) (*models.Folder, error) {
	var folder models.Folder
	err := r.db.
		Preload("Images").
		Preload("Images.ExifData").
		Where("path = ?", path).
		First(&folder).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &folder, nil
}

func (r *FolderRepository) GetAll() ([]models.Folder, error) {
	var folders []models.Folder
	err := r.db.
		Preload("Images").
		Preload("Images.ExifData").
		Order("path ASC").
		Find(&folders).Error
	return folders, err
}

// ListUnder returns folders whose path equals prefix or sits below it.
// Containment stops at a path separator: /photos never pulls in /photos2,
// since a scan of one root must not touch a sibling's rows.
func (r *FolderRepository) ListUnder(prefix string) ([]models.Folder, error) {
	all, err := r.GetAll()
	if err != nil {
		return nil, err
	}
	var out []models.Folder
	lower := strings.ToLower(prefix)
	sub := lower + string(filepath.Separator)
	for i := range all {
		path := strings.ToLower(all[i].Path)
		if path == lower || strings.HasPrefix(path, sub) {
			out = append(out, all[i])
		}
	}
	return out, nil
}

// Ensure returns the folder row for path, creating it when absent.
func (r *FolderRepository) Ensure(path string, date time.Time) (*models.Folder, error) {
	folder := models.Folder{Path: path, Date: date}
	err := r.db.Where("path = ?", path).FirstOrCreate(&folder).Error
	if err != nil {
		return nil, err
	}
	return &folder, nil
}

// DeleteTree removes a folder, its images and everything hanging off them
// (exif rows, album membership) in one transaction.
func (r *FolderRepository) DeleteTree(folderID uint) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		var images []models.Image
		if err := tx.Where("folder_id = ?", folderID).Find(&images).Error; err != nil {
			return err
		}
		for i := range images {
			if err := deleteImageTx(tx, &images[i]); err != nil {
				return err
			}
		}
		return tx.Delete(&models.Folder{}, folderID).Error
	})
}
