package models

import "time"

// RuleAction is the per-path watch policy stored on a FolderRule.
type RuleAction string

const (
	RuleAlways RuleAction = "always"
	RuleOnce   RuleAction = "once"
	RuleRemove RuleAction = "remove"
)

// FolderRule governs whether a directory subtree is watched and scanned.
// At most one rule exists per distinct path.
type FolderRule struct {
	ID        uint       `gorm:"primaryKey"`
	Path      string     `gorm:"size:1024;uniqueIndex"`
	Action    RuleAction `gorm:"size:16"`
	CreatedAt time.Time  `gorm:"autoCreateTime"`
	UpdatedAt time.Time  `gorm:"autoUpdateTime"`
}

// Folder is a watched directory that owns the images found inside it.
type Folder struct {
	ID        uint      `gorm:"primaryKey"`
	Path      string    `gorm:"size:1024;uniqueIndex"`
	Date      time.Time `gorm:"index"`
	Images    []Image   `gorm:"foreignKey:FolderID"`
	CreatedAt time.Time `gorm:"autoCreateTime"`
	UpdatedAt time.Time `gorm:"autoUpdateTime"`
}

// Image is one row per scanned on-disk file. It is owned by exactly one
// Folder and may belong to any number of Albums through AlbumImage.
type Image struct {
	ID          uint   `gorm:"primaryKey"`
	Path        string `gorm:"size:1024;uniqueIndex"`
	FolderID    uint   `gorm:"index"`
	ExifDataID  uint
	ExifData    *ExifData    `gorm:"foreignKey:ExifDataID"`
	AlbumImages []AlbumImage `gorm:"foreignKey:ImageID"`
	CreatedAt   time.Time    `gorm:"autoCreateTime"`
	UpdatedAt   time.Time    `gorm:"autoUpdateTime"`
}

// ExifData holds the metadata extracted from an image file. DateTaken falls
// back to the file modification time when the file carries no EXIF block.
type ExifData struct {
	ID          uint      `gorm:"primaryKey"`
	DateTaken   time.Time `gorm:"index"`
	CameraMake  string    `gorm:"size:128"`
	CameraModel string    `gorm:"size:128"`
	Width       int
	Height      int
	Latitude    float64
	Longitude   float64
	FileSize    int64
	ModifiedAt  time.Time
	CreatedAt   time.Time `gorm:"autoCreateTime"`
}

// Album is a user-created container. Membership is the explicit AlbumImage
// join, never derived from the filesystem.
type Album struct {
	ID          uint         `gorm:"primaryKey"`
	Name        string       `gorm:"size:255;uniqueIndex"`
	Date        time.Time    `gorm:"index"`
	AlbumImages []AlbumImage `gorm:"foreignKey:AlbumID"`
	CreatedAt   time.Time    `gorm:"autoCreateTime"`
	UpdatedAt   time.Time    `gorm:"autoUpdateTime"`
}

// AlbumImage links an image into an album.
type AlbumImage struct {
	AlbumID   uint `gorm:"primaryKey"`
	ImageID   uint `gorm:"primaryKey"`
	CreatedAt time.Time
}
