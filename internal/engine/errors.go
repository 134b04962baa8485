package engine

import "errors"

var (
	// ErrEmptyAlbumName rejects album creation with a blank name.
	ErrEmptyAlbumName = errors.New("album name is empty")
	// ErrAlbumNotFound reports an operation against a missing album id.
	ErrAlbumNotFound = errors.New("album not found")
	// ErrImageNotFound reports an update against a path with no image row.
	ErrImageNotFound = errors.New("image not found")
)
