// Package engine holds the reconciliation core: the operation service that
// turns scan output and rule changes into store mutations, and the manager
// that owns the live caches and the watcher lifecycle.
package engine

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"photokeep/internal/cache"
	"photokeep/internal/container"
	"photokeep/internal/exif"
	"photokeep/internal/logger"
	"photokeep/internal/models"
	"photokeep/internal/repo"
	"photokeep/internal/rules"
	"photokeep/internal/scanner"

	"golang.org/x/sync/errgroup"
)

// RefKey is the FolderImageRefCache key for an image id.
func RefKey(imageID uint) string {
	return strconv.FormatUint(uint64(imageID), 10)
}

// ScanResult reports what one reconciliation pass changed.
type ScanResult struct {
	Root                 string
	Containers           []container.ImageContainer
	Added                []container.ImageRef
	RemovedImageIDs      []uint
	RemovedContainerKeys []string
}

// DeleteResult reports the fallout of removing one image row.
type DeleteResult struct {
	ImageID         uint
	FolderContainer *container.ImageContainer
	AlbumIDs        []uint
}

// ResetChanges is the diff of containers and images affected by a candidate
// rule-set change. Transient, never persisted.
type ResetChanges struct {
	ContainersToAdd    []string // root paths a scan would create
	ContainersToRemove []string // folder container keys to delete
	FolderIDsToRemove  []uint
	ImagesToRemove     []uint
}

func (c *ResetChanges) Empty() bool {
	return len(c.ContainersToAdd) == 0 && len(c.ContainersToRemove) == 0 && len(c.ImagesToRemove) == 0
}

// ApplyResult couples the committed diff with the scans it triggered.
type ApplyResult struct {
	Changes *ResetChanges
	Scanned []*ScanResult
}

// Operations is the operation service. All structural mutations run under a
// single writer mutex so no two of them race on the same folder or image row.
type Operations struct {
	folders   *repo.FolderRepository
	images    *repo.ImageRepository
	albums    *repo.AlbumRepository
	ruleRepo  *repo.RuleRepository
	extractor *exif.Extractor
	workers   int

	mu sync.Mutex
}

func NewOperations(
	folders *repo.FolderRepository,
	images *repo.ImageRepository,
	albums *repo.AlbumRepository,
	ruleRepo *repo.RuleRepository,
	extractor *exif.Extractor,
	workers int,
) *Operations {
	if workers <= 0 {
		workers = 4
	}
	return &Operations{
		folders:   folders,
		images:    images,
		albums:    albums,
		ruleRepo:  ruleRepo,
		extractor: extractor,
		workers:   workers,
	}
}

// ScanFolder reconciles the directory tree at root against the store. New
// files become Image rows (with exif data, one transaction per batch); rows
// whose file is gone are deleted. When refs is non-nil the resulting ref
// deltas are pushed into it as they are committed.
func (o *Operations) ScanFolder(ctx context.Context, root string, refs *cache.Cache[container.ImageRef]) (*ScanResult, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.scanFolder(ctx, root, refs)
}

func (o *Operations) scanFolder(ctx context.Context, root string, refs *cache.Cache[container.ImageRef]) (*ScanResult, error) {
	root = rules.Normalize(root)
	result := &ScanResult{Root: root}

	files, err := scanner.ListImages(ctx, root)
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", root, err)
	}

	onDisk := make(map[string]struct{}, len(files))
	byDir := make(map[string][]string)
	for _, file := range files {
		file = filepath.Clean(file)
		onDisk[file] = struct{}{}
		dir := filepath.Dir(file)
		byDir[dir] = append(byDir[dir], file)
	}

	existing, err := o.folders.ListUnder(root)
	if err != nil {
		return nil, err
	}
	known := make(map[string]*models.Image)
	folderByDir := make(map[string]*models.Folder, len(existing))
	for i := range existing {
		folderByDir[existing[i].Path] = &existing[i]
		for j := range existing[i].Images {
			known[existing[i].Images[j].Path] = &existing[i].Images[j]
		}
	}

	// New files: extract metadata concurrently, insert as one batch.
	var newFiles []string
	for _, file := range files {
		if _, ok := known[file]; !ok {
			newFiles = append(newFiles, file)
		}
	}
	extracted := o.extractAll(ctx, newFiles)

	touched := make(map[string]struct{})
	var created []*models.Image
	for _, file := range newFiles {
		data, ok := extracted[file]
		if !ok {
			continue
		}
		dir := filepath.Dir(file)
		folder := folderByDir[dir]
		if folder == nil {
			folder, err = o.folders.Ensure(dir, dirDate(dir))
			if err != nil {
				return nil, err
			}
			folderByDir[dir] = folder
		}
		created = append(created, &models.Image{
			Path:     file,
			FolderID: folder.ID,
			ExifData: data,
		})
		touched[dir] = struct{}{}
	}
	if err := o.images.CreateBatch(created); err != nil {
		return nil, err
	}

	// Stale rows: the file is gone, or its whole directory is gone.
	for dir, folder := range folderByDir {
		if _, err := os.Stat(dir); os.IsNotExist(err) {
			for i := range folder.Images {
				result.RemovedImageIDs = append(result.RemovedImageIDs, folder.Images[i].ID)
			}
			if err := o.folders.DeleteTree(folder.ID); err != nil {
				return nil, err
			}
			result.RemovedContainerKeys = append(result.RemovedContainerKeys, container.FolderKey(folder.ID))
			delete(folderByDir, dir)
			continue
		}
		for i := range folder.Images {
			image := &folder.Images[i]
			if _, ok := onDisk[image.Path]; ok {
				continue
			}
			if err := o.images.DeleteWithLinks(image); err != nil {
				return nil, err
			}
			result.RemovedImageIDs = append(result.RemovedImageIDs, image.ID)
			touched[dir] = struct{}{}
		}
	}

	// Project every touched folder and collect the new refs.
	for dir := range touched {
		folder, err := o.folders.GetByPath(dir)
		if err != nil {
			return nil, err
		}
		if folder == nil {
			continue
		}
		result.Containers = append(result.Containers, container.FromFolder(folder))
	}
	for _, image := range created {
		folder := folderByDir[filepath.Dir(image.Path)]
		result.Added = append(result.Added, container.RefForFolderImage(image, folder))
	}

	if refs != nil {
		for _, ref := range result.Added {
			refs.Set(RefKey(ref.ImageID), ref)
		}
		for _, id := range result.RemovedImageIDs {
			refs.Remove(RefKey(id))
		}
	}
	return result, nil
}

// extractAll runs metadata extraction on a worker pool. Per-file failures are
// logged and the file skipped; they never abort the scan.
func (o *Operations) extractAll(ctx context.Context, files []string) map[string]*models.ExifData {
	out := make(map[string]*models.ExifData, len(files))
	if len(files) == 0 {
		return out
	}
	var mu sync.Mutex
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(o.workers)
	for _, file := range files {
		file := file
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			data, err := o.extractor.Extract(file)
			if err != nil {
				logger.Warnf("Skipping unreadable image %s: %v", file, err)
				return nil
			}
			mu.Lock()
			out[file] = data
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return out
}

// AddImage inserts a single discovered file.
func (o *Operations) AddImage(ctx context.Context, path string) (*ScanResult, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.addImage(ctx, path)
}

func (o *Operations) addImage(_ context.Context, path string) (*ScanResult, error) {
	path = filepath.Clean(path)
	data, err := o.extractor.Extract(path)
	if err != nil {
		return nil, err
	}
	dir := filepath.Dir(path)
	folder, err := o.folders.Ensure(dir, dirDate(dir))
	if err != nil {
		return nil, err
	}
	image := &models.Image{Path: path, FolderID: folder.ID, ExifData: data}
	if err := o.images.CreateBatch([]*models.Image{image}); err != nil {
		return nil, err
	}

	updated, err := o.folders.GetByID(folder.ID)
	if err != nil {
		return nil, err
	}
	return &ScanResult{
		Root:       dir,
		Containers: []container.ImageContainer{container.FromFolder(updated)},
		Added:      []container.ImageRef{container.RefForFolderImage(image, folder)},
	}, nil
}

// UpdateImage re-extracts metadata for an existing row.
func (o *Operations) UpdateImage(ctx context.Context, path string) (*ScanResult, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.updateImage(ctx, path)
}

func (o *Operations) updateImage(_ context.Context, path string) (*ScanResult, error) {
	path = filepath.Clean(path)
	image, err := o.images.GetByPath(path)
	if err != nil {
		return nil, err
	}
	if image == nil {
		return nil, ErrImageNotFound
	}
	data, err := o.extractor.Extract(path)
	if err != nil {
		return nil, err
	}
	if err := o.images.UpdateExif(image, data); err != nil {
		return nil, err
	}
	folder, err := o.folders.GetByID(image.FolderID)
	if err != nil {
		return nil, err
	}
	result := &ScanResult{Root: filepath.Dir(path)}
	if folder != nil {
		result.Containers = []container.ImageContainer{container.FromFolder(folder)}
		result.Added = []container.ImageRef{container.RefForFolderImage(image, folder)}
	}
	return result, nil
}

// AddOrUpdateImage dispatches on whether a row for path already exists.
func (o *Operations) AddOrUpdateImage(ctx context.Context, path string) (*ScanResult, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	image, err := o.images.GetByPath(filepath.Clean(path))
	if err != nil {
		return nil, err
	}
	if image == nil {
		return o.addImage(ctx, path)
	}
	return o.updateImage(ctx, path)
}

// DeleteImage removes the row for path. Album membership rows are removed
// with it; the albums and the owning folder stay. A path with no row is a
// no-op returning a nil result.
func (o *Operations) DeleteImage(path string) (*DeleteResult, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	path = filepath.Clean(path)
	image, err := o.images.GetByPath(path)
	if err != nil {
		return nil, err
	}
	if image == nil {
		return nil, nil
	}
	albumIDs, err := o.images.AlbumsFor(image.ID)
	if err != nil {
		return nil, err
	}
	if err := o.images.DeleteWithLinks(image); err != nil {
		return nil, err
	}

	result := &DeleteResult{ImageID: image.ID, AlbumIDs: albumIDs}
	folder, err := o.folders.GetByID(image.FolderID)
	if err != nil {
		return nil, err
	}
	if folder != nil {
		c := container.FromFolder(folder)
		result.FolderContainer = &c
	}
	return result, nil
}

// ScanImage re-extracts metadata for a single path, deduplicating concurrent
// requests so one in-flight extraction serves every caller. The store row,
// when present, is refreshed with the result.
func (o *Operations) ScanImage(path string) (*models.ExifData, error) {
	data, err := o.extractor.Extract(path)
	if err != nil {
		return nil, err
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	image, err := o.images.GetByPath(filepath.Clean(path))
	if err != nil {
		return nil, err
	}
	if image != nil {
		if err := o.images.UpdateExif(image, data); err != nil {
			return nil, err
		}
	}
	return data, nil
}

// GetAllImageContainers projects every folder and album. Read-only.
func (o *Operations) GetAllImageContainers() ([]container.ImageContainer, error) {
	folders, err := o.folders.GetAll()
	if err != nil {
		return nil, err
	}
	var out []container.ImageContainer
	for i := range folders {
		out = append(out, container.FromFolder(&folders[i]))
	}

	albums, err := o.albums.GetAll()
	if err != nil {
		return nil, err
	}
	for i := range albums {
		images, err := o.albums.ImagesFor(albums[i].ID)
		if err != nil {
			return nil, err
		}
		out = append(out, container.FromAlbum(&albums[i], images))
	}
	return out, nil
}

// GetFolderImageContainer projects one folder. Nil when absent.
func (o *Operations) GetFolderImageContainer(id uint) (*container.ImageContainer, error) {
	folder, err := o.folders.GetByID(id)
	if err != nil || folder == nil {
		return nil, err
	}
	c := container.FromFolder(folder)
	return &c, nil
}

// GetAlbumImageContainer projects one album. Nil when absent.
func (o *Operations) GetAlbumImageContainer(id uint) (*container.ImageContainer, error) {
	album, err := o.albums.GetByID(id)
	if err != nil || album == nil {
		return nil, err
	}
	images, err := o.albums.ImagesFor(id)
	if err != nil {
		return nil, err
	}
	c := container.FromAlbum(album, images)
	return &c, nil
}

// CreateAlbum inserts an empty album.
func (o *Operations) CreateAlbum(name string) (*container.ImageContainer, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, ErrEmptyAlbumName
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	album, err := o.albums.Create(name, time.Now())
	if err != nil {
		return nil, err
	}
	c := container.FromAlbum(album, nil)
	return &c, nil
}

// AddImagesToAlbum links images into an album. Adding an existing member is
// a no-op; unknown ids are skipped and reported.
func (o *Operations) AddImagesToAlbum(albumID uint, imageIDs []uint) (*container.ImageContainer, []uint, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	album, err := o.albums.GetByID(albumID)
	if err != nil {
		return nil, nil, err
	}
	if album == nil {
		return nil, nil, ErrAlbumNotFound
	}
	skipped, err := o.albums.AddImages(albumID, imageIDs)
	if err != nil {
		return nil, nil, err
	}
	images, err := o.albums.ImagesFor(albumID)
	if err != nil {
		return nil, nil, err
	}
	c := container.FromAlbum(album, images)
	return &c, skipped, nil
}

// DeleteAlbum removes the album and its membership rows only.
func (o *Operations) DeleteAlbum(albumID uint) (string, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	album, err := o.albums.GetByID(albumID)
	if err != nil {
		return "", err
	}
	if album == nil {
		return "", ErrAlbumNotFound
	}
	if err := o.albums.Delete(albumID); err != nil {
		return "", err
	}
	return container.AlbumKey(albumID), nil
}

// PreviewResetRulesChanges computes the diff a candidate rule set would
// cause, without mutating store or caches.
func (o *Operations) PreviewResetRulesChanges(candidate []models.FolderRule) (*ResetChanges, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.previewLocked(candidate)
}

func (o *Operations) previewLocked(candidate []models.FolderRule) (*ResetChanges, error) {
	if err := validateRules(candidate); err != nil {
		return nil, err
	}
	current, err := o.ruleRepo.All()
	if err != nil {
		return nil, err
	}

	changes := &ResetChanges{}

	// Paths newly covered by Always/Once become scan roots.
	for _, root := range rules.ScanRoots(candidate) {
		action, covered := rules.EffectiveAction(current, root)
		if !covered || action == models.RuleRemove {
			changes.ContainersToAdd = append(changes.ContainersToAdd, root)
		}
	}

	// Stored folders now covered by Remove, or by nothing, are evicted.
	folders, err := o.folders.GetAll()
	if err != nil {
		return nil, err
	}
	for i := range folders {
		action, covered := rules.EffectiveAction(candidate, folders[i].Path)
		if covered && action != models.RuleRemove {
			continue
		}
		changes.ContainersToRemove = append(changes.ContainersToRemove, container.FolderKey(folders[i].ID))
		changes.FolderIDsToRemove = append(changes.FolderIDsToRemove, folders[i].ID)
		for j := range folders[i].Images {
			changes.ImagesToRemove = append(changes.ImagesToRemove, folders[i].Images[j].ID)
		}
	}
	return changes, nil
}

// ApplyRuleChanges persists the candidate rule set and performs the adds and
// removes its preview computed. Serialized with every other structural
// mutation: a concurrent call observes the committed result, never a
// half-applied state.
func (o *Operations) ApplyRuleChanges(ctx context.Context, candidate []models.FolderRule, refs *cache.Cache[container.ImageRef]) (*ApplyResult, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	changes, err := o.previewLocked(candidate)
	if err != nil {
		return nil, err
	}
	if err := o.ruleRepo.ReplaceAll(candidate); err != nil {
		return nil, err
	}

	for _, folderID := range changes.FolderIDsToRemove {
		if err := o.folders.DeleteTree(folderID); err != nil {
			return nil, err
		}
	}
	if refs != nil {
		for _, id := range changes.ImagesToRemove {
			refs.Remove(RefKey(id))
		}
	}

	result := &ApplyResult{Changes: changes}
	for _, root := range changes.ContainersToAdd {
		scanRes, err := o.scanFolder(ctx, root, refs)
		if err != nil {
			logger.Errorf("Scan of new rule root %s failed: %v", root, err)
			continue
		}
		result.Scanned = append(result.Scanned, scanRes)
	}
	return result, nil
}

func validateRules(candidate []models.FolderRule) error {
	seen := make(map[string]struct{}, len(candidate))
	for i := range candidate {
		path := strings.ToLower(rules.Normalize(candidate[i].Path))
		if _, dup := seen[path]; dup {
			return repo.ErrDuplicateRule
		}
		seen[path] = struct{}{}
	}
	return nil
}

func dirDate(dir string) time.Time {
	if info, err := os.Stat(dir); err == nil {
		return info.ModTime()
	}
	return time.Now()
}
