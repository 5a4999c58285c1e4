package services

import (
	"io"
	"io/fs"
	"path/filepath"

	"github.com/multyvac/vac/config"
	"github.com/multyvac/vac/models"

	"github.com/go-errors/errors"
	uuid "github.com/satori/go.uuid"
	"gorm.io/gorm"
)

var ErrLayerNotFound = errors.New("layer not found")

// LayerService mirrors the volume surface for layers. Layers have no
// mount path: the runner overlays their top-level entries onto the job
// workspace.
type LayerService interface {
	ListLayers(uuid.UUID, []string) ([]models.Layer, error)
	GetLayer(uuid.UUID, string) (models.Layer, error)
	CreateLayer(uuid.UUID, models.Layer) (models.Layer, error)
	DeleteLayer(uuid.UUID, string) error
	Mkdir(uuid.UUID, string, string) error
	Ls(uuid.UUID, string, string) ([]models.VolumeFile, error)
	Rm(uuid.UUID, string, string) error
	PutFile(uuid.UUID, string, string, fs.FileMode, io.Reader) error
	GetFiles(uuid.UUID, string, []string) ([]models.VolumeFile, error)
}

type LayerServiceImpl struct {
	db     *gorm.DB
	config config.Config
}

func NewLayerService(database *gorm.DB, config config.Config) LayerService {
	return &LayerServiceImpl{
		db:     database,
		config: config,
	}
}

func (l *LayerServiceImpl) store(name string) treeStore {
	return treeStore{root: filepath.Join(l.config.DataDir, "layers", name)}
}

func (l *LayerServiceImpl) ListLayers(userID uuid.UUID, names []string) ([]models.Layer, error) {
	var layers []models.Layer

	tx := l.db.Where("owner_id = ?", userID)
	if len(names) > 0 {
		tx = tx.Where("name IN ?", names)
	}
	res := tx.Order("name").Find(&layers)
	if res.Error != nil {
		return layers, res.Error
	}

	return layers, nil
}

func (l *LayerServiceImpl) GetLayer(userID uuid.UUID, name string) (models.Layer, error) {
	var layer models.Layer
	res := l.db.Where("owner_id = ? AND name = ?", userID, name).Find(&layer)
	if res.Error != nil {
		return models.Layer{}, res.Error
	}

	if layer.Name == "" {
		return models.Layer{}, ErrLayerNotFound
	}

	return layer, nil
}

func (l *LayerServiceImpl) CreateLayer(userID uuid.UUID, layer models.Layer) (models.Layer, error) {
	if err := validateTreeName(layer.Name); err != nil {
		return models.Layer{}, err
	}

	var count int64
	if err := l.db.Model(&models.Layer{}).Where("name = ?", layer.Name).Count(&count).Error; err != nil {
		return models.Layer{}, err
	}
	if count > 0 {
		return models.Layer{}, errors.Errorf("layer name already exists: %q", layer.Name)
	}

	layer.OwnerID = userID
	layer.Size = 0
	if err := l.store(layer.Name).init(); err != nil {
		return models.Layer{}, err
	}
	res := l.db.Create(&layer)

	return layer, res.Error
}

func (l *LayerServiceImpl) DeleteLayer(userID uuid.UUID, name string) error {
	layer, err := l.GetLayer(userID, name)
	if err != nil {
		return err
	}

	if err := l.store(layer.Name).destroy(); err != nil {
		return err
	}
	return l.db.Unscoped().Delete(&layer).Error
}

func (l *LayerServiceImpl) Mkdir(userID uuid.UUID, name string, path string) error {
	layer, err := l.GetLayer(userID, name)
	if err != nil {
		return err
	}
	return l.store(layer.Name).mkdir(path)
}

func (l *LayerServiceImpl) Ls(userID uuid.UUID, name string, path string) ([]models.VolumeFile, error) {
	layer, err := l.GetLayer(userID, name)
	if err != nil {
		return nil, err
	}
	return l.store(layer.Name).ls(path)
}

func (l *LayerServiceImpl) Rm(userID uuid.UUID, name string, path string) error {
	layer, err := l.GetLayer(userID, name)
	if err != nil {
		return err
	}

	store := l.store(layer.Name)
	if err := store.rm(path); err != nil {
		return err
	}
	return l.updateSize(&layer, store)
}

func (l *LayerServiceImpl) PutFile(userID uuid.UUID, name string, path string, mode fs.FileMode, contents io.Reader) error {
	layer, err := l.GetLayer(userID, name)
	if err != nil {
		return err
	}

	store := l.store(layer.Name)
	if err := store.put(path, mode, contents); err != nil {
		return err
	}
	return l.updateSize(&layer, store)
}

func (l *LayerServiceImpl) GetFiles(userID uuid.UUID, name string, paths []string) ([]models.VolumeFile, error) {
	layer, err := l.GetLayer(userID, name)
	if err != nil {
		return nil, err
	}
	if len(paths) == 0 {
		return nil, errors.New("no paths requested")
	}
	return l.store(layer.Name).get(paths)
}

func (l *LayerServiceImpl) updateSize(layer *models.Layer, store treeStore) error {
	return l.db.Model(layer).Update("size", store.size()).Error
}
