package services

import (
	"io"
	"io/fs"
	"path/filepath"
	"strings"

	"github.com/multyvac/vac/config"
	"github.com/multyvac/vac/models"

	"github.com/go-errors/errors"
	uuid "github.com/satori/go.uuid"
	"gorm.io/gorm"
)

var ErrVolumeNotFound = errors.New("volume not found")

type VolumeService interface {
	ListVolumes(uuid.UUID, []string) ([]models.Volume, error)
	GetVolume(uuid.UUID, string) (models.Volume, error)
	CreateVolume(uuid.UUID, models.Volume) (models.Volume, error)
	DeleteVolume(uuid.UUID, string) error
	Mkdir(uuid.UUID, string, string) error
	Ls(uuid.UUID, string, string) ([]models.VolumeFile, error)
	Rm(uuid.UUID, string, string) error
	PutFile(uuid.UUID, string, string, fs.FileMode, io.Reader) error
	GetFiles(uuid.UUID, string, []string) ([]models.VolumeFile, error)
}

type VolumeServiceImpl struct {
	db     *gorm.DB
	config config.Config
}

func NewVolumeService(database *gorm.DB, config config.Config) VolumeService {
	return &VolumeServiceImpl{
		db:     database,
		config: config,
	}
}

func (v *VolumeServiceImpl) store(name string) treeStore {
	return treeStore{root: filepath.Join(v.config.DataDir, "volumes", name)}
}

func (v *VolumeServiceImpl) ListVolumes(userID uuid.UUID, names []string) ([]models.Volume, error) {
	var volumes []models.Volume

	tx := v.db.Where("owner_id = ?", userID)
	if len(names) > 0 {
		tx = tx.Where("name IN ?", names)
	}
	res := tx.Order("name").Find(&volumes)
	if res.Error != nil {
		return volumes, res.Error
	}

	return volumes, nil
}

func (v *VolumeServiceImpl) GetVolume(userID uuid.UUID, name string) (models.Volume, error) {
	var volume models.Volume
	res := v.db.Where("owner_id = ? AND name = ?", userID, name).Find(&volume)
	if res.Error != nil {
		return models.Volume{}, res.Error
	}

	if volume.Name == "" {
		return models.Volume{}, ErrVolumeNotFound
	}

	return volume, nil
}

func (v *VolumeServiceImpl) CreateVolume(userID uuid.UUID, volume models.Volume) (models.Volume, error) {
	if err := validateTreeName(volume.Name); err != nil {
		return models.Volume{}, err
	}
	if !strings.HasPrefix(volume.MountPath, "/") {
		return models.Volume{}, errors.New("mount_path must be absolute")
	}
	if volume.MountType == "" {
		volume.MountType = "bind"
	}
	if volume.MountType != "bind" {
		return models.Volume{}, errors.Errorf("unsupported mount type %q", volume.MountType)
	}

	var count int64
	if err := v.db.Model(&models.Volume{}).Where("name = ?", volume.Name).Count(&count).Error; err != nil {
		return models.Volume{}, err
	}
	if count > 0 {
		return models.Volume{}, errors.Errorf("volume name already exists: %q", volume.Name)
	}

	volume.OwnerID = userID
	volume.Size = 0
	if err := v.store(volume.Name).init(); err != nil {
		return models.Volume{}, err
	}
	res := v.db.Create(&volume)

	return volume, res.Error
}

func (v *VolumeServiceImpl) DeleteVolume(userID uuid.UUID, name string) error {
	volume, err := v.GetVolume(userID, name)
	if err != nil {
		return err
	}

	if err := v.store(volume.Name).destroy(); err != nil {
		return err
	}
	return v.db.Unscoped().Delete(&volume).Error
}

func (v *VolumeServiceImpl) Mkdir(userID uuid.UUID, name string, path string) error {
	volume, err := v.GetVolume(userID, name)
	if err != nil {
		return err
	}
	return v.store(volume.Name).mkdir(path)
}

func (v *VolumeServiceImpl) Ls(userID uuid.UUID, name string, path string) ([]models.VolumeFile, error) {
	volume, err := v.GetVolume(userID, name)
	if err != nil {
		return nil, err
	}
	return v.store(volume.Name).ls(path)
}

func (v *VolumeServiceImpl) Rm(userID uuid.UUID, name string, path string) error {
	volume, err := v.GetVolume(userID, name)
	if err != nil {
		return err
	}

	store := v.store(volume.Name)
	if err := store.rm(path); err != nil {
		return err
	}
	return v.updateSize(&volume, store)
}

func (v *VolumeServiceImpl) PutFile(userID uuid.UUID, name string, path string, mode fs.FileMode, contents io.Reader) error {
	volume, err := v.GetVolume(userID, name)
	if err != nil {
		return err
	}

	store := v.store(volume.Name)
	if err := store.put(path, mode, contents); err != nil {
		return err
	}
	return v.updateSize(&volume, store)
}

func (v *VolumeServiceImpl) GetFiles(userID uuid.UUID, name string, paths []string) ([]models.VolumeFile, error) {
	volume, err := v.GetVolume(userID, name)
	if err != nil {
		return nil, err
	}
	if len(paths) == 0 {
		return nil, errors.New("no paths requested")
	}
	return v.store(volume.Name).get(paths)
}

func (v *VolumeServiceImpl) updateSize(volume *models.Volume, store treeStore) error {
	return v.db.Model(volume).Update("size", store.size()).Error
}
