package services

import (
	"github.com/multyvac/vac/config"
	"github.com/multyvac/vac/helpers"
	"github.com/multyvac/vac/models"

	"github.com/go-errors/errors"
	uuid "github.com/satori/go.uuid"
	"gorm.io/gorm"
)

var ErrKeyNotFound = errors.New("api key not found")

type KeyService interface {
	ListKeys(uuid.UUID, []string) ([]models.ApiKey, error)
	GetKey(uuid.UUID, string) (models.ApiKey, error)
	CreateKey(uuid.UUID) (models.ApiKey, error)
	SetKeyActive(uuid.UUID, string, bool) (models.ApiKey, error)
}

type KeyServiceImpl struct {
	db     *gorm.DB
	config config.Config
}

func NewKeyService(database *gorm.DB, config config.Config) KeyService {
	return &KeyServiceImpl{
		db:     database,
		config: config,
	}
}

// ListKeys returns the account's keys, optionally narrowed to ids.
func (k *KeyServiceImpl) ListKeys(userID uuid.UUID, ids []string) ([]models.ApiKey, error) {
	var keys []models.ApiKey

	tx := k.db.Where("owner_id = ?", userID)
	if len(ids) > 0 {
		tx = tx.Where("id IN ?", ids)
	}
	res := tx.Order("created_at").Find(&keys)
	if res.Error != nil {
		return keys, res.Error
	}

	return keys, nil
}

func (k *KeyServiceImpl) GetKey(userID uuid.UUID, id string) (models.ApiKey, error) {
	var key models.ApiKey
	res := k.db.Where("owner_id = ? AND id = ?", userID, id).Find(&key)
	if res.Error != nil {
		return models.ApiKey{}, res.Error
	}

	if key.ID == "" {
		return models.ApiKey{}, ErrKeyNotFound
	}

	return key, nil
}

// CreateKey mints a new active credential pair for the account.
func (k *KeyServiceImpl) CreateKey(userID uuid.UUID) (models.ApiKey, error) {
	id, err := helpers.RandomHex(6)
	if err != nil {
		return models.ApiKey{}, err
	}
	secret, err := helpers.RandomHex(20)
	if err != nil {
		return models.ApiKey{}, err
	}

	key := models.ApiKey{
		ID:        "ak_" + id,
		OwnerID:   userID,
		SecretKey: secret,
		Active:    true,
	}
	res := k.db.Create(&key)

	return key, res.Error
}

func (k *KeyServiceImpl) SetKeyActive(userID uuid.UUID, id string, active bool) (models.ApiKey, error) {
	key, err := k.GetKey(userID, id)
	if err != nil {
		return models.ApiKey{}, err
	}

	res := k.db.Model(&key).Update("active", active)
	if res.Error != nil {
		return models.ApiKey{}, res.Error
	}
	key.Active = active

	return key, nil
}
