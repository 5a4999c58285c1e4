package config

import (
	"crypto/rand"
	"encoding/hex"
	"log"

	"github.com/multyvac/vac/models"

	"gorm.io/gorm"
)

func InitDB(db *gorm.DB) {
	err := db.AutoMigrate(
		&models.AuditLog{},
		&models.User{},
		&models.ApiKey{},
		&models.Job{},
		&models.Volume{},
		&models.Layer{},
		&models.Cluster{},
		&models.Webhook{},
	)
	if err != nil {
		log.Println("Error during Postgres AutoMigrate")
		log.Println(err)
	}

	var root = models.User{Username: "root", Provider: "local", Admin: true, Builtin: true}
	db.FirstOrCreate(&root, models.User{Username: "root", Provider: "local"})

	seedRootKey(db, root)

	// rules to prevent builtin deletion or update
	db.Exec("CREATE RULE builtin_del_users AS ON DELETE TO users WHERE builtin DO INSTEAD nothing;")
	db.Exec("CREATE RULE builtin_upd_users AS ON UPDATE TO users WHERE old.builtin DO INSTEAD nothing;")
}

// seedRootKey mints root's first api key so `vac setup` works against a
// fresh install. The secret is fetched through the key endpoint, not
// logged.
func seedRootKey(db *gorm.DB, root models.User) {
	var count int64
	if err := db.Model(&models.ApiKey{}).Where("owner_id = ?", root.ID).Count(&count).Error; err != nil || count > 0 {
		return
	}

	id, err := randomHex(6)
	if err != nil {
		log.Println("Error generating initial api key: " + err.Error())
		return
	}
	secret, err := randomHex(20)
	if err != nil {
		log.Println("Error generating initial api key: " + err.Error())
		return
	}

	key := models.ApiKey{ID: "ak_" + id, OwnerID: root.ID, SecretKey: secret, Active: true}
	if err := db.Create(&key).Error; err != nil {
		log.Println("Error creating initial api key: " + err.Error())
		return
	}
	log.Println("Created initial api key " + key.ID + " for root")
}

func randomHex(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
