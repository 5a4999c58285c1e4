package services

import (
	"crypto/subtle"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/multyvac/vac/config"
	"github.com/multyvac/vac/helpers"
	"github.com/multyvac/vac/models"

	"github.com/go-errors/errors"
	"github.com/golang-jwt/jwt"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

// webhookTimestampSkew bounds how old or new a signed delivery may be.
const webhookTimestampSkew = 5 * time.Minute

type AuthService interface {
	Login(*models.Credentials) (string, int, error)
	Refresh(string) (string, int, error)
	ValidateAPIKey(id string, secret string) (models.User, error)
	ValidateWebCredentials(username string, password string) (models.User, error)
	ValidateWebhookSignature(webhookID string, msgID string, timestamp string, signature string, body []byte) (models.User, models.Webhook, error)
}

type AuthServiceImpl struct {
	db          *gorm.DB
	config      config.Config
	UserService UserService
}

func NewAuthService(database *gorm.DB, config config.Config, us UserService) AuthService {
	return &AuthServiceImpl{
		db:          database,
		config:      config,
		UserService: us,
	}
}

func (a *AuthServiceImpl) Login(credentials *models.Credentials) (string, int, error) {
	var user models.User
	var err error

	if credentials.Username == "root" {
		if credentials.Password != a.config.RootSecret {
			err := errors.New("password is incorrect")
			return "", -1, err
		}
		user, err = a.UserService.GetByUsernameAndProvider(credentials.Username, credentials.Provider)
		if err != nil {
			return "", -1, err
		}
	} else if credentials.Provider == "local" {
		user, err = a.UserService.GetByUsernameAndProvider(credentials.Username, credentials.Provider)
		if err != nil {
			return "", -1, err
		}
		err = bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(credentials.Password))
		if err != nil {
			log.Println(err)
			return "", -1, err
		}
	} else if a.config.LDAP.FQDN != "" && credentials.Provider == "active_directory" {
		err := helpers.BindAndSearch(a.config.LDAP, credentials.Username, credentials.Password)
		if err != nil {
			return "", -1, err
		}
		user, err = a.getOrCreateDirectoryUser(credentials.Username)
		if err != nil {
			return "", -1, err
		}
	} else {
		err := errors.New("provider does not exist")
		return "", -1, err
	}

	token, err := helpers.CreateJWTToken(&user, a.config.JWT)
	if err != nil {
		log.Println(err)
		return "", -1, err
	}

	return token, a.config.JWT.ExpirySeconds, nil
}

func (a *AuthServiceImpl) Refresh(tokenStr string) (string, int, error) {
	claims, err := helpers.ValidateJWTToken(tokenStr, a.config.JWT)
	if err != nil {
		return "", -1, err
	}

	expirationTime := time.Now().Add(time.Second * time.Duration(a.config.JWT.ExpirySeconds))

	claims.ExpiresAt = expirationTime.Unix()

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenStr, err = token.SignedString(a.config.JWT.Key)
	if err != nil {
		log.Println(err)
		return "", -1, err
	}

	return tokenStr, a.config.JWT.ExpirySeconds, nil
}

// ValidateAPIKey authenticates the id/secret pair clients send as basic
// auth. The owner of the key becomes the acting user.
func (a *AuthServiceImpl) ValidateAPIKey(id string, secret string) (models.User, error) {
	var key models.ApiKey

	res := a.db.Where("id = ?", id).Find(&key)
	if res.Error != nil {
		return models.User{}, res.Error
	}
	if key.ID == "" || subtle.ConstantTimeCompare([]byte(key.SecretKey), []byte(secret)) != 1 {
		return models.User{}, errors.New("invalid api key")
	}
	if !key.Active {
		return models.User{}, errors.New("api key is deactivated")
	}

	return a.UserService.GetUser(key.OwnerID.String())
}

// ValidateWebCredentials authenticates a username/password pair, used by
// the key listing endpoint before any api key exists on the machine.
func (a *AuthServiceImpl) ValidateWebCredentials(username string, password string) (models.User, error) {
	if username == "root" {
		if password != a.config.RootSecret {
			return models.User{}, errors.New("password is incorrect")
		}
		return a.UserService.GetByUsernameAndProvider("root", "local")
	}

	user, err := a.UserService.GetByUsernameAndProvider(username, "local")
	if err == nil {
		if bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(password)) != nil {
			return models.User{}, errors.New("password is incorrect")
		}
		return user, nil
	}

	if a.config.LDAP.FQDN != "" {
		if err := helpers.BindAndSearch(a.config.LDAP, username, password); err != nil {
			return models.User{}, err
		}
		return a.getOrCreateDirectoryUser(username)
	}

	return models.User{}, errors.New("user not found")
}

// ValidateWebhookSignature checks a signed delivery against the
// webhook's secret and returns the webhook with its owner. The signature
// covers msgID, timestamp and body joined with dots.
func (a *AuthServiceImpl) ValidateWebhookSignature(webhookID string, msgID string, timestamp string, signature string, body []byte) (models.User, models.Webhook, error) {
	var webhook models.Webhook

	res := a.db.Where("id = ?", webhookID).Find(&webhook)
	if res.Error != nil {
		return models.User{}, webhook, res.Error
	}
	if res.RowsAffected == 0 {
		return models.User{}, webhook, errors.Errorf("webhook %s not found, please check uuid", webhookID)
	}

	ts, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return models.User{}, webhook, errors.New("webhook-timestamp is not a unix timestamp")
	}
	if skew := time.Since(time.Unix(ts, 0)); skew > webhookTimestampSkew || skew < -webhookTimestampSkew {
		return models.User{}, webhook, errors.New("webhook-timestamp is outside of tolerance")
	}

	expected := helpers.GenerateHMAC(webhook.Secret, msgID+"."+timestamp+"."+string(body))

	// A delivery may carry several space-separated signatures while the
	// sender rotates secrets, each prefixed with a scheme version.
	for _, sig := range strings.Fields(signature) {
		sig = strings.TrimPrefix(sig, "v1,")
		if subtle.ConstantTimeCompare([]byte(sig), []byte(expected)) == 1 {
			owner, err := a.UserService.GetUser(webhook.Owner.String())
			if err != nil {
				return models.User{}, webhook, err
			}
			return owner, webhook, nil
		}
	}

	return models.User{}, webhook, errors.New("signature mismatch")
}

func (a *AuthServiceImpl) getOrCreateDirectoryUser(username string) (models.User, error) {
	_, err := a.UserService.CreateUser(models.User{
		Username: username,
		Provider: "active_directory",
	})
	if err != nil && !strings.Contains(err.Error(), "duplicate key value violates unique constraint") {
		log.Println(err.Error())
		return models.User{}, err
	}
	return a.UserService.GetByUsernameAndProvider(username, "active_directory")
}
