package helpers

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"log"
	"time"

	"github.com/multyvac/vac/config"
	"github.com/multyvac/vac/models"

	"github.com/golang-jwt/jwt"
)

func CreateJWTToken(user *models.User, jwtConf config.JWTConfig) (string, error) {
	expirationTime := time.Now().Add(time.Second * time.Duration(jwtConf.ExpirySeconds))

	claims := &models.Claims{
		Username: user.Username,
		UserID:   user.ID,
		Provider: user.Provider,
		Admin:    user.Admin,
		StandardClaims: jwt.StandardClaims{
			ExpiresAt: expirationTime.Unix(),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString(jwtConf.Key)
	if err != nil {
		log.Println(err)
		return "", err
	}
	return tokenString, nil
}

func ValidateJWTToken(tokenStr string, jwtConf config.JWTConfig) (*models.Claims, error) {
	claims := &models.Claims{}

	token, err := jwt.ParseWithClaims(tokenStr, claims,
		func(t *jwt.Token) (interface{}, error) {
			return jwtConf.Key, nil
		})

	if err != nil || !token.Valid {
		log.Println(err)
		return nil, errors.New("error: invalid token")
	}
	return claims, nil
}

func GenerateHMAC(apiSecret string, key string) string {
	// Create a new HMAC by defining the hash type and the key (as byte array)
	h := hmac.New(sha256.New, []byte(apiSecret))

	// Write Data to it
	h.Write([]byte(key))

	// Get result and encode as hexadecimal string
	sha := hex.EncodeToString(h.Sum(nil))

	return sha
}

// RandomHex returns n random bytes hex-encoded, for api key ids and
// secrets.
func RandomHex(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
