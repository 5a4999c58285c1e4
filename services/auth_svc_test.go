package services

import (
	"fmt"
	"strconv"
	"testing"
	"time"

	"github.com/multyvac/vac/helpers"
	"github.com/multyvac/vac/models"

	uuid "github.com/satori/go.uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newAuthService(t *testing.T) (AuthService, *testFixture) {
	t.Helper()
	f := newFixture(t)
	return NewAuthService(f.db, f.config, NewUserService(f.db, f.config)), f
}

func seedRoot(t *testing.T, f *testFixture) models.User {
	t.Helper()
	root := models.User{
		ID:       uuid.NewV4(),
		Username: "root",
		Provider: "local",
		Admin:    true,
		Builtin:  true,
	}
	require.NoError(t, f.db.Create(&root).Error)
	return root
}

func TestValidateAPIKey(t *testing.T) {
	svc, f := newAuthService(t)
	key, err := NewKeyService(f.db, f.config).CreateKey(f.user.ID)
	require.NoError(t, err)

	user, err := svc.ValidateAPIKey(key.ID, key.SecretKey)
	require.NoError(t, err)
	assert.Equal(t, f.user.Username, user.Username)

	_, err = svc.ValidateAPIKey(key.ID, "wrong-secret")
	require.EqualError(t, err, "invalid api key")

	_, err = svc.ValidateAPIKey("ak_unknown", key.SecretKey)
	require.EqualError(t, err, "invalid api key")

	_, err = NewKeyService(f.db, f.config).SetKeyActive(f.user.ID, key.ID, false)
	require.NoError(t, err)
	_, err = svc.ValidateAPIKey(key.ID, key.SecretKey)
	require.EqualError(t, err, "api key is deactivated")
}

func TestValidateWebCredentials(t *testing.T) {
	svc, f := newAuthService(t)
	seedRoot(t, f)

	user, err := svc.ValidateWebCredentials("root", "root-secret")
	require.NoError(t, err)
	assert.True(t, user.Admin)

	_, err = svc.ValidateWebCredentials("root", "nope")
	require.EqualError(t, err, "password is incorrect")

	_, err = NewUserService(f.db, f.config).CreateUser(models.User{
		Username: "paul",
		Password: "hunter2",
		Provider: "local",
	})
	require.NoError(t, err)

	user, err = svc.ValidateWebCredentials("paul", "hunter2")
	require.NoError(t, err)
	assert.Equal(t, "paul", user.Username)

	_, err = svc.ValidateWebCredentials("paul", "hunter3")
	require.EqualError(t, err, "password is incorrect")

	_, err = svc.ValidateWebCredentials("nobody", "hunter2")
	require.EqualError(t, err, "user not found")
}

func TestLoginRoot(t *testing.T) {
	svc, f := newAuthService(t)
	root := seedRoot(t, f)

	token, expiry, err := svc.Login(&models.Credentials{
		Username: "root",
		Password: "root-secret",
		Provider: "local",
	})
	require.NoError(t, err)
	assert.Equal(t, f.config.JWT.ExpirySeconds, expiry)

	claims, err := helpers.ValidateJWTToken(token, f.config.JWT)
	require.NoError(t, err)
	assert.Equal(t, "root", claims.Username)
	assert.True(t, claims.Admin)
	assert.True(t, uuid.Equal(root.ID, claims.UserID))
	assert.Greater(t, claims.ExpiresAt, time.Now().Unix())

	_, _, err = svc.Login(&models.Credentials{
		Username: "root",
		Password: "nope",
		Provider: "local",
	})
	require.EqualError(t, err, "password is incorrect")
}

func TestLoginLocalUser(t *testing.T) {
	svc, f := newAuthService(t)
	_, err := NewUserService(f.db, f.config).CreateUser(models.User{
		Username: "paul",
		Password: "hunter2",
		Provider: "local",
	})
	require.NoError(t, err)

	token, _, err := svc.Login(&models.Credentials{
		Username: "paul",
		Password: "hunter2",
		Provider: "local",
	})
	require.NoError(t, err)

	claims, err := helpers.ValidateJWTToken(token, f.config.JWT)
	require.NoError(t, err)
	assert.Equal(t, "paul", claims.Username)
	assert.Equal(t, "local", claims.Provider)
	assert.False(t, claims.Admin)

	_, _, err = svc.Login(&models.Credentials{
		Username: "paul",
		Password: "wrong",
		Provider: "local",
	})
	require.Error(t, err)
}

func TestLoginUnknownProvider(t *testing.T) {
	svc, _ := newAuthService(t)
	_, _, err := svc.Login(&models.Credentials{
		Username: "paul",
		Password: "hunter2",
		Provider: "github",
	})
	require.EqualError(t, err, "provider does not exist")
}

func TestRefresh(t *testing.T) {
	svc, f := newAuthService(t)
	seedRoot(t, f)

	token, _, err := svc.Login(&models.Credentials{
		Username: "root",
		Password: "root-secret",
		Provider: "local",
	})
	require.NoError(t, err)

	refreshed, expiry, err := svc.Refresh(token)
	require.NoError(t, err)
	assert.Equal(t, f.config.JWT.ExpirySeconds, expiry)

	claims, err := helpers.ValidateJWTToken(refreshed, f.config.JWT)
	require.NoError(t, err)
	assert.Equal(t, "root", claims.Username)

	_, _, err = svc.Refresh("not-a-token")
	require.Error(t, err)
}

func TestValidateWebhookSignature(t *testing.T) {
	svc, f := newAuthService(t)
	js := NewJobService(f.db, f.pool, f.config)
	webhook, err := NewWebhookService(f.db, f.config, js).CreateWebhook(models.Webhook{
		Owner:   f.user.ID,
		Command: "process-delivery",
	})
	require.NoError(t, err)
	require.NotEmpty(t, webhook.Secret)

	body := []byte(`{"event":"push"}`)
	msgID := "msg_1"
	ts := strconv.FormatInt(time.Now().Unix(), 10)
	sig := helpers.GenerateHMAC(webhook.Secret, msgID+"."+ts+"."+string(body))

	user, hook, err := svc.ValidateWebhookSignature(webhook.ID.String(), msgID, ts, "v1,"+sig, body)
	require.NoError(t, err)
	assert.Equal(t, f.user.Username, user.Username)
	assert.True(t, uuid.Equal(webhook.ID, hook.ID))

	// Senders rotating secrets deliver several signatures at once.
	_, _, err = svc.ValidateWebhookSignature(webhook.ID.String(), msgID, ts, "v1,deadbeef v1,"+sig, body)
	require.NoError(t, err)

	_, _, err = svc.ValidateWebhookSignature(webhook.ID.String(), msgID, ts, "v1,deadbeef", body)
	require.EqualError(t, err, "signature mismatch")

	_, _, err = svc.ValidateWebhookSignature(webhook.ID.String(), msgID, ts, "v1,"+sig, []byte("tampered"))
	require.EqualError(t, err, "signature mismatch")

	stale := strconv.FormatInt(time.Now().Add(-10*time.Minute).Unix(), 10)
	staleSig := helpers.GenerateHMAC(webhook.Secret, msgID+"."+stale+"."+string(body))
	_, _, err = svc.ValidateWebhookSignature(webhook.ID.String(), msgID, stale, "v1,"+staleSig, body)
	require.EqualError(t, err, "webhook-timestamp is outside of tolerance")

	_, _, err = svc.ValidateWebhookSignature(webhook.ID.String(), msgID, "yesterday", "v1,"+sig, body)
	require.EqualError(t, err, "webhook-timestamp is not a unix timestamp")

	missing := uuid.NewV4()
	_, _, err = svc.ValidateWebhookSignature(missing.String(), msgID, ts, "v1,"+sig, body)
	require.EqualError(t, err, fmt.Sprintf("webhook %s not found, please check uuid", missing))
}
