package services

import (
	"testing"

	"github.com/multyvac/vac/models"

	uuid "github.com/satori/go.uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func TestCreateUserHashesLocalPassword(t *testing.T) {
	f := newFixture(t)
	svc := NewUserService(f.db, f.config)

	user, err := svc.CreateUser(models.User{
		Username: "paul",
		Password: "hunter2",
		Provider: "local",
	})
	require.NoError(t, err)
	assert.NotEqual(t, "hunter2", user.Password)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(user.Password), []byte("hunter2")))
	assert.False(t, uuid.Equal(user.ID, uuid.Nil))

	// Directory accounts have no local password to hash.
	ldap, err := svc.CreateUser(models.User{
		Username: "carol",
		Provider: "active_directory",
	})
	require.NoError(t, err)
	assert.Empty(t, ldap.Password)
}

func TestCreateUserDuplicate(t *testing.T) {
	f := newFixture(t)
	svc := NewUserService(f.db, f.config)

	_, err := svc.CreateUser(models.User{Username: "paul", Password: "x", Provider: "local"})
	require.NoError(t, err)
	_, err = svc.CreateUser(models.User{Username: "paul", Password: "y", Provider: "local"})
	require.Error(t, err)
}

func TestGetUser(t *testing.T) {
	f := newFixture(t)
	svc := NewUserService(f.db, f.config)

	user, err := svc.GetUser(f.user.ID.String())
	require.NoError(t, err)
	assert.Equal(t, "alice", user.Username)

	missing := uuid.NewV4()
	_, err = svc.GetUser(missing.String())
	require.EqualError(t, err, "user "+missing.String()+" not found, please check uuid")
}

func TestGetByUsernameAndProvider(t *testing.T) {
	f := newFixture(t)
	svc := NewUserService(f.db, f.config)

	user, err := svc.GetByUsernameAndProvider("alice", "local")
	require.NoError(t, err)
	assert.True(t, uuid.Equal(f.user.ID, user.ID))

	_, err = svc.GetByUsernameAndProvider("alice", "active_directory")
	require.EqualError(t, err, "user not found")
}

func TestUpdateUserRehashesPassword(t *testing.T) {
	f := newFixture(t)
	svc := NewUserService(f.db, f.config)

	created, err := svc.CreateUser(models.User{
		Username: "paul",
		Password: "hunter2",
		Provider: "local",
	})
	require.NoError(t, err)

	updated, err := svc.UpdateUser(models.User{
		ID:       created.ID,
		Password: "hunter3",
	})
	require.NoError(t, err)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(updated.Password), []byte("hunter3")))
}

func TestDeleteUser(t *testing.T) {
	f := newFixture(t)
	svc := NewUserService(f.db, f.config)

	require.NoError(t, svc.DeleteUser(f.user.ID.String()))
	_, err := svc.GetUser(f.user.ID.String())
	require.Error(t, err)

	builtin := models.User{
		ID:       uuid.NewV4(),
		Username: "root",
		Provider: "local",
		Builtin:  true,
	}
	require.NoError(t, f.db.Create(&builtin).Error)
	err = svc.DeleteUser(builtin.ID.String())
	require.EqualError(t, err, "user root is builtin and cannot be deleted")
}

func TestListUsers(t *testing.T) {
	f := newFixture(t)
	svc := NewUserService(f.db, f.config)
	seedUser(t, f.db, "bob")

	users, err := svc.ListUsers()
	require.NoError(t, err)
	assert.Len(t, users, 2)
}
