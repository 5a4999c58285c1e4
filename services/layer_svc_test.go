package services

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/multyvac/vac/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateLayer(t *testing.T) {
	f := newFixture(t)
	svc := NewLayerService(f.db, f.config)

	layer, err := svc.CreateLayer(f.user.ID, models.Layer{Name: "python-3.11"})
	require.NoError(t, err)
	assert.Equal(t, f.user.ID, layer.OwnerID)
	assert.Zero(t, layer.Size)
	assert.DirExists(t, filepath.Join(f.config.DataDir, "layers", "python-3.11"))

	_, err = svc.CreateLayer(f.user.ID, models.Layer{Name: "python-3.11"})
	require.ErrorContains(t, err, "layer name already exists")

	_, err = svc.CreateLayer(f.user.ID, models.Layer{Name: "Python"})
	require.ErrorContains(t, err, "invalid name")
}

func TestLayerNameIndependentOfVolumes(t *testing.T) {
	f := newFixture(t)
	layers := NewLayerService(f.db, f.config)
	volumes := NewVolumeService(f.db, f.config)

	_, err := volumes.CreateVolume(f.user.ID, models.Volume{Name: "data", MountPath: "/data"})
	require.NoError(t, err)
	_, err = layers.CreateLayer(f.user.ID, models.Layer{Name: "data"})
	require.NoError(t, err)

	assert.DirExists(t, filepath.Join(f.config.DataDir, "volumes", "data"))
	assert.DirExists(t, filepath.Join(f.config.DataDir, "layers", "data"))
}

func TestLayerFilesAndSize(t *testing.T) {
	f := newFixture(t)
	svc := NewLayerService(f.db, f.config)
	_, err := svc.CreateLayer(f.user.ID, models.Layer{Name: "base"})
	require.NoError(t, err)

	require.NoError(t, svc.PutFile(f.user.ID, "base", "lib/site.py", 0, strings.NewReader("import os\n")))

	files, err := svc.GetFiles(f.user.ID, "base", []string{"lib/site.py"})
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, []byte("import os\n"), files[0].Contents)

	layer, err := svc.GetLayer(f.user.ID, "base")
	require.NoError(t, err)
	assert.Equal(t, int64(10), layer.Size)

	require.NoError(t, svc.Rm(f.user.ID, "base", "lib"))
	layer, err = svc.GetLayer(f.user.ID, "base")
	require.NoError(t, err)
	assert.Zero(t, layer.Size)
}

func TestLayerOwnershipAndDelete(t *testing.T) {
	f := newFixture(t)
	svc := NewLayerService(f.db, f.config)
	_, err := svc.CreateLayer(f.user.ID, models.Layer{Name: "base"})
	require.NoError(t, err)

	other := seedUser(t, f.db, "other")
	_, err = svc.GetLayer(other.ID, "base")
	assert.ErrorIs(t, err, ErrLayerNotFound)

	err = svc.DeleteLayer(other.ID, "base")
	assert.ErrorIs(t, err, ErrLayerNotFound)

	require.NoError(t, svc.DeleteLayer(f.user.ID, "base"))
	assert.NoDirExists(t, filepath.Join(f.config.DataDir, "layers", "base"))

	layers, err := svc.ListLayers(f.user.ID, nil)
	require.NoError(t, err)
	assert.Empty(t, layers)
}
