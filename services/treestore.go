package services

import (
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/multyvac/vac/models"

	"github.com/go-errors/errors"
)

// treeNameRe bounds volume and layer names to filesystem-safe tokens.
var treeNameRe = regexp.MustCompile(`^[a-z0-9][a-z0-9._-]*$`)

func validateTreeName(name string) error {
	if name == "" || len(name) > 64 || !treeNameRe.MatchString(name) {
		return errors.Errorf("invalid name %q: use lowercase letters, digits, '.', '_' and '-'", name)
	}
	return nil
}

// treeStore is a file tree rooted on the server filesystem. Callers
// address entries by paths relative to the root; anything resolving
// outside the root is rejected.
type treeStore struct {
	root string
}

func (t treeStore) init() error {
	return os.MkdirAll(t.root, 0o755)
}

func (t treeStore) destroy() error {
	return os.RemoveAll(t.root)
}

func (t treeStore) resolve(path string) (string, error) {
	path = strings.TrimPrefix(path, "/")
	abs := filepath.Join(t.root, filepath.FromSlash(path))
	if abs != t.root && !strings.HasPrefix(abs, t.root+string(filepath.Separator)) {
		return "", errors.Errorf("path %q escapes the tree", path)
	}
	return abs, nil
}

func (t treeStore) mkdir(path string) error {
	abs, err := t.resolve(path)
	if err != nil {
		return err
	}
	return os.MkdirAll(abs, 0o755)
}

func (t treeStore) put(path string, mode fs.FileMode, contents io.Reader) error {
	abs, err := t.resolve(path)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return err
	}

	if mode == 0 {
		mode = 0o644
	}
	f, err := os.OpenFile(abs, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, mode.Perm())
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, contents); err != nil {
		f.Close()
		return err
	}
	// The mode is enforced even when the file already existed.
	if err := f.Chmod(mode.Perm()); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func (t treeStore) get(paths []string) ([]models.VolumeFile, error) {
	files := make([]models.VolumeFile, 0, len(paths))
	for _, path := range paths {
		abs, err := t.resolve(path)
		if err != nil {
			return nil, err
		}
		info, err := os.Stat(abs)
		if err != nil {
			return nil, errors.Errorf("file %q not found", path)
		}
		if info.IsDir() {
			return nil, errors.Errorf("%q is a directory", path)
		}
		contents, err := os.ReadFile(abs)
		if err != nil {
			return nil, err
		}
		files = append(files, models.VolumeFile{
			Name:     path,
			Type:     models.FileTypeRegular,
			Mode:     uint32(info.Mode().Perm()),
			Size:     info.Size(),
			Contents: contents,
		})
	}
	return files, nil
}

func (t treeStore) ls(path string) ([]models.VolumeFile, error) {
	abs, err := t.resolve(path)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(abs)
	if err != nil {
		return nil, errors.Errorf("directory %q not found", path)
	}

	files := make([]models.VolumeFile, 0, len(entries))
	for _, entry := range entries {
		info, err := entry.Info()
		if err != nil {
			continue
		}
		fileType := models.FileTypeRegular
		size := info.Size()
		if entry.IsDir() {
			fileType = models.FileTypeDir
			size = 0
		}
		files = append(files, models.VolumeFile{
			Name: entry.Name(),
			Type: fileType,
			Mode: uint32(info.Mode().Perm()),
			Size: size,
		})
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Name < files[j].Name })

	return files, nil
}

func (t treeStore) rm(path string) error {
	abs, err := t.resolve(path)
	if err != nil {
		return err
	}
	if abs == t.root {
		return errors.New("cannot remove the tree root")
	}
	if _, err := os.Stat(abs); err != nil {
		return errors.Errorf("path %q not found", path)
	}
	return os.RemoveAll(abs)
}

// size walks the tree adding up regular file sizes.
func (t treeStore) size() int64 {
	var total int64
	filepath.WalkDir(t.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		if info, err := d.Info(); err == nil {
			total += info.Size()
		}
		return nil
	})
	return total
}
