package vac

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"
)

// Volume is a named file tree jobs can mount at MountPath.
type Volume struct {
	Name        string     `json:"name"`
	MountPath   string     `json:"mount_path"`
	MountType   string     `json:"mount_type,omitempty"`
	Description string     `json:"description,omitempty"`
	Size        int64      `json:"size,omitempty"`
	CreatedAt   *time.Time `json:"created_at,omitempty"`

	client *Client
}

// VolumeFile is one tree entry. Ls fills the metadata; content fetches
// also fill Contents.
type VolumeFile struct {
	Name     string `json:"name"`
	Type     string `json:"type"`
	Mode     uint32 `json:"mode"`
	Size     int64  `json:"size"`
	Contents []byte `json:"contents,omitempty"`
}

// VolumeFile types.
const (
	FileTypeRegular = "f"
	FileTypeDir     = "d"
)

// CreateVolume registers a new volume. Name and MountPath are required;
// the mount path is where jobs see the tree.
func (c *Client) CreateVolume(ctx context.Context, v Volume) error {
	return c.ask(ctx, &askRequest{
		method: http.MethodPost,
		path:   "/volume",
		json:   map[string]Volume{"volume": v},
	}, nil)
}

// Volumes lists the account's volumes, optionally filtered by name.
func (c *Client) Volumes(ctx context.Context, names ...string) ([]*Volume, error) {
	params := url.Values{}
	for _, n := range names {
		params.Add("name", n)
	}
	var resp struct {
		Volumes []*Volume `json:"volumes"`
	}
	if err := c.ask(ctx, &askRequest{method: http.MethodGet, path: "/volume", params: params}, &resp); err != nil {
		return nil, err
	}
	for _, v := range resp.Volumes {
		v.client = c
	}
	return resp.Volumes, nil
}

// Volume returns a handle on the named volume.
func (c *Client) Volume(ctx context.Context, name string) (*Volume, error) {
	vols, err := c.Volumes(ctx, name)
	if err != nil {
		return nil, err
	}
	if len(vols) == 0 {
		return nil, fmt.Errorf("could not find volume %q", name)
	}
	return vols[0], nil
}

// DeleteVolume removes the volume and every file in it. Volumes still
// referenced by unfinished jobs cannot be deleted.
func (c *Client) DeleteVolume(ctx context.Context, name string) error {
	return c.ask(ctx, &askRequest{
		method: http.MethodDelete,
		path:   "/volume/" + url.PathEscape(name),
	}, nil)
}

// Tree operations shared by volumes and layers. base is the resource
// root, "/volume" or "/layer"; paths are relative to the tree root.

func (c *Client) treeMkdir(ctx context.Context, base, name, dir string) error {
	return c.ask(ctx, &askRequest{
		method: http.MethodPut,
		path:   base + "/" + url.PathEscape(name) + "/mkdir",
		params: url.Values{"path": {dir}},
	}, nil)
}

func (c *Client) treePut(ctx context.Context, base, name, target string, mode fs.FileMode, contents []byte) error {
	form := url.Values{}
	if mode != 0 {
		form.Set("file_mode", fmt.Sprintf("%#o", mode.Perm()))
	}
	return c.ask(ctx, &askRequest{
		method: http.MethodPut,
		path:   base + "/" + url.PathEscape(name),
		form:   form,
		files:  []upload{{target: target, contents: contents}},
	}, nil)
}

func (c *Client) treeGet(ctx context.Context, base, name string, paths []string) ([]VolumeFile, error) {
	var resp struct {
		Files []VolumeFile `json:"files"`
	}
	err := c.ask(ctx, &askRequest{
		method: http.MethodGet,
		path:   base + "/" + url.PathEscape(name),
		params: url.Values{"path": paths},
	}, &resp)
	if err != nil {
		return nil, err
	}
	return resp.Files, nil
}

func (c *Client) treeLs(ctx context.Context, base, name, dir string) ([]VolumeFile, error) {
	var resp struct {
		Entries []VolumeFile `json:"ls"`
	}
	err := c.ask(ctx, &askRequest{
		method: http.MethodGet,
		path:   base + "/" + url.PathEscape(name) + "/ls",
		params: url.Values{"path": {dir}},
	}, &resp)
	if err != nil {
		return nil, err
	}
	return resp.Entries, nil
}

func (c *Client) treeRm(ctx context.Context, base, name, p string) error {
	return c.ask(ctx, &askRequest{
		method: http.MethodPost,
		path:   base + "/" + url.PathEscape(name) + "/rm",
		params: url.Values{"path": {p}},
	}, nil)
}

// Mkdir creates a directory in the volume, parents included.
func (v *Volume) Mkdir(ctx context.Context, dir string) error {
	return v.client.treeMkdir(ctx, "/volume", v.Name, dir)
}

// PutContents writes contents to targetPath inside the volume. A zero
// mode means 0644.
func (v *Volume) PutContents(ctx context.Context, contents []byte, targetPath string, mode fs.FileMode) error {
	return v.client.treePut(ctx, "/volume", v.Name, targetPath, mode, contents)
}

// GetContents fetches a single file with its contents.
func (v *Volume) GetContents(ctx context.Context, p string) (*VolumeFile, error) {
	files, err := v.client.treeGet(ctx, "/volume", v.Name, []string{p})
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("file %q not found in volume %s", p, v.Name)
	}
	return &files[0], nil
}

// PutFile uploads a local file, keeping its permission bits.
func (v *Volume) PutFile(ctx context.Context, localPath, targetPath string) error {
	data, err := os.ReadFile(localPath)
	if err != nil {
		return err
	}
	info, err := os.Stat(localPath)
	if err != nil {
		return err
	}
	return v.PutContents(ctx, data, targetPath, info.Mode().Perm())
}

// GetFile downloads a volume file to localPath.
func (v *Volume) GetFile(ctx context.Context, remotePath, localPath string) error {
	f, err := v.GetContents(ctx, remotePath)
	if err != nil {
		return err
	}
	return writeLocal(localPath, f)
}

// Ls lists a directory in the volume. Entry names are bare, without the
// directory prefix.
func (v *Volume) Ls(ctx context.Context, dir string) ([]VolumeFile, error) {
	return v.client.treeLs(ctx, "/volume", v.Name, dir)
}

// Rm removes a file or directory tree from the volume.
func (v *Volume) Rm(ctx context.Context, p string) error {
	return v.client.treeRm(ctx, "/volume", v.Name, p)
}

// SyncUp copies a local file or directory tree into the volume under
// remotePath, which is relative to the volume root. Remote files that
// already match by size and mode are skipped. The first failure stops
// the sync with a *SyncError naming the path.
func (v *Volume) SyncUp(ctx context.Context, localPath, remotePath string) error {
	if strings.HasPrefix(remotePath, "/") {
		return &SyncError{Path: remotePath, Err: errors.New("remote_path cannot be relative to root (/)")}
	}
	remotePath = path.Clean(remotePath)
	if remotePath == "." {
		remotePath = ""
	}

	remote, err := v.remoteIndex(ctx, remotePath)
	if err != nil {
		return err
	}

	root := filepath.Clean(localPath)
	info, err := os.Stat(root)
	if err != nil {
		return &SyncError{Path: localPath, Err: err}
	}

	if !info.IsDir() {
		target := joinRemote(remotePath, filepath.Base(root))
		if matchesRemote(remote[target], info) {
			return nil
		}
		if err := v.PutFile(ctx, root, target); err != nil {
			return &SyncError{Path: target, Err: err}
		}
		return nil
	}

	return filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return &SyncError{Path: p, Err: err}
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		target := remotePath
		if rel != "." {
			target = joinRemote(remotePath, filepath.ToSlash(rel))
		}

		if d.IsDir() {
			// The volume root always exists.
			if target == "" {
				return nil
			}
			if r, ok := remote[target]; ok && r.Type == FileTypeDir {
				return nil
			}
			if err := v.Mkdir(ctx, target); err != nil {
				return &SyncError{Path: target, Err: err}
			}
			remote[target] = VolumeFile{Type: FileTypeDir}
			return nil
		}

		fi, err := d.Info()
		if err != nil {
			return &SyncError{Path: p, Err: err}
		}
		if matchesRemote(remote[target], fi) {
			return nil
		}
		if err := v.PutFile(ctx, p, target); err != nil {
			return &SyncError{Path: target, Err: err}
		}
		return nil
	})
}

// SyncDown copies a remote file or directory tree under localPath.
// Local files that already match by size and mode are skipped.
func (v *Volume) SyncDown(ctx context.Context, remotePath, localPath string) error {
	if strings.HasPrefix(remotePath, "/") {
		return &SyncError{Path: remotePath, Err: errors.New("remote_path cannot be relative to root (/)")}
	}
	remotePath = path.Clean(remotePath)
	if remotePath == "." {
		remotePath = ""
	}
	return v.syncDownTree(ctx, remotePath, localPath)
}

func (v *Volume) syncDownTree(ctx context.Context, remotePath, localPath string) error {
	entries, err := v.Ls(ctx, remotePath)
	if err != nil {
		var re *RequestError
		if !errors.As(err, &re) {
			return err
		}
		// Not a directory; try it as a single file.
		f, gerr := v.GetContents(ctx, remotePath)
		if gerr != nil {
			return &SyncError{Path: remotePath, Err: gerr}
		}
		return syncLocalFile(localPath, f)
	}

	if err := os.MkdirAll(localPath, 0o755); err != nil {
		return &SyncError{Path: localPath, Err: err}
	}
	for _, entry := range entries {
		remote := joinRemote(remotePath, entry.Name)
		local := filepath.Join(localPath, entry.Name)
		if entry.Type == FileTypeDir {
			if err := v.syncDownTree(ctx, remote, local); err != nil {
				return err
			}
			continue
		}
		if fi, err := os.Stat(local); err == nil && !fi.IsDir() &&
			fi.Size() == entry.Size && fi.Mode().Perm() == fs.FileMode(entry.Mode).Perm() {
			continue
		}
		f, err := v.GetContents(ctx, remote)
		if err != nil {
			return &SyncError{Path: remote, Err: err}
		}
		if err := syncLocalFile(local, f); err != nil {
			return err
		}
	}
	return nil
}

// remoteIndex walks the volume tree under root and indexes every entry
// by its path. A missing root indexes nothing, so everything uploads.
func (v *Volume) remoteIndex(ctx context.Context, root string) (map[string]VolumeFile, error) {
	index := map[string]VolumeFile{}
	var walk func(dir string) error
	walk = func(dir string) error {
		entries, err := v.Ls(ctx, dir)
		if err != nil {
			var re *RequestError
			if errors.As(err, &re) {
				return nil
			}
			return err
		}
		if dir != "" {
			index[dir] = VolumeFile{Name: path.Base(dir), Type: FileTypeDir}
		}
		for _, entry := range entries {
			p := joinRemote(dir, entry.Name)
			index[p] = entry
			if entry.Type == FileTypeDir {
				if err := walk(p); err != nil {
					return err
				}
			}
		}
		return nil
	}
	if err := walk(root); err != nil {
		return nil, err
	}
	return index, nil
}

func joinRemote(dir, name string) string {
	if dir == "" {
		return name
	}
	return path.Join(dir, name)
}

func matchesRemote(r VolumeFile, fi fs.FileInfo) bool {
	return r.Type == FileTypeRegular &&
		r.Size == fi.Size() &&
		fs.FileMode(r.Mode).Perm() == fi.Mode().Perm()
}

func syncLocalFile(localPath string, f *VolumeFile) error {
	if err := writeLocal(localPath, f); err != nil {
		return &SyncError{Path: localPath, Err: err}
	}
	return nil
}

func writeLocal(localPath string, f *VolumeFile) error {
	mode := fs.FileMode(f.Mode).Perm()
	if mode == 0 {
		mode = 0o644
	}
	if err := os.MkdirAll(filepath.Dir(localPath), 0o755); err != nil {
		return err
	}
	if err := os.WriteFile(localPath, f.Contents, mode); err != nil {
		return err
	}
	// WriteFile only applies the mode on create.
	return os.Chmod(localPath, mode)
}
