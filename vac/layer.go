package vac

import (
	"context"
	"fmt"
	"io/fs"
	"net/http"
	"net/url"
	"os"
	"time"
)

// Layer is a base file tree jobs mount on top of their workspace, sized
// for language runtimes and dependency trees that would be wasteful to
// carry per job.
type Layer struct {
	Name      string     `json:"name"`
	Size      int64      `json:"size,omitempty"`
	CreatedAt *time.Time `json:"created_at,omitempty"`

	client *Client
}

// CreateLayer registers an empty layer.
func (c *Client) CreateLayer(ctx context.Context, name string) error {
	return c.ask(ctx, &askRequest{
		method: http.MethodPost,
		path:   "/layer",
		json:   map[string]interface{}{"layer": map[string]string{"name": name}},
	}, nil)
}

// Layers lists the account's layers, optionally filtered by name.
func (c *Client) Layers(ctx context.Context, names ...string) ([]*Layer, error) {
	params := url.Values{}
	for _, n := range names {
		params.Add("name", n)
	}
	var resp struct {
		Layers []*Layer `json:"layers"`
	}
	if err := c.ask(ctx, &askRequest{method: http.MethodGet, path: "/layer", params: params}, &resp); err != nil {
		return nil, err
	}
	for _, l := range resp.Layers {
		l.client = c
	}
	return resp.Layers, nil
}

// Layer returns a handle on the named layer.
func (c *Client) Layer(ctx context.Context, name string) (*Layer, error) {
	layers, err := c.Layers(ctx, name)
	if err != nil {
		return nil, err
	}
	if len(layers) == 0 {
		return nil, fmt.Errorf("could not find layer %q", name)
	}
	return layers[0], nil
}

// DeleteLayer removes the layer and its files. Layers still referenced
// by unfinished jobs cannot be deleted.
func (c *Client) DeleteLayer(ctx context.Context, name string) error {
	return c.ask(ctx, &askRequest{
		method: http.MethodDelete,
		path:   "/layer/" + url.PathEscape(name),
	}, nil)
}

// Mkdir creates a directory in the layer, parents included.
func (l *Layer) Mkdir(ctx context.Context, dir string) error {
	return l.client.treeMkdir(ctx, "/layer", l.Name, dir)
}

// PutContents writes contents to targetPath inside the layer. A zero
// mode means 0644.
func (l *Layer) PutContents(ctx context.Context, contents []byte, targetPath string, mode fs.FileMode) error {
	return l.client.treePut(ctx, "/layer", l.Name, targetPath, mode, contents)
}

// GetContents fetches a single file with its contents.
func (l *Layer) GetContents(ctx context.Context, p string) (*VolumeFile, error) {
	files, err := l.client.treeGet(ctx, "/layer", l.Name, []string{p})
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("file %q not found in layer %s", p, l.Name)
	}
	return &files[0], nil
}

// PutFile uploads a local file, keeping its permission bits.
func (l *Layer) PutFile(ctx context.Context, localPath, targetPath string) error {
	data, err := os.ReadFile(localPath)
	if err != nil {
		return err
	}
	info, err := os.Stat(localPath)
	if err != nil {
		return err
	}
	return l.PutContents(ctx, data, targetPath, info.Mode().Perm())
}

// GetFile downloads a layer file to localPath.
func (l *Layer) GetFile(ctx context.Context, remotePath, localPath string) error {
	f, err := l.GetContents(ctx, remotePath)
	if err != nil {
		return err
	}
	return writeLocal(localPath, f)
}

// Ls lists a directory in the layer.
func (l *Layer) Ls(ctx context.Context, dir string) ([]VolumeFile, error) {
	return l.client.treeLs(ctx, "/layer", l.Name, dir)
}

// Rm removes a file or directory tree from the layer.
func (l *Layer) Rm(ctx context.Context, p string) error {
	return l.client.treeRm(ctx, "/layer", l.Name, p)
}

// ModifyLayerJob is a layer modification session: a long-sleeping job
// holding the layer mounted read-write. Commands run against its
// workspace write straight into the layer tree.
type ModifyLayerJob struct {
	*Job
}

// Modify starts a modification session capped at maxRuntime seconds,
// defaulting to an hour. Extra volumes may be mounted alongside, which
// is how files get copied into a layer in bulk.
func (l *Layer) Modify(ctx context.Context, maxRuntime int, vols ...string) (*ModifyLayerJob, error) {
	if maxRuntime <= 0 {
		maxRuntime = 3600
	}
	opts := []SubmitOption{
		WithName("layer modify " + l.Name),
		WithLayerRW(l.Name),
		WithTags(map[string]string{"system": "true"}),
	}
	if len(vols) > 0 {
		opts = append(opts, WithVolumes(vols...))
	}
	jid, err := l.client.ShellSubmit(ctx, fmt.Sprintf("sleep %d", maxRuntime), opts...)
	if err != nil {
		return nil, err
	}
	job, err := l.client.Job(ctx, jid)
	if err != nil {
		return nil, err
	}
	return &ModifyLayerJob{Job: job}, nil
}

// ModifyJob reattaches to a running modification session by job id.
func (l *Layer) ModifyJob(ctx context.Context, jid int64) (*ModifyLayerJob, error) {
	job, err := l.client.Job(ctx, jid)
	if err != nil {
		return nil, err
	}
	return &ModifyLayerJob{Job: job}, nil
}

// Snapshot ends the session and waits for it to wind down. Changes made
// through the session are already part of the layer; new jobs mounting
// it see them once the session is gone.
func (m *ModifyLayerJob) Snapshot(ctx context.Context) error {
	if err := m.Kill(ctx); err != nil {
		return err
	}
	return m.Wait(ctx)
}

// Abort ends the session without waiting for it to wind down.
func (m *ModifyLayerJob) Abort(ctx context.Context) error {
	return m.Kill(ctx)
}
