package vac

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// Cluster states.
const (
	ClusterStateRequested   = "requested"
	ClusterStateProvisioned = "provisioned"
	ClusterStateReleased    = "released"
)

// Cluster is a block of dedicated cores reserved for the account's
// jobs. While provisioned it is billed whether jobs run on it or not.
type Cluster struct {
	ID            int64      `json:"id"`
	State         string     `json:"state"`
	Core          string     `json:"core"`
	CoreCount     int        `json:"core_count"`
	MaxDuration   *int       `json:"max_duration"`
	RequestedAt   *time.Time `json:"requested_at,omitempty"`
	ProvisionedAt *time.Time `json:"provisioned_at,omitempty"`
	ReleasedAt    *time.Time `json:"released_at,omitempty"`
	Duration      float64    `json:"duration,omitempty"`

	client *Client
}

// ProvisionCluster reserves coreCount cores of the given type and
// returns the cluster id. maxDuration, in hours, releases the cluster
// automatically; zero leaves it running until released by hand.
func (c *Client) ProvisionCluster(ctx context.Context, core string, coreCount, maxDuration int) (int64, error) {
	body := map[string]interface{}{
		"core":       core,
		"core_count": coreCount,
	}
	if maxDuration > 0 {
		body["max_duration"] = maxDuration
	}
	var resp struct {
		ID int64 `json:"id"`
	}
	err := c.ask(ctx, &askRequest{
		method: http.MethodPost,
		path:   "/cluster",
		json:   map[string]interface{}{"cluster": body},
	}, &resp)
	if err != nil {
		return 0, err
	}
	return resp.ID, nil
}

// Clusters lists the account's clusters, newest first.
func (c *Client) Clusters(ctx context.Context) ([]*Cluster, error) {
	var resp struct {
		Clusters []*Cluster `json:"clusters"`
	}
	if err := c.ask(ctx, &askRequest{method: http.MethodGet, path: "/cluster"}, &resp); err != nil {
		return nil, err
	}
	for _, cl := range resp.Clusters {
		cl.client = c
	}
	return resp.Clusters, nil
}

// Cluster returns a handle on the cluster with the given id.
func (c *Client) Cluster(ctx context.Context, id int64) (*Cluster, error) {
	var resp struct {
		Cluster *Cluster `json:"cluster"`
	}
	err := c.ask(ctx, &askRequest{
		method: http.MethodGet,
		path:   "/cluster/" + strconv.FormatInt(id, 10),
	}, &resp)
	if err != nil {
		return nil, err
	}
	if resp.Cluster == nil {
		return nil, fmt.Errorf("could not find cluster %d", id)
	}
	resp.Cluster.client = c
	return resp.Cluster, nil
}

// Update refreshes the cluster from the service.
func (cl *Cluster) Update(ctx context.Context) error {
	fresh, err := cl.client.Cluster(ctx, cl.ID)
	if err != nil {
		return err
	}
	client := cl.client
	*cl = *fresh
	cl.client = client
	return nil
}

// Release returns the cluster's cores. Releasing an already released
// cluster is not an error.
func (cl *Cluster) Release(ctx context.Context) error {
	return cl.client.ask(ctx, &askRequest{
		method: http.MethodPost,
		path:   "/cluster/" + strconv.FormatInt(cl.ID, 10) + "/release",
	}, nil)
}

// UpdateMaxDuration reschedules the automatic release, counted in hours
// from provisioning.
func (cl *Cluster) UpdateMaxDuration(ctx context.Context, hours int) error {
	return cl.client.ask(ctx, &askRequest{
		method: http.MethodPatch,
		path:   "/cluster/" + strconv.FormatInt(cl.ID, 10) + "/update_max_duration",
		form:   url.Values{"max_duration": {strconv.Itoa(hours)}},
	}, nil)
}
