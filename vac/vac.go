// Package vac is the client for the Multyvac batch execution service.
//
// A Client submits shell commands or registered functions as jobs,
// follows them to completion and reads back their results:
//
//	c, err := vac.NewClient()
//	jid, err := c.Submit(ctx, fn.NewCall("add", 1, 2))
//	job, err := c.Job(ctx, jid)
//	var sum int
//	err = job.ResultInto(ctx, &sum)
//
// Volumes and layers carry file trees into jobs; clusters reserve
// dedicated capacity. Credentials come from ~/.multyvac, the MULTYVAC_*
// environment variables or explicit options, in that order.
//
// The package-level functions mirror the Client methods on a shared
// default client, for programs that only ever talk to one account.
package vac

import (
	"context"
	"sync"

	"github.com/multyvac/vac/fn"
)

// Version of the client.
const Version = "0.5.0"

var (
	defaultOnce   sync.Once
	defaultClient *Client
	defaultErr    error
)

// Default returns the shared client built from the ambient
// configuration. The first call constructs it; later option changes
// need a dedicated NewClient.
func Default() (*Client, error) {
	defaultOnce.Do(func() {
		defaultClient, defaultErr = NewClient()
	})
	return defaultClient, defaultErr
}

// Submit runs a registered function remotely on the default client.
func Submit(ctx context.Context, call fn.Call, opts ...SubmitOption) (int64, error) {
	c, err := Default()
	if err != nil {
		return 0, err
	}
	return c.Submit(ctx, call, opts...)
}

// ShellSubmit queues a shell command on the default client.
func ShellSubmit(ctx context.Context, cmd string, opts ...SubmitOption) (int64, error) {
	c, err := Default()
	if err != nil {
		return 0, err
	}
	return c.ShellSubmit(ctx, cmd, opts...)
}

// GetJob returns a handle on a job via the default client.
func GetJob(ctx context.Context, jid int64) (*Job, error) {
	c, err := Default()
	if err != nil {
		return nil, err
	}
	return c.Job(ctx, jid)
}

// GetJobByName returns the most recent job with the given name via the
// default client.
func GetJobByName(ctx context.Context, name string) (*Job, error) {
	c, err := Default()
	if err != nil {
		return nil, err
	}
	return c.JobByName(ctx, name)
}

// ListJobs lists jobs via the default client.
func ListJobs(ctx context.Context, opts ListJobsOptions) ([]*Job, error) {
	c, err := Default()
	if err != nil {
		return nil, err
	}
	return c.ListJobs(ctx, opts)
}

// KillJobs terminates jobs via the default client.
func KillJobs(ctx context.Context, jids ...int64) error {
	c, err := Default()
	if err != nil {
		return err
	}
	return c.KillJobs(ctx, jids...)
}

// KillAll terminates every unfinished job via the default client.
func KillAll(ctx context.Context) error {
	c, err := Default()
	if err != nil {
		return err
	}
	return c.KillAll(ctx)
}

// WaitJobs waits for the given jobs via the default client.
func WaitJobs(ctx context.Context, jids []int64) ([]*Job, error) {
	c, err := Default()
	if err != nil {
		return nil, err
	}
	return c.WaitJobs(ctx, jids)
}

// GetQueueStats returns the live queue counts via the default client.
func GetQueueStats(ctx context.Context) (QueueStats, error) {
	c, err := Default()
	if err != nil {
		return nil, err
	}
	return c.QueueStats(ctx)
}

// SendLogToSupport uploads the client log via the default client.
func SendLogToSupport(ctx context.Context) (bool, error) {
	c, err := Default()
	if err != nil {
		return false, err
	}
	return c.SendLogToSupport(ctx)
}
