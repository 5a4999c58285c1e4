package vac

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/multyvac/vac/bootstrap"
	"github.com/multyvac/vac/fn"
)

// Job statuses. A job moves from waiting through queued and processing
// into exactly one of the finished statuses.
const (
	StatusWaiting    = "waiting"
	StatusQueued     = "queued"
	StatusProcessing = "processing"
	StatusDone       = "done"
	StatusError      = "error"
	StatusKilled     = "killed"
	StatusStalled    = "stalled"
)

// FinishedStatuses are the statuses a job never leaves.
var FinishedStatuses = []string{StatusDone, StatusError, StatusKilled, StatusStalled}

// Result sources and types understood by the service.
const (
	ResultSourceStdout = "stdout"
	ResultTypeBinary   = "binary"
	ResultTypeJSON     = "json"
)

// Jobs are fetched in chunks of this size when more ids are asked for
// at once.
const jobChunkSize = 50

// Job is one submitted command and its collected output. Fields are
// populated to the extent the originating call requested them; Update
// refreshes everything.
type Job struct {
	JID            int64             `json:"jid"`
	Name           string            `json:"name,omitempty"`
	Cmd            string            `json:"cmd,omitempty"`
	Core           string            `json:"core,omitempty"`
	Multicore      int               `json:"multicore,omitempty"`
	Status         string            `json:"status,omitempty"`
	Env            map[string]string `json:"env,omitempty"`
	Tags           map[string]string `json:"tags,omitempty"`
	Volumes        []string          `json:"vol,omitempty"`
	Layer          string            `json:"layer,omitempty"`
	LayerRW        bool              `json:"layer_rw,omitempty"`
	DependsOn      []int64           `json:"depends_on,omitempty"`
	ResultSource   string            `json:"result_source,omitempty"`
	ResultType     string            `json:"result_type,omitempty"`
	RawResult      []byte            `json:"result,omitempty"`
	ReturnCode     *int              `json:"return_code,omitempty"`
	Stdout         string            `json:"stdout,omitempty"`
	Stderr         string            `json:"stderr,omitempty"`
	MaxRuntime     int               `json:"max_runtime,omitempty"`
	Restartable    bool              `json:"restartable,omitempty"`
	CreatedAt      *time.Time        `json:"created_at,omitempty"`
	StartedAt      *time.Time        `json:"started_at,omitempty"`
	FinishedAt     *time.Time        `json:"finished_at,omitempty"`
	Runtime        float64           `json:"runtime,omitempty"`
	QueueDelay     float64           `json:"queue_delay,omitempty"`
	OverheadDelay  float64           `json:"overhead_delay,omitempty"`
	CPUTimeUser    float64           `json:"cputime_user,omitempty"`
	CPUTimeSystem  float64           `json:"cputime_system,omitempty"`
	MemoryMaxUsage int64             `json:"memory_max_usage,omitempty"`

	client *Client
}

// Submit runs a registered function remotely. The function and its
// arguments travel on the job's stdin; the worker launches the
// bootstrap command, which invokes the function from its registry and
// leaves the JSON-encoded return value where the result collector
// picks it up.
//
// The name must be registered in this process too, which catches typos
// before any network traffic. The executing side still needs its own
// registration.
//
// Options apply before the function plumbing, so a caller cannot
// accidentally redirect the result away from the bootstrap contract.
func (c *Client) Submit(ctx context.Context, call fn.Call, opts ...SubmitOption) (int64, error) {
	if !fn.Registered(call.Function) {
		return 0, fmt.Errorf("function %q is not registered", call.Function)
	}
	payload, err := call.Encode()
	if err != nil {
		return 0, err
	}
	fname := call.Function
	if len(fname) > 100 {
		fname = fname[:97] + "..."
	}
	opts = append(opts, func(r *jobRequest) {
		r.Stdin = payload
		r.ResultSource = "file:" + bootstrap.ResultFile
		r.ResultType = ResultTypeJSON
		if r.Tags == nil {
			r.Tags = map[string]string{}
		}
		r.Tags["fname"] = fname
	})
	return c.ShellSubmit(ctx, bootstrap.DefaultCmd, opts...)
}

// ShellSubmit queues cmd as a job and returns its id. The result is
// the command's stdout unless WithResultSource says otherwise.
func (c *Client) ShellSubmit(ctx context.Context, cmd string, opts ...SubmitOption) (int64, error) {
	restartable := true
	req := &jobRequest{
		Cmd:          cmd,
		Core:         "c1",
		Multicore:    1,
		ResultSource: ResultSourceStdout,
		ResultType:   ResultTypeBinary,
		Restartable:  &restartable,
	}
	for _, opt := range opts {
		opt(req)
	}

	var resp struct {
		JIDs []int64 `json:"jids"`
	}
	err := c.ask(ctx, &askRequest{
		method: http.MethodPost,
		path:   "/job",
		json:   map[string]interface{}{"jobs": []*jobRequest{req}},
	}, &resp)
	if err != nil {
		return 0, err
	}
	if len(resp.JIDs) == 0 {
		return 0, fmt.Errorf("no job id returned")
	}
	return resp.JIDs[0], nil
}

// ListJobsOptions filter and shape a job listing. Fields trims the
// answer to the named columns, which keeps polling cheap.
type ListJobsOptions struct {
	JIDs     []int64
	Name     string
	Statuses []string
	Limit    int
	Before   int64
	After    int64
	Fields   []string
}

func (o ListJobsOptions) values() url.Values {
	vals := url.Values{}
	for _, jid := range o.JIDs {
		vals.Add("jid", strconv.FormatInt(jid, 10))
	}
	if o.Name != "" {
		vals.Set("name", o.Name)
	}
	for _, s := range o.Statuses {
		vals.Add("status", s)
	}
	if o.Limit > 0 {
		vals.Set("limit", strconv.Itoa(o.Limit))
	}
	if o.Before > 0 {
		vals.Set("before", strconv.FormatInt(o.Before, 10))
	}
	if o.After > 0 {
		vals.Set("after", strconv.FormatInt(o.After, 10))
	}
	for _, f := range o.Fields {
		vals.Add("field", f)
	}
	return vals
}

func (c *Client) listJobs(ctx context.Context, params url.Values) ([]*Job, error) {
	var resp struct {
		Jobs []*Job `json:"jobs"`
	}
	if err := c.ask(ctx, &askRequest{method: http.MethodGet, path: "/job", params: params}, &resp); err != nil {
		return nil, err
	}
	for _, j := range resp.Jobs {
		j.client = c
	}
	return resp.Jobs, nil
}

// ListJobs returns jobs matching opts, most recent first.
func (c *Client) ListJobs(ctx context.Context, opts ListJobsOptions) ([]*Job, error) {
	return c.listJobs(ctx, opts.values())
}

// Job returns a handle on the job with the given id.
func (c *Client) Job(ctx context.Context, jid int64) (*Job, error) {
	jobs, err := c.listJobs(ctx, url.Values{
		"jid":   {strconv.FormatInt(jid, 10)},
		"limit": {"1"},
	})
	if err != nil {
		return nil, err
	}
	if len(jobs) == 0 {
		return nil, fmt.Errorf("could not find job %d", jid)
	}
	return jobs[0], nil
}

// Jobs returns the named jobs in input order, fetched in chunks. Every
// id must exist.
func (c *Client) Jobs(ctx context.Context, jids []int64, fields ...string) ([]*Job, error) {
	byJID := make(map[int64]*Job, len(jids))
	for start := 0; start < len(jids); start += jobChunkSize {
		end := start + jobChunkSize
		if end > len(jids) {
			end = len(jids)
		}
		vals := url.Values{}
		for _, jid := range jids[start:end] {
			vals.Add("jid", strconv.FormatInt(jid, 10))
		}
		for _, f := range fields {
			vals.Add("field", f)
		}
		jobs, err := c.listJobs(ctx, vals)
		if err != nil {
			return nil, err
		}
		for _, j := range jobs {
			byJID[j.JID] = j
		}
	}

	out := make([]*Job, 0, len(jids))
	for _, jid := range jids {
		j, ok := byJID[jid]
		if !ok {
			return nil, fmt.Errorf("could not find job %d", jid)
		}
		out = append(out, j)
	}
	return out, nil
}

// JobByName returns the most recent job with the given name.
func (c *Client) JobByName(ctx context.Context, name string) (*Job, error) {
	jobs, err := c.listJobs(ctx, url.Values{"name": {name}, "limit": {"1"}})
	if err != nil {
		return nil, err
	}
	if len(jobs) == 0 {
		return nil, fmt.Errorf("could not find job named %q", name)
	}
	return jobs[0], nil
}

// KillJobs terminates the given jobs. Finished jobs are left alone.
func (c *Client) KillJobs(ctx context.Context, jids ...int64) error {
	form := url.Values{}
	for _, jid := range jids {
		form.Add("jid", strconv.FormatInt(jid, 10))
	}
	return c.ask(ctx, &askRequest{method: http.MethodPost, path: "/job/kill", form: form}, nil)
}

// KillAll terminates every unfinished job the account owns.
func (c *Client) KillAll(ctx context.Context) error {
	return c.ask(ctx, &askRequest{method: http.MethodPost, path: "/job/kill_all"}, nil)
}

// WaitJobs blocks until every named job finishes, then returns all of
// them fully populated. While waiting it polls only ids and statuses,
// backing off as the wait grows.
func (c *Client) WaitJobs(ctx context.Context, jids []int64) ([]*Job, error) {
	pending := append([]int64(nil), jids...)
	tries := 1
	for len(pending) > 0 {
		jobs, err := c.Jobs(ctx, pending, "jid", "status")
		if err != nil {
			return nil, err
		}
		var next []int64
		for _, j := range jobs {
			if !j.Finished() {
				next = append(next, j.JID)
			}
		}
		pending = next
		if len(pending) == 0 {
			break
		}

		tries++
		sleep := time.Duration((1.0 + math.Min(float64(tries)/10.0, 9.0)) * float64(time.Second))
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(sleep):
		}
	}
	return c.Jobs(ctx, jids)
}

// QueueStats reports how many unfinished jobs sit in each status.
type QueueStats map[string]int64

// QueueStats returns the account's live queue counts.
func (c *Client) QueueStats(ctx context.Context) (QueueStats, error) {
	var resp struct {
		Stats QueueStats `json:"stats"`
	}
	if err := c.ask(ctx, &askRequest{method: http.MethodGet, path: "/job/queue_stats"}, &resp); err != nil {
		return nil, err
	}
	return resp.Stats, nil
}

// Invoice aggregates one day of usage.
type Invoice struct {
	Date        string  `json:"date"`
	JobCount    int64   `json:"job_count"`
	Runtime     float64 `json:"runtime"`
	CoreSeconds float64 `json:"core_seconds"`
}

// Invoice returns the usage summary for a day, given as YYYY-MM-DD.
func (c *Client) Invoice(ctx context.Context, date string) (*Invoice, error) {
	var inv Invoice
	if err := c.ask(ctx, &askRequest{method: http.MethodGet, path: "/invoice/" + date}, &inv); err != nil {
		return nil, err
	}
	return &inv, nil
}

// Finished reports whether the job has reached a finished status.
func (j *Job) Finished() bool {
	for _, s := range FinishedStatuses {
		if j.Status == s {
			return true
		}
	}
	return false
}

// Update refreshes the job from the service.
func (j *Job) Update(ctx context.Context) error {
	fresh, err := j.client.Job(ctx, j.JID)
	if err != nil {
		return err
	}
	client := j.client
	*j = *fresh
	j.client = client
	return nil
}

// Wait blocks until the job finishes. Use the context for deadlines.
func (j *Job) Wait(ctx context.Context) error {
	return j.WaitStatus(ctx, FinishedStatuses...)
}

// maxPollPeriod caps the wait poll interval; it starts at a second and
// grows by half a second per poll.
const maxPollPeriod = 10 * time.Second

// WaitStatus blocks until the job reaches one of the given statuses.
func (j *Job) WaitStatus(ctx context.Context, statuses ...string) error {
	period := time.Second
	for {
		for _, s := range statuses {
			if j.Status == s {
				return nil
			}
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(period):
		}
		if period < maxPollPeriod {
			period += 500 * time.Millisecond
		}
		if err := j.Update(ctx); err != nil {
			return err
		}
	}
}

// Kill terminates the job.
func (j *Job) Kill(ctx context.Context) error {
	return j.client.KillJobs(ctx, j.JID)
}

// Result waits for the job to finish and returns its raw result bytes.
// A job that finished any way other than done yields a *JobError
// carrying its stderr.
func (j *Job) Result(ctx context.Context) ([]byte, error) {
	if err := j.Wait(ctx); err != nil {
		return nil, err
	}
	if j.Status != StatusDone {
		return nil, &JobError{JID: j.JID, Status: j.Status, Stderr: j.Stderr}
	}
	return j.RawResult, nil
}

// ResultInto waits for the result and decodes it into out. Function
// results decode from JSON; any result can be taken raw into a *[]byte.
func (j *Job) ResultInto(ctx context.Context, out interface{}) error {
	res, err := j.Result(ctx)
	if err != nil {
		return err
	}
	if raw, ok := out.(*[]byte); ok {
		*raw = res
		return nil
	}
	if j.ResultType != ResultTypeJSON {
		return fmt.Errorf("result type %q does not decode into %T, use *[]byte", j.ResultType, out)
	}
	return json.Unmarshal(res, out)
}
