package vac

// jobRequest is the wire form of one submission entry.
type jobRequest struct {
	Cmd          string            `json:"cmd"`
	Core         string            `json:"core,omitempty"`
	Multicore    int               `json:"multicore,omitempty"`
	Name         string            `json:"name,omitempty"`
	Env          map[string]string `json:"env,omitempty"`
	Tags         map[string]string `json:"tags,omitempty"`
	Volumes      []string          `json:"vol,omitempty"`
	Layer        string            `json:"layer,omitempty"`
	LayerRW      bool              `json:"layer_rw,omitempty"`
	DependsOn    []int64           `json:"depends_on,omitempty"`
	ResultSource string            `json:"result_source,omitempty"`
	ResultType   string            `json:"result_type,omitempty"`
	MaxRuntime   int               `json:"max_runtime,omitempty"`
	Restartable  *bool             `json:"restartable,omitempty"`
	Stdin        []byte            `json:"stdin,omitempty"`
}

// SubmitOption adjusts one job submission.
type SubmitOption func(*jobRequest)

// WithName names the job so it can be found with JobByName.
func WithName(name string) SubmitOption {
	return func(r *jobRequest) {
		r.Name = name
	}
}

// WithCore picks the core type and how many of them the job occupies.
func WithCore(core string, multicore int) SubmitOption {
	return func(r *jobRequest) {
		r.Core = core
		if multicore > 0 {
			r.Multicore = multicore
		}
	}
}

// WithEnv sets extra environment variables for the command.
func WithEnv(env map[string]string) SubmitOption {
	return func(r *jobRequest) {
		if r.Env == nil {
			r.Env = map[string]string{}
		}
		for k, v := range env {
			r.Env[k] = v
		}
	}
}

// WithTags attaches free-form tags to the job.
func WithTags(tags map[string]string) SubmitOption {
	return func(r *jobRequest) {
		if r.Tags == nil {
			r.Tags = map[string]string{}
		}
		for k, v := range tags {
			r.Tags[k] = v
		}
	}
}

// WithVolumes mounts the named volumes into the job.
func WithVolumes(names ...string) SubmitOption {
	return func(r *jobRequest) {
		r.Volumes = append(r.Volumes, names...)
	}
}

// WithLayer mounts the named layer read-only.
func WithLayer(name string) SubmitOption {
	return func(r *jobRequest) {
		r.Layer = name
		r.LayerRW = false
	}
}

// WithLayerRW mounts the named layer writable, as a layer modification
// session does.
func WithLayerRW(name string) SubmitOption {
	return func(r *jobRequest) {
		r.Layer = name
		r.LayerRW = true
	}
}

// WithDependsOn holds the job until the given jobs have finished.
func WithDependsOn(jids ...int64) SubmitOption {
	return func(r *jobRequest) {
		r.DependsOn = append(r.DependsOn, jids...)
	}
}

// WithStdin feeds the command's standard input.
func WithStdin(stdin []byte) SubmitOption {
	return func(r *jobRequest) {
		r.Stdin = stdin
	}
}

// WithResultSource sets where the result is collected from: "stdout" or
// "file:<path>" relative to the job workspace.
func WithResultSource(source string) SubmitOption {
	return func(r *jobRequest) {
		r.ResultSource = source
	}
}

// WithResultType declares how the result bytes are encoded.
func WithResultType(resultType string) SubmitOption {
	return func(r *jobRequest) {
		r.ResultType = resultType
	}
}

// WithMaxRuntime kills the job after the given number of minutes.
func WithMaxRuntime(minutes int) SubmitOption {
	return func(r *jobRequest) {
		r.MaxRuntime = minutes
	}
}

// WithRestartable marks whether the job may be requeued after a worker
// crash. Jobs with external side effects should pass false.
func WithRestartable(restartable bool) SubmitOption {
	return func(r *jobRequest) {
		r.Restartable = &restartable
	}
}
