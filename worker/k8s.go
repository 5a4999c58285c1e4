package worker

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/multyvac/vac/config"
	"github.com/multyvac/vac/helpers"
	"github.com/multyvac/vac/models"

	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/util/wait"
)

// KubeRunner executes jobs as kubernetes batch jobs in the configured
// namespace. Pods take no stdin and expose no shared filesystem, so
// this backend only supports stdout results and rejects volume and
// layer mounts; the payload reaches the pod through VAC_STDIN.
type KubeRunner struct {
	Kube config.KubeConfig
}

func (r *KubeRunner) Run(ctx context.Context, spec *RunSpec) (*RunResult, error) {
	job := spec.Job

	if len(spec.Mounts) > 0 {
		return nil, fmt.Errorf("volumes and layers are not supported by the kubernetes executor")
	}
	if strings.HasPrefix(job.ResultSource, models.ResultSourceFilePrefix) {
		return nil, fmt.Errorf("file result sources are not supported by the kubernetes executor")
	}

	setupStart := time.Now()
	name, err := helpers.CreateK8sJob(r.Kube, job)
	if err != nil {
		return nil, err
	}
	overhead := time.Since(setupStart)

	err = wait.PollUntilContextCancel(ctx, 2*time.Second, true,
		func(ctx context.Context) (bool, error) {
			k8sJob, err := helpers.GetK8sJob(r.Kube, name)
			if err != nil {
				return false, nil
			}
			return k8sJob.Status.Succeeded > 0 || k8sJob.Status.Failed > 0, nil
		})
	if err != nil {
		// Killed or timed out: reap the kubernetes job with its pods.
		_ = helpers.DeleteK8sJob(r.Kube, name)
		return &RunResult{Killed: true, ReturnCode: -1, Overhead: overhead}, nil
	}

	res := &RunResult{Overhead: overhead, ReturnCode: -1}

	pods, err := helpers.ListJobPods(r.Kube, job.JID)
	if err != nil || len(pods.Items) == 0 {
		return nil, fmt.Errorf("no pods found for job %d", job.JID)
	}
	pod := pods.Items[len(pods.Items)-1]

	logs, err := helpers.GetLogs(r.Kube, pod.Name)
	if err != nil {
		return nil, fmt.Errorf("fetching pod logs: %w", err)
	}
	res.Stdout = logs
	res.Result = []byte(logs)
	res.ReturnCode = podExitCode(&pod)

	return res, nil
}

func podExitCode(pod *corev1.Pod) int {
	for _, status := range pod.Status.ContainerStatuses {
		if status.State.Terminated != nil {
			return int(status.State.Terminated.ExitCode)
		}
	}
	return -1
}
