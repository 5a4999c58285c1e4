package helpers

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"log"
	"strconv"

	"github.com/multyvac/vac/config"
	"github.com/multyvac/vac/models"

	batchv1 "k8s.io/api/batch/v1"
	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

func GetK8sJob(kube config.KubeConfig, name string) (*batchv1.Job, error) {
	job, err := kube.Clientset.BatchV1().Jobs(
		kube.Namespace).Get(
		context.TODO(), name, metav1.GetOptions{})

	if err != nil {
		log.Println(err)
		return nil, err
	}

	return job, nil
}

func CreateK8sJob(kube config.KubeConfig, job *models.Job) (string, error) {
	obj := K8sJobObject(kube, job)

	obj, err := kube.Clientset.BatchV1().Jobs(
		kube.Namespace).Create(
		context.TODO(), obj, metav1.CreateOptions{})

	if err != nil {
		log.Println(err)
		return "", err
	}

	return obj.Name, nil
}

func DeleteK8sJob(kube config.KubeConfig, name string) error {
	policy := metav1.DeletePropagationBackground
	err := kube.Clientset.BatchV1().Jobs(
		kube.Namespace).Delete(
		context.TODO(), name, metav1.DeleteOptions{PropagationPolicy: &policy})

	if err != nil {
		if errors.IsNotFound(err) {
			return nil
		}
		log.Println(err)
		return err
	}

	return nil
}

func ListJobPods(kube config.KubeConfig, jid int64) (*corev1.PodList, error) {
	pods, err := kube.Clientset.CoreV1().Pods(
		kube.Namespace).List(context.TODO(),
		metav1.ListOptions{LabelSelector: "vac-jid=" + strconv.FormatInt(jid, 10)})

	if err != nil {
		log.Println(err)
		return nil, err
	}

	return pods, err
}

func GetLogs(kube config.KubeConfig, podName string) (string, error) {
	podLogOpts := corev1.PodLogOptions{}

	req := kube.Clientset.CoreV1().Pods(kube.Namespace).GetLogs(podName, &podLogOpts)

	podLogs, err := req.Stream(context.TODO())
	if err != nil {
		return "", err
	}

	defer podLogs.Close()

	buf := new(bytes.Buffer)

	_, err = io.Copy(buf, podLogs)
	if err != nil {
		return "", err
	}

	return buf.String(), nil
}

func K8sJobObject(kube config.KubeConfig, job *models.Job) *batchv1.Job {
	var ttlSeconds int32 = int32(kube.JobsTTL)
	var backoffLimit int32 = 0

	return &batchv1.Job{
		ObjectMeta: metav1.ObjectMeta{
			Name:      fmt.Sprintf("vac-job-%d", job.JID),
			Namespace: kube.Namespace,
		},
		Spec: batchv1.JobSpec{
			TTLSecondsAfterFinished: &ttlSeconds,
			BackoffLimit:            &backoffLimit,
			Template: corev1.PodTemplateSpec{
				ObjectMeta: metav1.ObjectMeta{
					Labels: map[string]string{
						"vac-jid":   strconv.FormatInt(job.JID, 10),
						"vac-owner": job.OwnerID.String(),
					},
				},
				Spec: *JobPodSpec(kube, job),
			},
		},
	}
}

// JobPodSpec builds the pod running one job. Pods take no stdin, so the
// submitted payload travels base64-encoded in VAC_STDIN.
func JobPodSpec(kube config.KubeConfig, job *models.Job) *corev1.PodSpec {
	env := []corev1.EnvVar{
		{Name: "ON_MULTYVAC", Value: "true"},
		{Name: "VAC_JID", Value: strconv.FormatInt(job.JID, 10)},
	}
	if len(job.Stdin) > 0 {
		env = append(env, corev1.EnvVar{
			Name:  "VAC_STDIN",
			Value: base64.StdEncoding.EncodeToString(job.Stdin),
		})
	}
	for name, value := range job.Env {
		env = append(env, corev1.EnvVar{Name: name, Value: value})
	}

	return &corev1.PodSpec{
		RestartPolicy: corev1.RestartPolicyNever,
		Containers: []corev1.Container{
			{
				Name:            "job",
				Image:           kube.JobImage,
				ImagePullPolicy: corev1.PullIfNotPresent,
				Command: []string{
					"sh",
					"-c",
					job.Cmd,
				},
				WorkingDir: "/workspace",
				Env:        env,
			},
		},
	}
}
