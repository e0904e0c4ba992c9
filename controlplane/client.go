// Package controlplane implements the cluster operations the agent is allowed
// to perform, on top of client-go.
package controlplane

import (
	"context"
	"fmt"
	"os"
	"sort"

	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/api/resource"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
	"k8s.io/client-go/util/retry"
)

type Kube struct {
	client kubernetes.Interface
}

func NewKube(client kubernetes.Interface) *Kube {
	return &Kube{client: client}
}

// BuildClient resolves the kubeconfig from the flag, $KUBECONFIG, in-cluster
// config, then ~/.kube/config.
func BuildClient(kubeconfigPath string) (kubernetes.Interface, error) {
	var config *rest.Config
	var err error
	if kubeconfigPath != "" {
		config, err = clientcmd.BuildConfigFromFlags("", kubeconfigPath)
	} else if k := os.Getenv("KUBECONFIG"); k != "" {
		config, err = clientcmd.BuildConfigFromFlags("", k)
	} else {
		config, err = rest.InClusterConfig()
		if err != nil {
			config, err = clientcmd.BuildConfigFromFlags("", os.Getenv("HOME")+"/.kube/config")
		}
	}
	if err != nil {
		return nil, fmt.Errorf("kubeconfig error: %w", err)
	}
	return kubernetes.NewForConfig(config)
}

func (k *Kube) ListPods(ctx context.Context, namespace string) ([]corev1.Pod, error) {
	pods, err := k.client.CoreV1().Pods(namespace).List(ctx, metav1.ListOptions{})
	if err != nil {
		return nil, fmt.Errorf("list pods: %w", err)
	}
	return pods.Items, nil
}

func (k *Kube) Logs(ctx context.Context, pod, namespace string, tailLines int64) (string, error) {
	req := k.client.CoreV1().Pods(namespace).GetLogs(pod, &corev1.PodLogOptions{TailLines: &tailLines})
	data, err := req.DoRaw(ctx)
	if err != nil {
		return "", fmt.Errorf("get logs %s/%s: %w", namespace, pod, err)
	}
	return string(data), nil
}

func (k *Kube) Describe(ctx context.Context, pod, namespace string) (string, error) {
	p, err := k.client.CoreV1().Pods(namespace).Get(ctx, pod, metav1.GetOptions{})
	if err != nil {
		return "", fmt.Errorf("get pod %s/%s: %w", namespace, pod, err)
	}
	var node *NodeSnapshot
	if p.Spec.NodeName != "" {
		if n, err := k.client.CoreV1().Nodes().Get(ctx, p.Spec.NodeName, metav1.GetOptions{}); err == nil {
			node = buildNodeSnapshot(n)
		}
	}
	return describePod(p, node), nil
}

func (k *Kube) Events(ctx context.Context, pod, namespace string) (string, error) {
	list, err := k.client.CoreV1().Events(namespace).List(ctx, metav1.ListOptions{
		FieldSelector: "involvedObject.name=" + pod,
	})
	if err != nil {
		return "", fmt.Errorf("list events %s/%s: %w", namespace, pod, err)
	}
	events := make([]corev1.Event, 0, len(list.Items))
	for _, e := range list.Items {
		if e.InvolvedObject.Name == pod {
			events = append(events, e)
		}
	}
	sort.SliceStable(events, func(i, j int) bool {
		return events[i].LastTimestamp.Before(&events[j].LastTimestamp)
	})
	return formatEvents(events), nil
}

func (k *Kube) DeletePod(ctx context.Context, pod, namespace string) error {
	if err := k.client.CoreV1().Pods(namespace).Delete(ctx, pod, metav1.DeleteOptions{}); err != nil {
		return fmt.Errorf("delete pod %s/%s: %w", namespace, pod, err)
	}
	return nil
}

// PatchEnv sets the variables on every container of the deployment, replacing
// existing values and appending new names.
func (k *Kube) PatchEnv(ctx context.Context, deployment, namespace string, vars map[string]string) error {
	names := make([]string, 0, len(vars))
	for n := range vars {
		names = append(names, n)
	}
	sort.Strings(names)
	return k.updateDeployment(ctx, deployment, namespace, func(d *appsv1.Deployment) error {
		containers := d.Spec.Template.Spec.Containers
		for i := range containers {
			c := &containers[i]
			for _, name := range names {
				found := false
				for j := range c.Env {
					if c.Env[j].Name == name {
						c.Env[j].Value = vars[name]
						c.Env[j].ValueFrom = nil
						found = true
						break
					}
				}
				if !found {
					c.Env = append(c.Env, corev1.EnvVar{Name: name, Value: vars[name]})
				}
			}
		}
		return nil
	})
}

// PatchMemoryLimit sets the memory limit on every container and the request to 80% of it.
func (k *Kube) PatchMemoryLimit(ctx context.Context, deployment, namespace, newLimit string) error {
	limit, err := resource.ParseQuantity(newLimit)
	if err != nil {
		return fmt.Errorf("invalid memory limit %q: %w", newLimit, err)
	}
	request := MemoryRequestFor(limit)
	return k.updateDeployment(ctx, deployment, namespace, func(d *appsv1.Deployment) error {
		containers := d.Spec.Template.Spec.Containers
		for i := range containers {
			res := &containers[i].Resources
			if res.Limits == nil {
				res.Limits = corev1.ResourceList{}
			}
			if res.Requests == nil {
				res.Requests = corev1.ResourceList{}
			}
			res.Limits[corev1.ResourceMemory] = limit.DeepCopy()
			res.Requests[corev1.ResourceMemory] = request.DeepCopy()
		}
		return nil
	})
}

// SetImage points every container of the deployment at image.
func (k *Kube) SetImage(ctx context.Context, deployment, namespace, image string) error {
	return k.updateDeployment(ctx, deployment, namespace, func(d *appsv1.Deployment) error {
		containers := d.Spec.Template.Spec.Containers
		for i := range containers {
			containers[i].Image = image
		}
		return nil
	})
}

func (k *Kube) updateDeployment(ctx context.Context, name, namespace string, mutate func(*appsv1.Deployment) error) error {
	err := retry.RetryOnConflict(retry.DefaultRetry, func() error {
		d, err := k.client.AppsV1().Deployments(namespace).Get(ctx, name, metav1.GetOptions{})
		if err != nil {
			return err
		}
		if err := mutate(d); err != nil {
			return err
		}
		_, err = k.client.AppsV1().Deployments(namespace).Update(ctx, d, metav1.UpdateOptions{})
		return err
	})
	if err != nil {
		return fmt.Errorf("update deployment %s/%s: %w", namespace, name, err)
	}
	return nil
}

// MemoryRequestFor returns 80% of limit, kept in Mi when the limit is.
func MemoryRequestFor(limit resource.Quantity) resource.Quantity {
	v := limit.Value()
	if v%(1<<20) == 0 {
		return resource.MustParse(fmt.Sprintf("%dMi", (v>>20)*8/10))
	}
	return *resource.NewQuantity(v*8/10, limit.Format)
}
