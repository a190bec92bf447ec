package clusterclient

import (
	"context"
	"fmt"

	autoscalingv1 "k8s.io/api/autoscaling/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/tools/clientcmd"

	"github.com/nimbusmesh/smo/internal/apierr"
)

// KubeClient is the client-go-backed Client implementation for one member
// cluster, addressed by its own kubeconfig file.
type KubeClient struct {
	clientset *kubernetes.Clientset
	namespace string
}

// NewKubeClient builds a KubeClient from a kubeconfig file path.
func NewKubeClient(kubeconfigPath, namespace string) (*KubeClient, error) {
	restConfig, err := clientcmd.BuildConfigFromFlags("", kubeconfigPath)
	if err != nil {
		return nil, fmt.Errorf("%w: loading kubeconfig %q: %v", apierr.ErrClusterUnavailable, kubeconfigPath, err)
	}

	clientset, err := kubernetes.NewForConfig(restConfig)
	if err != nil {
		return nil, fmt.Errorf("%w: building client for %q: %v", apierr.ErrClusterUnavailable, kubeconfigPath, err)
	}

	if namespace == "" {
		namespace = "default"
	}

	return &KubeClient{clientset: clientset, namespace: namespace}, nil
}

// GetDesiredReplicas returns the deployment's spec.replicas via its scale
// subresource.
func (c *KubeClient) GetDesiredReplicas(ctx context.Context, name string) (int, error) {
	scale, err := c.clientset.AppsV1().Deployments(c.namespace).GetScale(ctx, name, metav1.GetOptions{})
	if err != nil {
		return 0, fmt.Errorf("%w: reading desired replicas for %q: %v", apierr.ErrClusterUnavailable, name, err)
	}
	return int(scale.Spec.Replicas), nil
}

// GetReplicas returns the deployment's currently available replica count, or
// ErrUnknown while the deployment has not yet reported any.
func (c *KubeClient) GetReplicas(ctx context.Context, name string) (int, error) {
	dep, err := c.clientset.AppsV1().Deployments(c.namespace).Get(ctx, name, metav1.GetOptions{})
	if err != nil {
		if apierrors.IsNotFound(err) {
			return 0, fmt.Errorf("%w: deployment %q not found: %v", ErrUnknown, name, err)
		}
		return 0, fmt.Errorf("%w: reading replicas for %q: %v", apierr.ErrClusterUnavailable, name, err)
	}
	if dep.Status.AvailableReplicas == 0 && dep.Status.ObservedGeneration < dep.Generation {
		return 0, fmt.Errorf("%w: deployment %q not yet observed", ErrUnknown, name)
	}
	return int(dep.Status.AvailableReplicas), nil
}

// GetCPULimit returns the first container's CPU limit in cores.
func (c *KubeClient) GetCPULimit(ctx context.Context, name string) (float64, error) {
	dep, err := c.clientset.AppsV1().Deployments(c.namespace).Get(ctx, name, metav1.GetOptions{})
	if err != nil {
		return 0, fmt.Errorf("%w: reading cpu limit for %q: %v", apierr.ErrClusterUnavailable, name, err)
	}
	containers := dep.Spec.Template.Spec.Containers
	if len(containers) == 0 {
		return 0, fmt.Errorf("%w: deployment %q has no containers", apierr.ErrClusterUnavailable, name)
	}
	cpu := containers[0].Resources.Limits.Cpu()
	if cpu == nil {
		return 0, fmt.Errorf("%w: deployment %q has no cpu limit set", apierr.ErrClusterUnavailable, name)
	}
	return ParseCPULimit(cpu.String())
}

// ScaleDeployment sets the deployment's replica count via the scale
// subresource. Idempotent: re-applying the same count succeeds.
func (c *KubeClient) ScaleDeployment(ctx context.Context, name string, replicas int) error {
	scale := &autoscalingv1.Scale{
		ObjectMeta: metav1.ObjectMeta{Name: name, Namespace: c.namespace},
		Spec:       autoscalingv1.ScaleSpec{Replicas: int32(replicas)},
	}
	_, err := c.clientset.AppsV1().Deployments(c.namespace).UpdateScale(ctx, name, scale, metav1.UpdateOptions{})
	if err != nil {
		return fmt.Errorf("%w: scaling deployment %q to %d: %v", apierr.ErrClusterUnavailable, name, replicas, err)
	}
	return nil
}

var _ Client = (*KubeClient)(nil)
