package driver

import (
	"context"
	"fmt"

	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/runtime/schema"
	"k8s.io/apimachinery/pkg/types"
	"k8s.io/client-go/dynamic"

	"github.com/stevencox/tycho/internal/k8s"
)

var (
	pvcGVR = schema.GroupVersionResource{Version: "v1", Resource: "persistentvolumeclaims"}
	pvGVR  = schema.GroupVersionResource{Version: "v1", Resource: "persistentvolumes"}
	depGVR = schema.GroupVersionResource{Group: "apps", Version: "v1", Resource: "deployments"}
	svcGVR = schema.GroupVersionResource{Version: "v1", Resource: "services"}
	npGVR  = schema.GroupVersionResource{Group: "networking.k8s.io", Version: "v1", Resource: "networkpolicies"}
)

// KubeClient is the production Client, applying generic manifest documents
// through the dynamic client against the fixed GVRs above and reading back
// well-known kinds through the typed clientset for status/list operations.
type KubeClient struct {
	k8s *k8s.Client
}

// NewKubeClient wraps an existing connection.
func NewKubeClient(c *k8s.Client) *KubeClient {
	return &KubeClient{k8s: c}
}

func toUnstructured(doc map[string]interface{}) *unstructured.Unstructured {
	return &unstructured.Unstructured{Object: doc}
}

func (c *KubeClient) apply(ctx context.Context, gvr schema.GroupVersionResource, namespace string, doc map[string]interface{}) (*unstructured.Unstructured, error) {
	obj := toUnstructured(doc)
	var ri dynamic.ResourceInterface = c.k8s.DynamicClient.Resource(gvr)
	if namespace != "" {
		ri = c.k8s.DynamicClient.Resource(gvr).Namespace(namespace)
	}
	result, err := ri.Create(ctx, obj, metav1.CreateOptions{})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (c *KubeClient) ApplyPVC(ctx context.Context, namespace string, doc map[string]interface{}) error {
	_, err := c.apply(ctx, pvcGVR, namespace, doc)
	return err
}

func (c *KubeClient) ApplyPV(ctx context.Context, doc map[string]interface{}) error {
	_, err := c.apply(ctx, pvGVR, "", doc)
	return err
}

func (c *KubeClient) ApplyDeployment(ctx context.Context, namespace string, doc map[string]interface{}) error {
	_, err := c.apply(ctx, depGVR, namespace, doc)
	return err
}

func (c *KubeClient) ApplyNetworkPolicy(ctx context.Context, namespace string, doc map[string]interface{}) error {
	_, err := c.apply(ctx, npGVR, namespace, doc)
	return err
}

func (c *KubeClient) ApplyService(ctx context.Context, namespace string, doc map[string]interface{}) (string, int32, error) {
	result, err := c.apply(ctx, svcGVR, namespace, doc)
	if err != nil {
		return "", 0, err
	}

	var svc corev1.Service
	if err := runtime.DefaultUnstructuredConverter.FromUnstructured(result.Object, &svc); err != nil {
		return "", 0, nil // created fine, just couldn't read endpoint back yet
	}
	var ip string
	var port int32
	if len(svc.Status.LoadBalancer.Ingress) > 0 {
		ip = svc.Status.LoadBalancer.Ingress[0].IP
	}
	if len(svc.Spec.Ports) > 0 {
		port = svc.Spec.Ports[0].NodePort
	}
	return ip, port, nil
}

func (c *KubeClient) ListDeployments(ctx context.Context, namespace, labelSelector string) ([]appsv1.Deployment, error) {
	list, err := c.k8s.Clientset.AppsV1().Deployments(namespace).List(ctx, metav1.ListOptions{LabelSelector: labelSelector})
	if err != nil {
		return nil, err
	}
	return list.Items, nil
}

func (c *KubeClient) ListServicesByLabel(ctx context.Context, namespace, labelSelector string) ([]corev1.Service, error) {
	list, err := c.k8s.Clientset.CoreV1().Services(namespace).List(ctx, metav1.ListOptions{LabelSelector: labelSelector})
	if err != nil {
		return nil, err
	}
	return list.Items, nil
}

// DeleteServicesByLabel enumerates and deletes individually: there is no
// collection-delete endpoint for Service in Kubernetes (§4.4 Delete).
func (c *KubeClient) DeleteServicesByLabel(ctx context.Context, namespace, guid string) error {
	services, err := c.ListServicesByLabel(ctx, namespace, labelSelector(guid))
	if err != nil {
		return err
	}
	for _, svc := range services {
		if err := c.k8s.Clientset.CoreV1().Services(namespace).Delete(ctx, svc.Name, metav1.DeleteOptions{}); err != nil {
			return err
		}
	}
	return nil
}

func (c *KubeClient) DeleteDeploymentsByLabel(ctx context.Context, namespace, guid string) error {
	return c.k8s.Clientset.AppsV1().Deployments(namespace).DeleteCollection(ctx, metav1.DeleteOptions{}, metav1.ListOptions{LabelSelector: labelSelector(guid)})
}

func (c *KubeClient) DeleteReplicaSetsByLabel(ctx context.Context, namespace, guid string) error {
	return c.k8s.Clientset.AppsV1().ReplicaSets(namespace).DeleteCollection(ctx, metav1.DeleteOptions{}, metav1.ListOptions{LabelSelector: labelSelector(guid)})
}

func (c *KubeClient) DeletePodsByLabel(ctx context.Context, namespace, guid string) error {
	return c.k8s.Clientset.CoreV1().Pods(namespace).DeleteCollection(ctx, metav1.DeleteOptions{}, metav1.ListOptions{LabelSelector: labelSelector(guid)})
}

func (c *KubeClient) DeletePVCsByLabel(ctx context.Context, namespace, guid string) error {
	return c.k8s.Clientset.CoreV1().PersistentVolumeClaims(namespace).DeleteCollection(ctx, metav1.DeleteOptions{}, metav1.ListOptions{LabelSelector: labelSelector(guid)})
}

func (c *KubeClient) DeletePVsByLabel(ctx context.Context, guid string) error {
	return c.k8s.Clientset.CoreV1().PersistentVolumes().DeleteCollection(ctx, metav1.DeleteOptions{}, metav1.ListOptions{LabelSelector: labelSelector(guid)})
}

func (c *KubeClient) DeleteNetworkPoliciesByLabel(ctx context.Context, namespace, guid string) error {
	return c.k8s.Clientset.NetworkingV1().NetworkPolicies(namespace).DeleteCollection(ctx, metav1.DeleteOptions{}, metav1.ListOptions{LabelSelector: labelSelector(guid)})
}

func (c *KubeClient) PatchDeployment(ctx context.Context, namespace, name string, patch []byte) error {
	_, err := c.k8s.Clientset.AppsV1().Deployments(namespace).Patch(ctx, name, types.StrategicMergePatchType, patch, metav1.PatchOptions{})
	return err
}

func labelSelector(guid string) string {
	return fmt.Sprintf("tycho-guid=%s", guid)
}
