package driver

import (
	"context"
	"sync"

	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"

	"github.com/stevencox/tycho/internal/tycho/model"
)

// StubClient is an in-memory Client used when DEV_PHASE=stub, so C2/C3 can
// be exercised end to end without a reachable cluster.
type StubClient struct {
	mu          sync.Mutex
	deployments map[string]appsv1.Deployment
	services    map[string]corev1.Service
}

// NewStubClient builds an empty in-memory fabric.
func NewStubClient() *StubClient {
	return &StubClient{
		deployments: map[string]appsv1.Deployment{},
		services:    map[string]corev1.Service{},
	}
}

func (c *StubClient) ApplyPVC(ctx context.Context, namespace string, doc map[string]interface{}) error {
	return nil
}

func (c *StubClient) ApplyPV(ctx context.Context, doc map[string]interface{}) error {
	return nil
}

func (c *StubClient) ApplyDeployment(ctx context.Context, namespace string, doc map[string]interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	name, _ := nestedString(doc, "metadata", "name")
	labels := nestedStringMap(doc, "metadata", "labels")
	replicas := int32(1)

	c.deployments[name] = appsv1.Deployment{
		ObjectMeta: metav1.ObjectMeta{Name: name, Namespace: namespace, Labels: labels},
		Spec:       appsv1.DeploymentSpec{Replicas: &replicas},
	}
	return nil
}

func (c *StubClient) ApplyNetworkPolicy(ctx context.Context, namespace string, doc map[string]interface{}) error {
	return nil
}

func (c *StubClient) ApplyService(ctx context.Context, namespace string, doc map[string]interface{}) (string, int32, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	name, _ := nestedString(doc, "metadata", "name")
	labels := nestedStringMap(doc, "metadata", "labels")

	c.services[name] = corev1.Service{
		ObjectMeta: metav1.ObjectMeta{Name: name, Namespace: namespace, Labels: labels},
	}
	return "127.0.0.1", 30000, nil
}

func (c *StubClient) ListDeployments(ctx context.Context, namespace, labelSelector string) ([]appsv1.Deployment, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	sel := parseSelector(labelSelector)
	var result []appsv1.Deployment
	for _, d := range c.deployments {
		if matchesSelector(d.Labels, sel) {
			result = append(result, d)
		}
	}
	return result, nil
}

func (c *StubClient) ListServicesByLabel(ctx context.Context, namespace, labelSelector string) ([]corev1.Service, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	sel := parseSelector(labelSelector)
	var result []corev1.Service
	for _, s := range c.services {
		if matchesSelector(s.Labels, sel) {
			result = append(result, s)
		}
	}
	return result, nil
}

func (c *StubClient) DeleteServicesByLabel(ctx context.Context, namespace, guid string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for name, s := range c.services {
		if s.Labels[model.LabelGUID] == guid {
			delete(c.services, name)
		}
	}
	return nil
}

func (c *StubClient) DeleteDeploymentsByLabel(ctx context.Context, namespace, guid string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for name, d := range c.deployments {
		if d.Labels[model.LabelGUID] == guid {
			delete(c.deployments, name)
		}
	}
	return nil
}

func (c *StubClient) DeleteReplicaSetsByLabel(ctx context.Context, namespace, guid string) error {
	return nil
}

func (c *StubClient) DeletePodsByLabel(ctx context.Context, namespace, guid string) error {
	return nil
}

func (c *StubClient) DeletePVCsByLabel(ctx context.Context, namespace, guid string) error {
	return nil
}

func (c *StubClient) DeletePVsByLabel(ctx context.Context, guid string) error {
	return nil
}

func (c *StubClient) DeleteNetworkPoliciesByLabel(ctx context.Context, namespace, guid string) error {
	return nil
}

func (c *StubClient) PatchDeployment(ctx context.Context, namespace, name string, patch []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	d, ok := c.deployments[name]
	if !ok {
		return nil
	}
	d.Namespace = namespace
	c.deployments[name] = d
	return nil
}

func nestedString(doc map[string]interface{}, path ...string) (string, bool) {
	cur := interface{}(doc)
	for _, p := range path {
		m, ok := cur.(map[string]interface{})
		if !ok {
			return "", false
		}
		cur, ok = m[p]
		if !ok {
			return "", false
		}
	}
	s, ok := cur.(string)
	return s, ok
}

func nestedStringMap(doc map[string]interface{}, path ...string) map[string]string {
	cur := interface{}(doc)
	for _, p := range path {
		m, ok := cur.(map[string]interface{})
		if !ok {
			return nil
		}
		cur, ok = m[p]
		if !ok {
			return nil
		}
	}
	raw, ok := cur.(map[string]interface{})
	if !ok {
		return nil
	}
	out := map[string]string{}
	for k, v := range raw {
		if s, ok := v.(string); ok {
			out[k] = s
		}
	}
	return out
}
