// Package k8s provides the Kubernetes client connection used by the
// orchestrator driver.
//
// It wraps a typed clientset alongside a dynamic client: the driver creates
// every projected manifest document (PersistentVolumeClaim,
// PersistentVolume, Deployment, Service, NetworkPolicy) through the dynamic
// client against a fixed GVR per kind, and uses the typed clientset to
// list, delete and patch resources.
package k8s

import (
	"fmt"
	"os"
	"path/filepath"

	"k8s.io/client-go/dynamic"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
)

// Client wraps the Kubernetes clients the driver operates against.
type Client struct {
	Clientset     *kubernetes.Clientset
	DynamicClient dynamic.Interface
	Config        *rest.Config
	Namespace     string
}

// NewClient builds a Client, preferring in-cluster credentials and falling
// back to kubeconfig for out-of-cluster development.
func NewClient(namespace string) (*Client, error) {
	config, err := getConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to get kubeconfig: %w", err)
	}

	clientset, err := kubernetes.NewForConfig(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create clientset: %w", err)
	}

	dynamicClient, err := dynamic.NewForConfig(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create dynamic client: %w", err)
	}

	if namespace == "" {
		namespace = "default"
	}

	return &Client{
		Clientset:     clientset,
		DynamicClient: dynamicClient,
		Config:        config,
		Namespace:     namespace,
	}, nil
}

// getConfig returns Kubernetes config, in-cluster first, kubeconfig second.
func getConfig() (*rest.Config, error) {
	config, err := rest.InClusterConfig()
	if err == nil {
		return config, nil
	}

	kubeconfig := os.Getenv("KUBECONFIG")
	if kubeconfig == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		kubeconfig = filepath.Join(home, ".kube", "config")
	}

	config, err = clientcmd.BuildConfigFromFlags("", kubeconfig)
	if err != nil {
		return nil, fmt.Errorf("failed to build config from kubeconfig: %w", err)
	}

	return config, nil
}
