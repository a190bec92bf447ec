package clusterclient

import (
	"fmt"
	"path/filepath"
	"sync"
)

// Registry lazily builds and caches one Client per member cluster, keyed by
// cluster name, resolving each cluster's kubeconfig as
// "<dir>/<cluster>.kubeconfig".
type Registry struct {
	kubeconfigDir string
	namespace     string

	mu      sync.Mutex
	clients map[string]Client
}

// NewRegistry creates a cluster client Registry rooted at kubeconfigDir.
func NewRegistry(kubeconfigDir, namespace string) *Registry {
	return &Registry{
		kubeconfigDir: kubeconfigDir,
		namespace:     namespace,
		clients:       make(map[string]Client),
	}
}

// For returns the Client for the named cluster, building and caching it on
// first use.
func (r *Registry) For(cluster string) (Client, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if c, ok := r.clients[cluster]; ok {
		return c, nil
	}

	path := filepath.Join(r.kubeconfigDir, cluster+".kubeconfig")
	c, err := NewKubeClient(path, r.namespace)
	if err != nil {
		return nil, fmt.Errorf("building cluster client for %q: %w", cluster, err)
	}

	r.clients[cluster] = c
	return c, nil
}

// Preload registers a pre-built Client for a cluster, bypassing kubeconfig
// resolution. Used by tests to substitute a fake Client for For.
func (r *Registry) Preload(cluster string, c Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clients[cluster] = c
}
