// Package artifact drives the external packaging tools (a helm-equivalent
// CLI and an hdarctl-equivalent CLI) that install, upgrade, and uninstall a
// service's artifact on the federation control plane.
package artifact

import (
	"bytes"
	"context"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/nimbusmesh/smo/internal/apierr"
)

// Driver installs, upgrades, and uninstalls service artifacts via subprocess
// calls to the configured helm and hdarctl binaries.
type Driver struct {
	helmBin        string
	hdarctlBin     string
	kubeconfigPath string
}

// NewDriver creates a Driver targeting the given binaries and the
// federation control plane kubeconfig.
func NewDriver(helmBin, hdarctlBin, kubeconfigPath string) *Driver {
	return &Driver{helmBin: helmBin, hdarctlBin: hdarctlBin, kubeconfigPath: kubeconfigPath}
}

// Install performs a fresh deploy of a service's artifact.
func (d *Driver) Install(ctx context.Context, serviceName, artifactRef string, valuesOverwrite map[string]interface{}) error {
	return d.helm(ctx, "install", serviceName, artifactRef, valuesOverwrite)
}

// Upgrade re-applies a service's artifact with --reuse-values semantics:
// the stored overrides layered on prior release values.
func (d *Driver) Upgrade(ctx context.Context, serviceName, artifactRef string, valuesOverwrite map[string]interface{}) error {
	return d.helm(ctx, "upgrade", serviceName, artifactRef, valuesOverwrite)
}

// Uninstall tears down a service's artifact.
func (d *Driver) Uninstall(ctx context.Context, serviceName string) error {
	cmd := exec.CommandContext(ctx, d.helmBin, "uninstall", serviceName, "--kubeconfig", d.kubeconfigPath)
	return run(cmd)
}

func (d *Driver) helm(ctx context.Context, command, serviceName, artifactRef string, valuesOverwrite map[string]interface{}) error {
	valuesPath, cleanup, err := writeValuesFile(valuesOverwrite)
	if err != nil {
		return err
	}
	defer cleanup()

	args := []string{command, serviceName, artifactRef, "--values", valuesPath, "--kubeconfig", d.kubeconfigPath}
	if command == "upgrade" {
		args = append(args, "--reuse-values")
	}

	cmd := exec.CommandContext(ctx, d.helmBin, args...)
	return run(cmd)
}

// PullDescriptor invokes hdarctl to pull and untar an artifact, returning
// the raw bytes of the first YAML/YML file found inside.
func (d *Driver) PullDescriptor(ctx context.Context, artifactRef string) ([]byte, error) {
	dir, err := os.MkdirTemp("", "smo-artifact-*")
	if err != nil {
		return nil, fmt.Errorf("creating temp dir: %w", err)
	}
	defer os.RemoveAll(dir)

	cmd := exec.CommandContext(ctx, d.hdarctlBin, "pull", artifactRef, "--untar", "--destination", dir)
	if err := run(cmd); err != nil {
		return nil, err
	}

	path, err := findYAMLFile(dir)
	if err != nil {
		return nil, err
	}
	return os.ReadFile(path)
}

func findYAMLFile(dir string) (string, error) {
	var found string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || found != "" {
			return nil
		}
		ext := strings.ToLower(filepath.Ext(path))
		if ext == ".yaml" || ext == ".yml" {
			found = path
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("%w: walking artifact directory: %v", apierr.ErrDescriptorParse, err)
	}
	if found == "" {
		return "", fmt.Errorf("%w: no YAML descriptor found in pulled artifact", apierr.ErrDescriptorParse)
	}
	return found, nil
}

// writeValuesFile serializes valuesOverwrite to a scoped temp YAML file.
// The caller must invoke the returned cleanup function on every exit path.
func writeValuesFile(valuesOverwrite map[string]interface{}) (string, func(), error) {
	dir, err := os.MkdirTemp("", "smo-values-*")
	if err != nil {
		return "", func() {}, fmt.Errorf("creating temp dir: %w", err)
	}
	cleanup := func() { os.RemoveAll(dir) }

	raw, err := yaml.Marshal(valuesOverwrite)
	if err != nil {
		cleanup()
		return "", func() {}, fmt.Errorf("marshaling values_overwrite: %w", err)
	}

	path := dir + "/values.yaml"
	if err := os.WriteFile(path, raw, 0o600); err != nil {
		cleanup()
		return "", func() {}, fmt.Errorf("writing values file: %w", err)
	}

	return path, cleanup, nil
}

func run(cmd *exec.Cmd) error {
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("%w: %s: %v (stderr: %s)", apierr.ErrSubprocessFailure, cmd.String(), err, stderr.String())
	}
	return nil
}
