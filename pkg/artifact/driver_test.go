package artifact

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// fakeBin writes an executable shell script to dir/name and returns its path.
func fakeBin(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	script := "#!/bin/sh\n" + body + "\n"
	if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
		t.Fatalf("writing fake binary %s: %v", name, err)
	}
	return path
}

func TestInstallSucceeds(t *testing.T) {
	dir := t.TempDir()
	helm := fakeBin(t, dir, "helm", "exit 0")

	d := NewDriver(helm, "", "/tmp/kubeconfig")
	err := d.Install(context.Background(), "svc-a", "oci://example/svc-a:1", map[string]interface{}{"replicas": 1})
	if err != nil {
		t.Fatalf("Install returned error: %v", err)
	}
}

func TestUpgradePassesReuseValues(t *testing.T) {
	dir := t.TempDir()
	marker := filepath.Join(dir, "args.txt")
	helm := fakeBin(t, dir, "helm", `echo "$@" > `+marker+`
exit 0`)

	d := NewDriver(helm, "", "/tmp/kubeconfig")
	if err := d.Upgrade(context.Background(), "svc-a", "oci://example/svc-a:2", nil); err != nil {
		t.Fatalf("Upgrade returned error: %v", err)
	}

	got, err := os.ReadFile(marker)
	if err != nil {
		t.Fatalf("reading recorded args: %v", err)
	}
	if !strings.Contains(string(got), "--reuse-values") {
		t.Errorf("Upgrade args = %q, want --reuse-values present", got)
	}
	if !strings.Contains(string(got), "upgrade") {
		t.Errorf("Upgrade args = %q, want upgrade subcommand present", got)
	}
}

func TestInstallFailureCarriesStderr(t *testing.T) {
	dir := t.TempDir()
	helm := fakeBin(t, dir, "helm", `echo "chart not found" >&2
exit 1`)

	d := NewDriver(helm, "", "/tmp/kubeconfig")
	err := d.Install(context.Background(), "svc-a", "oci://example/missing:1", nil)
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if !strings.Contains(err.Error(), "chart not found") {
		t.Errorf("error = %q, want captured stderr included", err)
	}
}

func TestUninstallSucceeds(t *testing.T) {
	dir := t.TempDir()
	helm := fakeBin(t, dir, "helm", "exit 0")

	d := NewDriver(helm, "", "/tmp/kubeconfig")
	if err := d.Uninstall(context.Background(), "svc-a"); err != nil {
		t.Fatalf("Uninstall returned error: %v", err)
	}
}

func TestPullDescriptorFindsYAML(t *testing.T) {
	binDir := t.TempDir()
	hdarctl := fakeBin(t, binDir, "hdarctl", `
dest=""
prev=""
for arg in "$@"; do
  if [ "$prev" = "--destination" ]; then
    dest="$arg"
  fi
  prev="$arg"
done
mkdir -p "$dest/nested"
echo "hdaGraph:" > "$dest/nested/descriptor.yaml"
echo "  id: demo" >> "$dest/nested/descriptor.yaml"
exit 0`)

	d := NewDriver("", hdarctl, "/tmp/kubeconfig")
	raw, err := d.PullDescriptor(context.Background(), "oci://example/demo:1")
	if err != nil {
		t.Fatalf("PullDescriptor returned error: %v", err)
	}
	if !strings.Contains(string(raw), "hdaGraph") {
		t.Errorf("PullDescriptor content = %q, want hdaGraph present", raw)
	}
}

func TestPullDescriptorFailsWhenNoYAMLFound(t *testing.T) {
	binDir := t.TempDir()
	hdarctl := fakeBin(t, binDir, "hdarctl", "exit 0")

	d := NewDriver("", hdarctl, "/tmp/kubeconfig")
	_, err := d.PullDescriptor(context.Background(), "oci://example/empty:1")
	if err == nil {
		t.Fatal("expected error for missing descriptor, got nil")
	}
}
