package tychoconfig

import (
	"os"
	"path/filepath"
	"testing"
)

func TestGetEnvReturnsValueWhenSet(t *testing.T) {
	t.Setenv("TYCHO_TEST_KEY", "custom")
	if got := getEnv("TYCHO_TEST_KEY", "default"); got != "custom" {
		t.Errorf("getEnv() = %q, want %q", got, "custom")
	}
}

func TestGetEnvReturnsDefaultWhenUnset(t *testing.T) {
	os.Unsetenv("TYCHO_TEST_KEY_UNSET")
	if got := getEnv("TYCHO_TEST_KEY_UNSET", "default"); got != "default" {
		t.Errorf("getEnv() = %q, want %q", got, "default")
	}
}

func TestGetEnvBool(t *testing.T) {
	tests := []struct {
		name     string
		envValue string
		setEnv   bool
		def      bool
		want     bool
	}{
		{name: "unset uses default true", setEnv: false, def: true, want: true},
		{name: "unset uses default false", setEnv: false, def: false, want: false},
		{name: "true overrides false default", envValue: "true", setEnv: true, def: false, want: true},
		{name: "false overrides true default", envValue: "false", setEnv: true, def: true, want: false},
		{name: "unparseable falls back to default", envValue: "not-a-bool", setEnv: true, def: true, want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			key := "TYCHO_TEST_BOOL"
			if tt.setEnv {
				t.Setenv(key, tt.envValue)
			} else {
				os.Unsetenv(key)
			}
			if got := getEnvBool(key, tt.def); got != tt.want {
				t.Errorf("getEnvBool() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestLoadAppliesEnvironmentOverrides(t *testing.T) {
	t.Setenv("NAMESPACE", "custom-ns")
	t.Setenv("DEV_PHASE", "stub")
	t.Setenv("STDNFS_PVC", "custom-pvc")
	t.Setenv("TYCHO_PLATFORM_PATH", filepath.Join(t.TempDir(), "missing-tycho.yaml"))

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Namespace != "custom-ns" {
		t.Errorf("Namespace = %q, want %q", cfg.Namespace, "custom-ns")
	}
	if cfg.DevPhase != DevPhaseStub {
		t.Errorf("DevPhase = %q, want %q", cfg.DevPhase, DevPhaseStub)
	}
	if cfg.Volumes.StdNFSPVC != "custom-pvc" {
		t.Errorf("StdNFSPVC = %q, want %q", cfg.Volumes.StdNFSPVC, "custom-pvc")
	}
}

func TestLoadMergesPlatformDefaultsFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tycho.yaml")
	content := "compute:\n  platform:\n    kube:\n      namespace: from-file\n      ip: 10.1.2.3\nvolumes:\n  stdnfs_pvc: file-pvc\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write platform defaults: %v", err)
	}

	t.Setenv("TYCHO_PLATFORM_PATH", path)
	t.Setenv("NAMESPACE", "default")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Namespace != "from-file" {
		t.Errorf("Namespace = %q, want %q", cfg.Namespace, "from-file")
	}
	if cfg.PlatformIP != "10.1.2.3" {
		t.Errorf("PlatformIP = %q, want %q", cfg.PlatformIP, "10.1.2.3")
	}
	if cfg.Volumes.StdNFSPVC != "file-pvc" {
		t.Errorf("StdNFSPVC = %q, want %q", cfg.Volumes.StdNFSPVC, "file-pvc")
	}
}

func TestLoadLeavesDefaultsWhenPlatformFileMissing(t *testing.T) {
	t.Setenv("TYCHO_PLATFORM_PATH", filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	t.Setenv("NAMESPACE", "default")
	t.Setenv("STDNFS_PVC", "stdnfs")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Volumes.StdNFSPVC != "stdnfs" {
		t.Errorf("StdNFSPVC = %q, want %q", cfg.Volumes.StdNFSPVC, "stdnfs")
	}
}
