// Package tychoconfig assembles Tycho's EngineConfig once at startup from
// environment variables and tycho.yaml, following the teacher's getEnv /
// getEnvInt convention of cmd/main.go. No package-level mutable config is
// kept; the config is threaded explicitly as Design Notes §9 requires.
package tychoconfig

import (
	"os"
	"os/exec"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/stevencox/tycho/internal/logger"
)

// DevPhase selects the three-way switch described in SUPPLEMENTED FEATURES.
type DevPhase string

const (
	// DevPhaseProd is the normal path: real orchestrator client, default
	// volumes injected.
	DevPhaseProd DevPhase = "prod"
	// DevPhaseTest skips default-volume injection per §4.2.
	DevPhaseTest DevPhase = "test"
	// DevPhaseStub wires the driver to an in-memory fake orchestrator
	// client, for exercising C2/C3 without a real cluster.
	DevPhaseStub DevPhase = "stub"
)

// VolumeConventions holds the default-volume templating tokens §4.2 names.
type VolumeConventions struct {
	StdNFSPVC      string
	ParentDir      string
	SubpathDir     string
	SharedDir      string
	CreateHomeDirs bool
}

// EngineConfig is the single explicit context object threaded through every
// component, replacing the source's module-level config dict.
type EngineConfig struct {
	Namespace       string
	DevPhase        DevPhase
	OnMinikube      bool
	PlatformIP      string // resolved once at startup when OnMinikube is true
	RunAsRoot       bool
	ServiceAccount  string
	DockstoreBranch string
	Volumes         VolumeConventions

	TemplateDirs []string // search path, first match wins
	RegistryPath string   // app-registry.yaml
	PlatformPath string   // tycho.yaml

	RedisEnabled bool
	RedisAddr    string

	LogLevel  string
	LogPretty bool

	HTTPAddr string
}

// PlatformDefaults is the shape of tycho.yaml.
type PlatformDefaults struct {
	Compute struct {
		Platform struct {
			Kube struct {
				Namespace string `yaml:"namespace"`
				IP        string `yaml:"ip"`
			} `yaml:"kube"`
		} `yaml:"platform"`
	} `yaml:"compute"`
	Volumes struct {
		StdNFSPVC  string `yaml:"stdnfs_pvc"`
		ParentDir  string `yaml:"parent_dir"`
		SubpathDir string `yaml:"subpath_dir"`
		SharedDir  string `yaml:"shared_dir"`
	} `yaml:"volumes"`
	TemplateDirs []string `yaml:"template_dirs"`
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return defaultValue
	}
	return parsed
}

// Load assembles an EngineConfig from the environment and, if present, the
// platform defaults file.
func Load() (*EngineConfig, error) {
	cfg := &EngineConfig{
		Namespace:       getEnv("NAMESPACE", "default"),
		DevPhase:        DevPhase(getEnv("DEV_PHASE", "prod")),
		OnMinikube:      getEnvBool("TYCHO_ON_MINIKUBE", false),
		RunAsRoot:       getEnvBool("RUNASROOT", false),
		DockstoreBranch: getEnv("DOCKSTORE_APPS_BRANCH", "master"),
		Volumes: VolumeConventions{
			StdNFSPVC:      getEnv("STDNFS_PVC", "stdnfs"),
			ParentDir:      getEnv("PARENT_DIR", "/home"),
			SubpathDir:     getEnv("SUBPATH_DIR", ""),
			SharedDir:      getEnv("SHARED_DIR", "/shared"),
			CreateHomeDirs: getEnvBool("CREATE_HOME_DIRS", true),
		},
		TemplateDirs: []string{getEnv("TYCHO_TEMPLATE_DIR", ""), "templates"},
		RegistryPath: getEnv("TYCHO_REGISTRY_PATH", "conf/app-registry.yaml"),
		PlatformPath: getEnv("TYCHO_PLATFORM_PATH", "conf/tycho.yaml"),
		RedisEnabled: getEnvBool("TYCHO_REGISTRY_REDIS_ENABLED", false),
		RedisAddr:    getEnv("TYCHO_REDIS_ADDR", "localhost:6379"),
		LogLevel:     getEnv("TYCHO_LOG_LEVEL", "info"),
		LogPretty:    getEnvBool("TYCHO_LOG_PRETTY", false),
		HTTPAddr:     getEnv("TYCHO_HTTP_ADDR", ":8080"),
	}

	if data, err := os.ReadFile(cfg.PlatformPath); err == nil {
		var defaults PlatformDefaults
		if err := yaml.Unmarshal(data, &defaults); err == nil {
			if defaults.Compute.Platform.Kube.Namespace != "" {
				cfg.Namespace = defaults.Compute.Platform.Kube.Namespace
			}
			if defaults.Compute.Platform.Kube.IP != "" {
				cfg.PlatformIP = defaults.Compute.Platform.Kube.IP
			}
			if defaults.Volumes.StdNFSPVC != "" {
				cfg.Volumes.StdNFSPVC = defaults.Volumes.StdNFSPVC
			}
			if defaults.Volumes.ParentDir != "" {
				cfg.Volumes.ParentDir = defaults.Volumes.ParentDir
			}
			if defaults.Volumes.SubpathDir != "" {
				cfg.Volumes.SubpathDir = defaults.Volumes.SubpathDir
			}
			if defaults.Volumes.SharedDir != "" {
				cfg.Volumes.SharedDir = defaults.Volumes.SharedDir
			}
			if len(defaults.TemplateDirs) > 0 {
				cfg.TemplateDirs = append(defaults.TemplateDirs, cfg.TemplateDirs...)
			}
		}
	}

	if cfg.OnMinikube && cfg.PlatformIP == "" {
		cfg.PlatformIP = discoverMinikubeIP()
	}

	return cfg, nil
}

// discoverMinikubeIP runs `minikube ip` once at startup, per SUPPLEMENTED
// FEATURES: a resource-model improvement over shelling out on every status
// call.
func discoverMinikubeIP() string {
	out, err := exec.Command("minikube", "ip").Output()
	if err != nil {
		logger.Engine().Warn().Err(err).Msg("minikube ip discovery failed")
		return ""
	}
	ip := strings.TrimSpace(string(out))
	logger.Engine().Info().Str("ip", ip).Msg("discovered minikube platform ip")
	return ip
}
