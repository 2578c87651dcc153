// Package parse implements Tycho's System Model & Parser (C2): turning a
// Compose-style document plus registry overrides into the internal
// model.System, per the algorithm in §4.2.
package parse

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	tychoerrors "github.com/stevencox/tycho/internal/errors"
	"github.com/stevencox/tycho/internal/tycho/model"
	"github.com/stevencox/tycho/internal/tycho/render"
	"github.com/stevencox/tycho/internal/tychoconfig"
)

// composeDoc mirrors the subset of a docker-compose document Tycho parses.
// Field order is preserved via yaml.Node where it matters (service
// iteration order); composeService below uses plain maps since Go map
// iteration order is not guaranteed — we capture order explicitly instead.
type composeDoc struct {
	Services yaml.Node `yaml:"services"`
}

type composeService struct {
	Image           string           `yaml:"image"`
	Entrypoint      interface{}      `yaml:"entrypoint"`
	Environment     []string         `yaml:"environment"`
	Ports           []string         `yaml:"ports"`
	Expose          []string         `yaml:"expose"`
	Volumes         []string         `yaml:"volumes"`
	DependsOn       []string         `yaml:"depends_on"`
	SecurityContext map[string]int64 `yaml:"security_context"`
	Deploy          struct {
		Resources struct {
			Limits       map[string]string `yaml:"limits"`
			Reservations map[string]string `yaml:"reservations"`
		} `yaml:"resources"`
	} `yaml:"deploy"`
}

// Input bundles the parameters of the parser's public entry point, §4.2:
// parse(config, name, principal_json, compose_doc, service_account,
// env_map, services) -> System.
type Input struct {
	Config         *tychoconfig.EngineConfig
	Name           string
	Principal      model.Principal
	ComposeText    string
	ServiceAccount string
	EnvMap         map[string]string
	Services       []model.ServiceSpec // ordered service-exposure requests
	Namespace      string
	ConnString     string

	// AppID and the following overrides come from a resolved registry
	// AppMeta (§4.5 "merge per-context overrides"); applied to the
	// container whose name matches AppID. Zero values mean "no override".
	AppID              string
	AppResourceRequest map[string]string
	AppSecurityContext map[string]int64
}

// Parse builds a model.System from Input, following §4.2's five steps.
func Parse(in Input) (*model.System, error) {
	guid := strings.ReplaceAll(uuid.New().String(), "-", "")

	systemName := fmt.Sprintf("%s-%s", in.Name, guid)

	composeText := in.ComposeText
	if len(in.EnvMap) > 0 {
		envText := envMapToText(in.EnvMap)
		composeText = render.ApplyEnvironment(envText, composeText)
	}

	var doc composeDoc
	if err := yaml.Unmarshal([]byte(composeText), &doc); err != nil {
		return nil, tychoerrors.InvalidComposeErr(fmt.Sprintf("failed to parse compose document: %v", err))
	}

	names, services, err := decodeServices(doc.Services)
	if err != nil {
		return nil, err
	}

	containers := make([]*model.Container, 0, len(names))
	for _, name := range names {
		svc := services[name]
		container, err := buildContainer(in.Config, name, svc, in.EnvMap)
		if err != nil {
			return nil, err
		}
		if name == in.AppID {
			applyAppOverrides(container, in.AppResourceRequest, in.AppSecurityContext)
		}
		containers = append(containers, container)
	}

	if len(containers) == 0 {
		return nil, tychoerrors.InvalidComposeErr("compose document declares no services")
	}

	system := &model.System{
		SystemName:     in.Name,
		Identifier:     guid,
		Name:           systemName,
		Namespace:      in.Namespace,
		Principal:      in.Principal,
		ServiceAccount: in.ServiceAccount,
		Containers:     containers,
		Services:       map[string]*model.ServiceExposure{},
		SourceText:     composeText,
		Annotations:    map[string]string{},
		ConnString:     in.ConnString,
	}

	for _, spec := range in.Services {
		if !containsContainer(containers, spec.Name) {
			return nil, tychoerrors.UnknownServiceErr(spec.Name)
		}
		system.Services[spec.Name] = &model.ServiceExposure{
			Port:     spec.Port,
			Clients:  normalizeCIDRs(spec.Clients),
			Name:     fmt.Sprintf("%s-%s", spec.Name, guid),
			NameNoID: spec.Name,
		}
		system.ServiceOrder = append(system.ServiceOrder, spec.Name)
	}

	volumes, err := deriveVolumes(containers)
	if err != nil {
		return nil, err
	}
	system.Volumes = volumes

	return system, nil
}

// normalizeCIDRs widens a bare IP into a single-host CIDR ("a.b.c.d/32") so
// the NetworkPolicy ingress rule the projector emits always holds a valid
// ipBlock.cidr; entries already in CIDR form pass through unchanged.
func normalizeCIDRs(clients []string) []string {
	out := make([]string, len(clients))
	for i, c := range clients {
		if strings.Contains(c, "/") {
			out[i] = c
		} else {
			out[i] = c + "/32"
		}
	}
	return out
}

func containsContainer(containers []*model.Container, name string) bool {
	for _, c := range containers {
		if c.Name == name {
			return true
		}
	}
	return false
}

func envMapToText(env map[string]string) string {
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	for _, k := range keys {
		b.WriteString(k)
		b.WriteString("=")
		b.WriteString(env[k])
		b.WriteString("\n")
	}
	return b.String()
}

// decodeServices walks the `services` mapping node in document order,
// preserving the Compose document's declaration order as Design Notes §9
// requires.
func decodeServices(node yaml.Node) ([]string, map[string]composeService, error) {
	names := []string{}
	services := map[string]composeService{}
	if node.Kind == 0 {
		return names, services, nil
	}
	if node.Kind != yaml.MappingNode {
		return nil, nil, tychoerrors.InvalidComposeErr("services must be a mapping")
	}
	for i := 0; i+1 < len(node.Content); i += 2 {
		keyNode := node.Content[i]
		valNode := node.Content[i+1]
		var svc composeService
		if err := valNode.Decode(&svc); err != nil {
			return nil, nil, tychoerrors.InvalidComposeErr(fmt.Sprintf("service %q: %v", keyNode.Value, err))
		}
		names = append(names, keyNode.Value)
		services[keyNode.Value] = svc
	}
	return names, services, nil
}

func buildContainer(cfg *tychoconfig.EngineConfig, name string, svc composeService, envMap map[string]string) (*model.Container, error) {
	if svc.Image == "" {
		return nil, tychoerrors.InvalidComposeErr(fmt.Sprintf("service %q is missing an image", name))
	}

	command, err := normalizeEntrypoint(svc.Entrypoint)
	if err != nil {
		return nil, tychoerrors.InvalidComposeErr(fmt.Sprintf("service %q: %v", name, err))
	}

	ports, err := normalizePorts(svc.Ports)
	if err != nil {
		return nil, tychoerrors.InvalidComposeErr(fmt.Sprintf("service %q: %v", name, err))
	}

	expose, err := normalizeExpose(svc.Expose)
	if err != nil {
		return nil, tychoerrors.InvalidComposeErr(fmt.Sprintf("service %q: %v", name, err))
	}

	env := buildEnv(svc.Environment, envMap, cfg)

	volumes := make([]model.VolumeRef, 0, len(svc.Volumes))
	for _, v := range svc.Volumes {
		volumes = append(volumes, model.VolumeRef(v))
	}
	volumes = applyDefaultVolumeConventions(cfg, name, volumes)

	return &model.Container{
		Name:            name,
		Image:           svc.Image,
		Command:         command,
		Env:             env,
		Ports:           ports,
		Expose:          expose,
		DependsOn:       svc.DependsOn,
		Volumes:         volumes,
		Limits:          resourcesFrom(svc.Deploy.Resources.Limits),
		Requests:        resourcesFrom(svc.Deploy.Resources.Reservations),
		SecurityContext: securityContextFromMap(svc.SecurityContext),
	}, nil
}

// securityContextFromMap builds a model.SecurityContext from the
// "runAsUser"/"fsGroup" keys shared by both a compose service's own
// security_context and a registry AppMeta override; nil if m is empty.
func securityContextFromMap(m map[string]int64) *model.SecurityContext {
	if len(m) == 0 {
		return nil
	}
	sc := &model.SecurityContext{}
	if uid, ok := m["runAsUser"]; ok {
		sc.RunAsUser = uid
	}
	if gid, ok := m["fsGroup"]; ok {
		sc.FSGroup = gid
	}
	return sc
}

func resourcesFrom(m map[string]string) model.Resources {
	return model.Resources{CPUs: m["cpus"], GPUs: m["gpus"], Memory: m["memory"]}
}

// applyAppOverrides merges a registry AppMeta's resource_request and
// security_context onto the container the app resolved to, per §4.5's
// "merge per-context overrides" step. Request fields only fill in what the
// compose document left blank; the security context, when the registry
// declares one, replaces any compose-declared security_context wholesale.
func applyAppOverrides(c *model.Container, resourceRequest map[string]string, securityContext map[string]int64) {
	if len(resourceRequest) > 0 {
		if c.Requests.CPUs == "" {
			c.Requests.CPUs = resourceRequest["cpus"]
		}
		if c.Requests.GPUs == "" {
			c.Requests.GPUs = resourceRequest["gpus"]
		}
		if c.Requests.Memory == "" {
			c.Requests.Memory = resourceRequest["memory"]
		}
	}

	if sc := securityContextFromMap(securityContext); sc != nil {
		c.SecurityContext = sc
	}
}

func normalizeEntrypoint(entrypoint interface{}) ([]string, error) {
	switch v := entrypoint.(type) {
	case nil:
		return nil, nil
	case string:
		return strings.Fields(v), nil
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, item := range v {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("entrypoint sequence must contain only strings")
			}
			out = append(out, s)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("entrypoint must be a string or sequence of strings")
	}
}

// normalizePorts reduces each "host:container" entry to the container port
// only; Open Question (b) — external allocation is delegated to the
// orchestrator.
func normalizePorts(ports []string) ([]int32, error) {
	out := make([]int32, 0, len(ports))
	for _, p := range ports {
		part := p
		if idx := strings.LastIndex(p, ":"); idx >= 0 {
			part = p[idx+1:]
		}
		n, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil {
			return nil, fmt.Errorf("invalid port spec %q", p)
		}
		out = append(out, int32(n))
	}
	return out, nil
}

// normalizeExpose parses a compose `expose:` list, which carries only
// container-internal ports (no host part, unlike `ports:`).
func normalizeExpose(expose []string) ([]int32, error) {
	out := make([]int32, 0, len(expose))
	for _, p := range expose {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return nil, fmt.Errorf("invalid expose entry %q", p)
		}
		out = append(out, int32(n))
	}
	return out, nil
}

func buildEnv(ownEnv []string, envMap map[string]string, cfg *tychoconfig.EngineConfig) []model.KV {
	out := make([]model.KV, 0, len(ownEnv)+len(envMap))
	for _, e := range ownEnv {
		parts := strings.SplitN(e, "=", 2)
		key := parts[0]
		val := ""
		if len(parts) == 2 {
			val = parts[1]
		}
		out = append(out, model.KV{Key: key, Value: val})
	}

	keys := make([]string, 0, len(envMap))
	for k := range envMap {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		v := envMap[k]
		if cfg != nil && strings.Contains(v, "$STDNFS") {
			v = strings.ReplaceAll(v, "$STDNFS", cfg.Volumes.StdNFSPVC)
		}
		out = append(out, model.KV{Key: k, Value: v})
	}
	return out
}

// applyDefaultVolumeConventions expands the configured default-volume
// templating tokens and applies the CREATE_HOME_DIRS / testing-phase
// filtering rules of §4.2.
func applyDefaultVolumeConventions(cfg *tychoconfig.EngineConfig, containerName string, volumes []model.VolumeRef) []model.VolumeRef {
	if cfg == nil || cfg.DevPhase == tychoconfig.DevPhaseTest {
		return volumes
	}

	out := make([]model.VolumeRef, 0, len(volumes))
	for _, v := range volumes {
		expanded := expandVolumeTokens(string(v), cfg, containerName)
		isHomeOrShared := strings.Contains(expanded, cfg.Volumes.ParentDir) || strings.Contains(expanded, cfg.Volumes.SharedDir)
		if cfg.Volumes.CreateHomeDirs && !isHomeOrShared {
			continue
		}
		if !cfg.Volumes.CreateHomeDirs && isHomeOrShared {
			continue
		}
		out = append(out, model.VolumeRef(expanded))
	}
	return out
}

func expandVolumeTokens(v string, cfg *tychoconfig.EngineConfig, containerName string) string {
	replacer := strings.NewReplacer(
		"${stdnfs_pvc}", cfg.Volumes.StdNFSPVC,
		"${username}", containerName,
		"${parent_dir}", cfg.Volumes.ParentDir,
		"${subpath_dir}", cfg.Volumes.SubpathDir,
		"${shared_dir}", cfg.Volumes.SharedDir,
	)
	return replacer.Replace(v)
}

// deriveVolumes computes the flat Volume list per §3: split on ":", require
// the "pvc" scheme, and mark pvc_name empty for every occurrence after the
// first of a given volume_name.
func deriveVolumes(containers []*model.Container) ([]model.Volume, error) {
	seen := map[string]bool{}
	var volumes []model.Volume

	for _, c := range containers {
		for _, raw := range c.Volumes {
			v, err := parseVolumeRef(c.Name, raw)
			if err != nil {
				return nil, err
			}
			if seen[v.VolumeName] {
				v.PVCName = ""
			} else {
				seen[v.VolumeName] = true
			}
			volumes = append(volumes, v)
		}
	}
	return volumes, nil
}

func parseVolumeRef(containerName string, ref model.VolumeRef) (model.Volume, error) {
	s := string(ref)
	const scheme = "pvc://"
	if !strings.HasPrefix(s, scheme) {
		return model.Volume{}, tychoerrors.InvalidVolumeSpecErr(fmt.Sprintf("volume ref %q must use the pvc:// scheme", s))
	}
	rest := s[len(scheme):]

	lastColon := strings.LastIndex(rest, ":")
	if lastColon < 0 {
		return model.Volume{}, tychoerrors.InvalidVolumeSpecErr(fmt.Sprintf("volume ref %q is missing a mount path", s))
	}
	pathPart := rest[:lastColon]
	mount := rest[lastColon+1:]

	volumeName := pathPart
	subpath := ""
	if idx := strings.Index(pathPart, "/"); idx >= 0 {
		volumeName = pathPart[:idx]
		subpath = pathPart[idx+1:]
	}

	return model.Volume{
		ContainerName: containerName,
		PVCName:       volumeName,
		VolumeName:    volumeName,
		Path:          mount,
		Subpath:       subpath,
	}, nil
}
