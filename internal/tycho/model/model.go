// Package model defines Tycho's abstract system: the containers, volumes,
// and service exposures that the parser builds and the projector turns into
// orchestrator manifests.
package model

// KV is an order-preserving key/value pair, used wherever the spec requires
// declaration order to survive (environment variables, compose ordering).
type KV struct {
	Key   string
	Value string
}

// Resources captures the cpu/gpu/memory shape shared by limits and requests.
type Resources struct {
	CPUs   string
	GPUs   string
	Memory string
}

// SecurityContext mirrors the subset of pod/container security context
// Tycho threads through: the numeric UID the process runs as and the
// filesystem group applied to mounted volumes.
type SecurityContext struct {
	RunAsUser int64
	FSGroup   int64
}

// VolumeRef is a raw, unparsed volume reference as it appears on a
// Container: `pvc://<pvc-name>[/<subpath>]:<container-mount-path>`.
type VolumeRef string

// Volume is the derived, flattened volume record the parser computes from
// every container's VolumeRefs. Exactly one Volume per unique VolumeName
// carries a non-empty PVCName; later duplicates leave PVCName empty so the
// projector emits exactly one PVC manifest per unique volume.
type Volume struct {
	ContainerName string
	PVCName       string // empty unless this is the first occurrence of VolumeName
	VolumeName    string
	Path          string // container mount path
	Subpath       string
}

// Container is one invocation of an image within a System.
type Container struct {
	Name            string
	Image           string
	Command         []string
	Env             []KV
	Identity        *int64
	Limits          Resources
	Requests        Resources
	Ports           []int32
	Expose          []int32
	DependsOn       []string
	Volumes         []VolumeRef
	SecurityContext *SecurityContext
}

// ServiceSpec is an ordered service-exposure request: the name of the
// compose service to expose, the port to expose it on, and the CIDRs
// allowed to reach it. Carried as a slice (not a map) end to end from the
// HTTP body through to Parse so declaration order survives, per §4.3's
// stability requirement on service iteration.
type ServiceSpec struct {
	Name    string
	Port    int32
	Clients []string
}

// ServiceExposure is a declared network entry point onto a container.
type ServiceExposure struct {
	Port     int32
	Clients  []string // CIDRs; empty means open
	Name     string   // assigned "<svc>-<identifier>"
	NameNoID string   // the original compose service-name key
}

// Principal is the caller identity a request carries; Tycho has no
// server-side session, every request supplies this directly.
type Principal struct {
	Username string
	Token    string // optional bearer token; carried with the request, not read by the driver or logged
}

// System is the root entity the parser builds and the driver operates on.
type System struct {
	SystemName     string // caller-supplied base name
	Identifier     string // fresh 128-bit GUID, hex-rendered
	Name           string // "<SystemName>-<Identifier>", DNS-label-safe
	Namespace      string
	Principal      Principal
	ServiceAccount string
	Containers     []*Container // ordered, >= 1, non-nil
	Services       map[string]*ServiceExposure
	ServiceOrder   []string // insertion order of Services keys
	Volumes        []Volume // derived, see Volume
	SourceText     string   // compiled source retained for audit
	Annotations    map[string]string
	ConnString     string // free-form pass-through metadata, never interpreted
}

// ServiceStatus is one entry in a Status response.
type ServiceStatus struct {
	Name         string
	SID          string
	IPAddress    string
	Port         int32
	CreationTime string
	AppID        string
}

// LaunchResult is returned by a successful Start.
type LaunchResult struct {
	Name       string
	SID        string
	Services   map[string]ServiceEndpoint
	ConnString string
	Status     string
}

// ServiceEndpoint is the per-service endpoint recorded in a LaunchResult.
type ServiceEndpoint struct {
	IPAddress string
	Port      int32
}

// Modification describes a requested change to a running System (§4.4
// modify): replica count, resource requests/limits, or labels. A nil/zero
// field means "leave unchanged".
type Modification struct {
	GUID      string
	Replicas  *int32
	Labels    map[string]string
	Resources *Resources
}

const (
	// LabelExecutor tags every artifact Tycho creates.
	LabelExecutor = "executor"
	// LabelExecutorValue is the value of LabelExecutor on Tycho artifacts.
	LabelExecutorValue = "tycho"
	// LabelGUID selects all artifacts belonging to one System.
	LabelGUID = "tycho-guid"
	// LabelName selects artifacts by the system's DNS-safe name.
	LabelName = "name"
	// LabelUsername records the launching principal.
	LabelUsername = "username"
	// LabelAppID records the registry app id that was launched, if any.
	LabelAppID = "app_id"
)

// Labels returns the standard label set every generated artifact for this
// System carries (§6 "Labels on every generated artifact").
func (s *System) Labels(appID string) map[string]string {
	labels := map[string]string{
		LabelExecutor: LabelExecutorValue,
		LabelGUID:     s.Identifier,
		LabelName:     s.Name,
		LabelUsername: s.Principal.Username,
	}
	if appID != "" {
		labels[LabelAppID] = appID
	}
	return labels
}
