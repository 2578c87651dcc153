package driver

import (
	"encoding/json"

	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"

	"github.com/stevencox/tycho/internal/tycho/model"
)

type deploymentPatch struct {
	Spec struct {
		Replicas *int32            `json:"replicas,omitempty"`
		Template *podTemplatePatch `json:"template,omitempty"`
	} `json:"spec,omitempty"`
	Metadata struct {
		Labels map[string]string `json:"labels,omitempty"`
	} `json:"metadata,omitempty"`
}

type podTemplatePatch struct {
	Spec struct {
		Containers []containerPatch `json:"containers"`
	} `json:"spec"`
}

// containerPatch carries only Name plus the fields being changed; a
// strategic-merge patch merges the containers list by the "name" key, so
// omitted containers are left untouched.
type containerPatch struct {
	Name      string          `json:"name"`
	Resources *resourcesPatch `json:"resources,omitempty"`
}

type resourcesPatch struct {
	Requests map[string]string `json:"requests,omitempty"`
	Limits   map[string]string `json:"limits,omitempty"`
}

// buildModifyPatch computes a strategic-merge patch for the fields that
// actually differ between the current Deployment and the requested
// Modification. Returns changed=false if nothing differs.
func buildModifyPatch(current appsv1.Deployment, mod model.Modification) ([]byte, bool) {
	var patch deploymentPatch
	changed := false

	if mod.Replicas != nil && (current.Spec.Replicas == nil || *current.Spec.Replicas != *mod.Replicas) {
		patch.Spec.Replicas = mod.Replicas
		changed = true
	}

	if len(mod.Labels) > 0 {
		diffLabels := map[string]string{}
		for k, v := range mod.Labels {
			if current.Labels[k] != v {
				diffLabels[k] = v
			}
		}
		if len(diffLabels) > 0 {
			patch.Metadata.Labels = diffLabels
			changed = true
		}
	}

	if mod.Resources != nil {
		if containers := resourceContainerDiff(current.Spec.Template.Spec.Containers, *mod.Resources); len(containers) > 0 {
			var tmpl podTemplatePatch
			tmpl.Spec.Containers = containers
			patch.Spec.Template = &tmpl
			changed = true
		}
	}

	if !changed {
		return nil, false
	}

	data, _ := json.Marshal(patch)
	return data, true
}

// resourceContainerDiff applies mod uniformly to every container's
// requests and limits (§4.4 modify has no per-container resource
// addressing), returning a containerPatch per container whose current
// cpu/memory/gpu values actually differ.
func resourceContainerDiff(containers []corev1.Container, mod model.Resources) []containerPatch {
	want := resourceQuantities(mod)
	if len(want) == 0 {
		return nil
	}

	var out []containerPatch
	for _, c := range containers {
		diffRequests := quantityDiff(c.Resources.Requests, want)
		diffLimits := quantityDiff(c.Resources.Limits, want)
		if len(diffRequests) == 0 && len(diffLimits) == 0 {
			continue
		}
		out = append(out, containerPatch{
			Name: c.Name,
			Resources: &resourcesPatch{
				Requests: diffRequests,
				Limits:   diffLimits,
			},
		})
	}
	return out
}

func resourceQuantities(r model.Resources) map[string]string {
	out := map[string]string{}
	if r.CPUs != "" {
		out["cpu"] = r.CPUs
	}
	if r.Memory != "" {
		out["memory"] = r.Memory
	}
	if r.GPUs != "" {
		out["nvidia.com/gpu"] = r.GPUs
	}
	return out
}

// quantityDiff compares want's string values against current's, returning
// only the entries whose quantity actually changed.
func quantityDiff(current corev1.ResourceList, want map[string]string) map[string]string {
	diff := map[string]string{}
	for name, value := range want {
		existing, ok := current[corev1.ResourceName(name)]
		if !ok || existing.String() != value {
			diff[name] = value
		}
	}
	return diff
}
