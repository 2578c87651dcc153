// Package project implements Tycho's Projection (C3): turning a model.System
// into the concrete set of orchestrator manifests, via the Template Engine.
package project

import (
	"fmt"

	"github.com/stevencox/tycho/internal/logger"
	"github.com/stevencox/tycho/internal/tycho/model"
	"github.com/stevencox/tycho/internal/tycho/render"
	"github.com/stevencox/tycho/internal/tychoconfig"
)

// wellKnownSharedPVCs are assumed pre-provisioned and never get their own
// PVC manifest, per §4.3.
var wellKnownSharedPVCs = map[string]bool{
	"nfs":    true,
	"stdnfs": true,
}

// ManifestSet is the complete, ordered output of a Projection.
type ManifestSet struct {
	Deployment    render.Document
	PVCs          []render.Document
	PVs           []render.Document
	Services      []render.Document
	NetworkPolicy render.Document // nil unless any exposure has clients
}

// ServiceType selects NodePort vs LoadBalancer per configuration.
type ServiceType string

const (
	ServiceTypeNodePort     ServiceType = "NodePort"
	ServiceTypeLoadBalancer ServiceType = "LoadBalancer"
)

// Options configures Projection beyond what's derivable from the System.
type Options struct {
	Config      *tychoconfig.EngineConfig
	AppID       string
	ServiceType ServiceType
}

// podFSGroup returns the first container-level FSGroup override found, for
// use as the pod spec's shared filesystem group; zero means "unset".
func podFSGroup(system *model.System) int64 {
	for _, c := range system.Containers {
		if c.SecurityContext != nil && c.SecurityContext.FSGroup != 0 {
			return c.SecurityContext.FSGroup
		}
	}
	return 0
}

// Project turns a System into a ManifestSet using the given template
// engine.
func Project(engine *render.Engine, system *model.System, opts Options) (*ManifestSet, error) {
	log := logger.Projection()
	labels := system.Labels(opts.AppID)

	mountsByContainer := map[string][]model.Volume{}
	for _, vol := range system.Volumes {
		mountsByContainer[vol.ContainerName] = append(mountsByContainer[vol.ContainerName], vol)
	}

	deploymentDocs, err := engine.Render("deployment.yaml", map[string]interface{}{
		"system":            system,
		"labels":            labels,
		"mountsByContainer": mountsByContainer,
		"podFSGroup":        podFSGroup(system),
	})
	if err != nil {
		return nil, err
	}
	if len(deploymentDocs) == 0 {
		return nil, fmt.Errorf("deployment template produced no documents")
	}

	set := &ManifestSet{Deployment: deploymentDocs[0]}

	emittedPVC := map[string]bool{}
	for _, vol := range system.Volumes {
		if vol.PVCName == "" {
			continue // duplicate occurrence of an already-emitted volume
		}
		if wellKnownSharedPVCs[vol.PVCName] {
			log.Debug().Str("pvc", vol.PVCName).Msg("skipping pre-provisioned shared claim")
			continue
		}
		if emittedPVC[vol.PVCName] {
			continue
		}
		emittedPVC[vol.PVCName] = true

		pvcDocs, err := engine.Render("pvc.yaml", map[string]interface{}{
			"system": system,
			"labels": labels,
			"volume": vol,
		})
		if err != nil {
			return nil, err
		}
		set.PVCs = append(set.PVCs, pvcDocs...)

		pvDocs, err := engine.Render("pv.yaml", map[string]interface{}{
			"system":  system,
			"labels":  labels,
			"volume":  vol,
			"pv_name": fmt.Sprintf("%s-%d", system.Name, len(set.PVs)),
		})
		if err != nil {
			return nil, err
		}
		set.PVs = append(set.PVs, pvDocs...)
	}

	serviceType := opts.ServiceType
	if serviceType == "" {
		serviceType = ServiceTypeNodePort
	}

	anyClients := false
	for _, svcName := range system.ServiceOrder {
		exposure := system.Services[svcName]
		if len(exposure.Clients) > 0 {
			anyClients = true
		}

		svcDocs, err := engine.Render("service.yaml", map[string]interface{}{
			"system":      system,
			"labels":      labels,
			"exposure":    exposure,
			"serviceType": string(serviceType),
		})
		if err != nil {
			return nil, err
		}
		set.Services = append(set.Services, svcDocs...)
	}

	if anyClients {
		npDocs, err := engine.Render("networkpolicy.yaml", map[string]interface{}{
			"system": system,
			"labels": labels,
		})
		if err != nil {
			return nil, err
		}
		if len(npDocs) > 0 {
			set.NetworkPolicy = npDocs[0]
		}
	}

	log.Info().
		Str("system", system.Name).
		Int("pvcs", len(set.PVCs)).
		Int("services", len(set.Services)).
		Bool("network_policy", set.NetworkPolicy != nil).
		Msg("projected system")

	return set, nil
}
