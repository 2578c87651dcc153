// Package driver implements Tycho's Orchestrator Driver (C4): applying
// projected manifests to the compute fabric in dependency order, rolling
// back on failure, querying status, and reclaiming resources on delete.
//
// Grounded on the canonical label-based start/delete/status algorithm
// (tycho-guid selectors, reclamation on failure) and the teacher's
// internal/k8s client bootstrap.
package driver

import (
	"context"
	"fmt"

	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"

	"github.com/rs/zerolog"

	tychoerrors "github.com/stevencox/tycho/internal/errors"
	"github.com/stevencox/tycho/internal/logger"
	"github.com/stevencox/tycho/internal/tycho/model"
	"github.com/stevencox/tycho/internal/tycho/project"
	"github.com/stevencox/tycho/internal/tychoconfig"
)

// Client is the subset of cluster operations the Driver needs. Its two
// implementations are KubeClient over a real *k8s.Client (prod) and the in-memory fake
// (DEV_PHASE=stub), per SUPPLEMENTED FEATURES.
type Client interface {
	ApplyPVC(ctx context.Context, namespace string, doc map[string]interface{}) error
	ApplyPV(ctx context.Context, doc map[string]interface{}) error
	ApplyDeployment(ctx context.Context, namespace string, doc map[string]interface{}) error
	ApplyService(ctx context.Context, namespace string, doc map[string]interface{}) (ip string, port int32, err error)
	ApplyNetworkPolicy(ctx context.Context, namespace string, doc map[string]interface{}) error

	ListDeployments(ctx context.Context, namespace, labelSelector string) ([]appsv1.Deployment, error)
	ListServicesByLabel(ctx context.Context, namespace, labelSelector string) ([]corev1.Service, error)

	DeleteServicesByLabel(ctx context.Context, namespace, guid string) error
	DeleteDeploymentsByLabel(ctx context.Context, namespace, guid string) error
	DeleteReplicaSetsByLabel(ctx context.Context, namespace, guid string) error
	DeletePodsByLabel(ctx context.Context, namespace, guid string) error
	DeletePVCsByLabel(ctx context.Context, namespace, guid string) error
	DeletePVsByLabel(ctx context.Context, guid string) error
	DeleteNetworkPoliciesByLabel(ctx context.Context, namespace, guid string) error

	PatchDeployment(ctx context.Context, namespace, name string, patch []byte) error
}

// Driver exposes Start/Status/Delete/Modify over a compute fabric Client.
type Driver struct {
	client Client
	cfg    *tychoconfig.EngineConfig
}

// New builds a Driver over the given Client.
func New(client Client, cfg *tychoconfig.EngineConfig) *Driver {
	return &Driver{client: client, cfg: cfg}
}

// Start applies manifests in the order §4.4 requires, reclaiming
// everything labeled with the system's GUID on any non-idempotent failure.
func (d *Driver) Start(ctx context.Context, system *model.System, manifests *project.ManifestSet) (*model.LaunchResult, error) {
	log := logger.Driver().With().Str("system", system.Name).Str("guid", system.Identifier).Logger()

	if err := d.runStart(ctx, system, manifests, &log); err != nil {
		log.Error().Err(err).Msg("start failed, reclaiming")
		if delErr := d.Delete(ctx, system.Namespace, system.Identifier); delErr != nil {
			log.Error().Err(delErr).Msg("reclamation after failed start also failed")
		}
		return nil, tychoerrors.StartErr(err)
	}

	services, err := d.collectServiceEndpoints(ctx, system)
	if err != nil {
		log.Error().Err(err).Msg("failed to collect service endpoints, reclaiming")
		if delErr := d.Delete(ctx, system.Namespace, system.Identifier); delErr != nil {
			log.Error().Err(delErr).Msg("reclamation after failed start also failed")
		}
		return nil, tychoerrors.StartErr(err)
	}

	log.Info().Msg("system started")
	return &model.LaunchResult{
		Name:       system.Name,
		SID:        system.Identifier,
		Services:   services,
		ConnString: system.ConnString,
		Status:     "running",
	}, nil
}

func (d *Driver) runStart(ctx context.Context, system *model.System, manifests *project.ManifestSet, log *zerolog.Logger) error {
	for _, pvc := range manifests.PVCs {
		log.Info().Msg("creating PVC")
		if err := d.client.ApplyPVC(ctx, system.Namespace, pvc); err != nil {
			return fmt.Errorf("create PVC: %w", err)
		}
	}

	for _, pv := range manifests.PVs {
		log.Info().Msg("creating PV")
		if err := d.client.ApplyPV(ctx, pv); err != nil {
			return fmt.Errorf("create PV: %w", err)
		}
	}

	log.Info().Msg("creating deployment")
	if err := d.client.ApplyDeployment(ctx, system.Namespace, manifests.Deployment); err != nil {
		return fmt.Errorf("create deployment: %w", err)
	}

	if manifests.NetworkPolicy != nil {
		log.Info().Msg("creating network policy")
		if err := d.client.ApplyNetworkPolicy(ctx, system.Namespace, manifests.NetworkPolicy); err != nil {
			return fmt.Errorf("create network policy: %w", err)
		}
	}

	for _, svc := range manifests.Services {
		log.Info().Msg("creating service")
		if _, _, err := d.client.ApplyService(ctx, system.Namespace, svc); err != nil {
			return fmt.Errorf("create service: %w", err)
		}
	}

	return nil
}

// collectServiceEndpoints reads back each exposed service's endpoint,
// preferring the load-balancer ingress IP and falling back to the
// configured platform IP (§4.4 step 5).
func (d *Driver) collectServiceEndpoints(ctx context.Context, system *model.System) (map[string]model.ServiceEndpoint, error) {
	endpoints := map[string]model.ServiceEndpoint{}
	services, err := d.client.ListServicesByLabel(ctx, system.Namespace, fmt.Sprintf("%s=%s", model.LabelGUID, system.Identifier))
	if err != nil {
		return nil, err
	}

	byName := map[string]corev1.Service{}
	for _, svc := range services {
		byName[svc.Name] = svc
	}

	for _, svcName := range system.ServiceOrder {
		exposure := system.Services[svcName]
		svc, ok := byName[exposure.Name]
		ip := d.cfg.PlatformIP
		port := exposure.Port
		if ok {
			if len(svc.Status.LoadBalancer.Ingress) > 0 && svc.Status.LoadBalancer.Ingress[0].IP != "" {
				ip = svc.Status.LoadBalancer.Ingress[0].IP
			}
			if len(svc.Spec.Ports) > 0 && svc.Spec.Ports[0].NodePort != 0 {
				port = svc.Spec.Ports[0].NodePort
			}
		}
		endpoints[exposure.NameNoID] = model.ServiceEndpoint{IPAddress: ip, Port: port}
	}
	return endpoints, nil
}

// Status lists running systems; without a name, every Tycho deployment;
// with a name (a GUID), just that one.
func (d *Driver) Status(ctx context.Context, namespace, guid string) ([]model.ServiceStatus, error) {
	selector := fmt.Sprintf("%s=%s", model.LabelExecutor, model.LabelExecutorValue)
	if guid != "" {
		selector = fmt.Sprintf("%s=%s", model.LabelGUID, guid)
	}

	deployments, err := d.client.ListDeployments(ctx, namespace, selector)
	if err != nil {
		return nil, tychoerrors.Wrap(tychoerrors.Internal, "failed to list deployments", err)
	}

	var result []model.ServiceStatus
	for _, dep := range deployments {
		depGUID := dep.Labels[model.LabelGUID]
		services, err := d.client.ListServicesByLabel(ctx, namespace, fmt.Sprintf("%s=%s", model.LabelGUID, depGUID))
		if err != nil {
			return nil, tychoerrors.Wrap(tychoerrors.Internal, "failed to list services", err)
		}
		for _, svc := range services {
			ip := d.cfg.PlatformIP
			var port int32
			if len(svc.Status.LoadBalancer.Ingress) > 0 && svc.Status.LoadBalancer.Ingress[0].IP != "" {
				ip = svc.Status.LoadBalancer.Ingress[0].IP
			}
			if len(svc.Spec.Ports) > 0 {
				port = svc.Spec.Ports[0].NodePort
			}
			result = append(result, model.ServiceStatus{
				Name:         svc.Name,
				SID:          depGUID,
				IPAddress:    ip,
				Port:         port,
				CreationTime: svc.CreationTimestamp.Format("2006-01-02T15:04:05Z07:00"),
				AppID:        dep.Labels[model.LabelAppID],
			})
		}
	}
	return result, nil
}

// Delete reclaims every artifact labeled with guid. Not-found at any step
// is success; only non-404 errors abort and surface as DeleteError.
func (d *Driver) Delete(ctx context.Context, namespace, guid string) error {
	log := logger.Driver().With().Str("guid", guid).Logger()

	steps := []struct {
		name string
		fn   func() error
	}{
		{"services", func() error { return d.client.DeleteServicesByLabel(ctx, namespace, guid) }},
		{"deployments", func() error { return d.client.DeleteDeploymentsByLabel(ctx, namespace, guid) }},
		{"replicasets", func() error { return d.client.DeleteReplicaSetsByLabel(ctx, namespace, guid) }},
		{"pods", func() error { return d.client.DeletePodsByLabel(ctx, namespace, guid) }},
		{"networkpolicies", func() error { return d.client.DeleteNetworkPoliciesByLabel(ctx, namespace, guid) }},
		{"pvcs", func() error { return d.client.DeletePVCsByLabel(ctx, namespace, guid) }},
		{"pvs", func() error { return d.client.DeletePVsByLabel(ctx, guid) }},
	}

	for _, step := range steps {
		log.Info().Str("kind", step.name).Msg("reclaiming")
		if err := step.fn(); err != nil {
			if apierrors.IsNotFound(err) {
				log.Debug().Str("kind", step.name).Msg("already gone")
				continue
			}
			return tychoerrors.DeleteErr(fmt.Errorf("%s: %w", step.name, err))
		}
	}
	return nil
}

// Modify changes replica count, resources, or labels on the deployment
// identified by guid. No-op if nothing differs.
func (d *Driver) Modify(ctx context.Context, namespace string, mod model.Modification) error {
	deployments, err := d.client.ListDeployments(ctx, namespace, fmt.Sprintf("%s=%s", model.LabelGUID, mod.GUID))
	if err != nil {
		return tychoerrors.Wrap(tychoerrors.Internal, "failed to find deployment to modify", err)
	}
	if len(deployments) == 0 {
		return tychoerrors.New(tychoerrors.Internal, fmt.Sprintf("no deployment found for guid %s", mod.GUID))
	}
	current := deployments[0]

	patch, changed := buildModifyPatch(current, mod)
	if !changed {
		logger.Driver().Debug().Str("guid", mod.GUID).Msg("modify requested no changes, skipping patch")
		return nil
	}

	return d.client.PatchDeployment(ctx, namespace, current.Name, patch)
}
