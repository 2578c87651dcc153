// Package engine wires the Registry, Parser, Projection, and Driver
// together behind the four operations the HTTP surface and CLI expose:
// start, status, delete, modify.
package engine

import (
	"context"
	"strings"

	tychoerrors "github.com/stevencox/tycho/internal/errors"
	"github.com/stevencox/tycho/internal/logger"
	"github.com/stevencox/tycho/internal/tycho/driver"
	"github.com/stevencox/tycho/internal/tycho/model"
	"github.com/stevencox/tycho/internal/tycho/parse"
	"github.com/stevencox/tycho/internal/tycho/project"
	"github.com/stevencox/tycho/internal/tycho/registry"
	"github.com/stevencox/tycho/internal/tycho/render"
	"github.com/stevencox/tycho/internal/tychoconfig"
)

// Engine is the single entry point the HTTP handlers and CLI call into.
type Engine struct {
	cfg      *tychoconfig.EngineConfig
	registry *registry.Registry
	render   *render.Engine
	driver   *driver.Driver
}

// New assembles an Engine from its already-constructed collaborators.
func New(cfg *tychoconfig.EngineConfig, reg *registry.Registry, renderEngine *render.Engine, drv *driver.Driver) *Engine {
	return &Engine{cfg: cfg, registry: reg, render: renderEngine, driver: drv}
}

// StartRequest is the decoded POST /system/start body.
type StartRequest struct {
	Name           string
	AppID          string
	System         string // raw compose YAML, used when AppID is empty
	Env            map[string]string
	Services       []model.ServiceSpec
	Principal      model.Principal
	ServiceAccount string
	ConnString     string
}

// Start resolves the app (if AppID is set) or takes System literally, parses
// it into a System, projects manifests, and applies them via the Driver.
func (e *Engine) Start(ctx context.Context, req StartRequest) (*model.LaunchResult, error) {
	composeText := req.System
	env := req.Env
	services := req.Services
	serviceAccount := req.ServiceAccount
	connString := req.ConnString
	var resourceRequest map[string]string
	var securityContext map[string]int64

	if req.AppID != "" {
		app, err := e.registry.GetApp(req.AppID)
		if err != nil {
			return nil, err
		}
		composeText, err = e.registry.FetchSpec(ctx, req.AppID)
		if err != nil {
			return nil, err
		}
		settingsText, err := e.registry.FetchEnv(ctx, req.AppID)
		if err != nil {
			return nil, err
		}
		env = mergeEnv(parseDotEnv(settingsText), req.Env)
		if services == nil {
			services = app.Services
		}
		if serviceAccount == "" {
			serviceAccount = app.ServiceAccount
		}
		if connString == "" {
			connString = app.ConnString
		}
		resourceRequest = app.ResourceRequest
		securityContext = app.SecurityContext
	}

	system, err := parse.Parse(parse.Input{
		Config:             e.cfg,
		Name:               req.Name,
		Principal:          req.Principal,
		ComposeText:        composeText,
		ServiceAccount:     serviceAccount,
		EnvMap:             env,
		Services:           services,
		Namespace:          e.cfg.Namespace,
		ConnString:         connString,
		AppID:              req.AppID,
		AppResourceRequest: resourceRequest,
		AppSecurityContext: securityContext,
	})
	if err != nil {
		return nil, err
	}

	manifests, err := project.Project(e.render, system, project.Options{Config: e.cfg, AppID: req.AppID})
	if err != nil {
		return nil, err
	}

	logger.Engine().Info().Str("name", system.Name).Str("guid", system.Identifier).Msg("starting system")
	return e.driver.Start(ctx, system, manifests)
}

// Status lists running systems, optionally filtered to one guid.
func (e *Engine) Status(ctx context.Context, guid string) ([]model.ServiceStatus, error) {
	return e.driver.Status(ctx, e.cfg.Namespace, guid)
}

// Delete tears a system down by guid.
func (e *Engine) Delete(ctx context.Context, guid string) error {
	if guid == "" {
		return tychoerrors.InvalidComposeErr("delete requires a system guid")
	}
	return e.driver.Delete(ctx, e.cfg.Namespace, guid)
}

// Modify applies a replica/label/resource change to a running system.
func (e *Engine) Modify(ctx context.Context, mod model.Modification) error {
	if mod.GUID == "" {
		return tychoerrors.InvalidComposeErr("modify requires a system guid")
	}
	return e.driver.Modify(ctx, e.cfg.Namespace, mod)
}

func mergeEnv(base, overlay map[string]string) map[string]string {
	out := map[string]string{}
	for k, v := range base {
		out[k] = v
	}
	for k, v := range overlay {
		out[k] = v
	}
	return out
}

// parseDotEnv parses "KEY=VALUE" lines, skipping blanks and comments.
func parseDotEnv(text string) map[string]string {
	out := map[string]string{}
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, val, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		out[key] = val
	}
	return out
}
