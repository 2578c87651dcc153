// Package registry implements Tycho's Registry/Context (C5): loading the
// app catalog, resolving a product's context with extends-inheritance,
// fetching and caching per-app compose specs and settings files, and
// enforcing product-scoped app access.
//
// Grounded on context.py's TychoContext (_grok/get_spec/get_settings) and
// the teacher's internal/cache Redis client for the optional second tier.
package registry

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/stevencox/tycho/internal/cache"
	tychoerrors "github.com/stevencox/tycho/internal/errors"
	"github.com/stevencox/tycho/internal/logger"
	"github.com/stevencox/tycho/internal/tycho/model"
)

// AppMeta describes one app entry in a resolved product context. It is
// plain data; cached spec/env text lives in the Registry's own cache map
// so AppMeta values can be copied freely during inheritance resolution.
type AppMeta struct {
	ID              string
	Name            string
	Spec            string
	Icon            string
	Docs            string
	Env             map[string]string
	Services        []model.ServiceSpec // ordered; see UnmarshalYAML
	ServiceAccount  string
	SecurityContext map[string]int64
	ConnString      string
	ResourceRequest map[string]string
}

// appMetaFields mirrors AppMeta's scalar/map fields for decoding; Services
// is handled separately by UnmarshalYAML to preserve declaration order.
type appMetaFields struct {
	ID              string            `yaml:"id"`
	Name            string            `yaml:"name"`
	Spec            string            `yaml:"spec"`
	Icon            string            `yaml:"icon"`
	Docs            string            `yaml:"docs"`
	Env             map[string]string `yaml:"env"`
	ServiceAccount  string            `yaml:"serviceAccount"`
	SecurityContext map[string]int64  `yaml:"securityContext"`
	ConnString      string            `yaml:"conn_string"`
	ResourceRequest map[string]string `yaml:"resource_request"`
}

// UnmarshalYAML decodes AppMeta's scalar fields normally and walks its
// `services` mapping by hand, the same concern parse.decodeServices
// addresses for compose documents: plain map decoding loses declaration
// order, and §4.3 requires service iteration order to be stable.
func (a *AppMeta) UnmarshalYAML(node *yaml.Node) error {
	var fields appMetaFields
	if err := node.Decode(&fields); err != nil {
		return err
	}
	*a = AppMeta{
		ID:              fields.ID,
		Name:            fields.Name,
		Spec:            fields.Spec,
		Icon:            fields.Icon,
		Docs:            fields.Docs,
		Env:             fields.Env,
		ServiceAccount:  fields.ServiceAccount,
		SecurityContext: fields.SecurityContext,
		ConnString:      fields.ConnString,
		ResourceRequest: fields.ResourceRequest,
	}

	servicesNode := mappingValue(node, "services")
	if servicesNode == nil {
		return nil
	}
	services, err := decodeAppServices(servicesNode)
	if err != nil {
		return err
	}
	a.Services = services
	return nil
}

// mappingValue returns the value node paired with key in a mapping node,
// nil if node isn't a mapping or key isn't present.
func mappingValue(node *yaml.Node, key string) *yaml.Node {
	if node.Kind != yaml.MappingNode {
		return nil
	}
	for i := 0; i+1 < len(node.Content); i += 2 {
		if node.Content[i].Value == key {
			return node.Content[i+1]
		}
	}
	return nil
}

// decodeAppServices walks a "name: port" services mapping in document
// order.
func decodeAppServices(node *yaml.Node) ([]model.ServiceSpec, error) {
	if node.Kind == 0 {
		return nil, nil
	}
	if node.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("services must be a mapping")
	}
	specs := make([]model.ServiceSpec, 0, len(node.Content)/2)
	for i := 0; i+1 < len(node.Content); i += 2 {
		keyNode := node.Content[i]
		valNode := node.Content[i+1]
		var port int32
		if err := valNode.Decode(&port); err != nil {
			return nil, fmt.Errorf("service %q: %w", keyNode.Value, err)
		}
		specs = append(specs, model.ServiceSpec{Name: keyNode.Value, Port: port})
	}
	return specs, nil
}

type repository struct {
	ID  string `yaml:"id"`
	URL string `yaml:"url"`
}

type contextDoc struct {
	Extends []string           `yaml:"extends"`
	Apps    map[string]AppMeta `yaml:"apps"`
}

type document struct {
	Repositories []repository          `yaml:"repositories"`
	Contexts     map[string]contextDoc `yaml:"contexts"`
}

type resolvedEntry struct {
	specObj string
	envObj  string
}

// Registry is the compiled, queryable app catalog for one product.
type Registry struct {
	repositories map[string]string
	apps         map[string]AppMeta

	mu      sync.RWMutex
	entries map[string]*resolvedEntry

	secondary  *cache.Cache
	httpClient *http.Client
}

// Options configures loading and the optional secondary cache.
type Options struct {
	Product       string
	RedisEnabled  bool
	RedisAddr     string
	RedisPassword string
	FetchTimeout  time.Duration
}

// Load reads the registry document from path and resolves it for product.
func Load(registryPath string, opts Options) (*Registry, error) {
	data, err := os.ReadFile(registryPath)
	if err != nil {
		return nil, tychoerrors.Wrap(tychoerrors.Internal, "failed to read registry file", err)
	}

	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, tychoerrors.Wrap(tychoerrors.Internal, "failed to parse registry yaml", err)
	}

	return compile(doc, opts)
}

// compile resolves an already-parsed document for product, wiring the
// secondary cache if requested.
func compile(doc document, opts Options) (*Registry, error) {
	repos := map[string]string{}
	for _, r := range doc.Repositories {
		repos[r.ID] = r.URL
	}

	apps, err := resolveContext(doc, opts.Product, map[string]bool{})
	if err != nil {
		return nil, err
	}
	for id, app := range apps {
		expandRepoVars(&app, repos)
		apps[id] = app
	}

	reg := &Registry{
		repositories: repos,
		apps:         apps,
		entries:      map[string]*resolvedEntry{},
		httpClient:   &http.Client{Timeout: fetchTimeout(opts.FetchTimeout)},
	}

	if opts.RedisEnabled {
		host, port := splitAddr(opts.RedisAddr)
		c, err := cache.NewCache(cache.Config{Host: host, Port: port, Password: opts.RedisPassword, Enabled: true})
		if err != nil {
			logger.Registry().Warn().Err(err).Msg("secondary cache unavailable, continuing without it")
		} else {
			reg.secondary = c
		}
	}

	return reg, nil
}

func fetchTimeout(d time.Duration) time.Duration {
	if d <= 0 {
		return 5 * time.Second
	}
	return d
}

func splitAddr(addr string) (string, string) {
	parts := strings.SplitN(addr, ":", 2)
	if len(parts) == 2 {
		return parts[0], parts[1]
	}
	return addr, "6379"
}

// resolveContext walks `extends` depth-first, overlaying each context's
// apps onto its resolved bases, child wins by app_id (§4.5).
func resolveContext(doc document, product string, visiting map[string]bool) (map[string]AppMeta, error) {
	ctxDoc, ok := doc.Contexts[product]
	if !ok {
		return nil, tychoerrors.ContextNotFoundErr(product)
	}
	if visiting[product] {
		return nil, tychoerrors.New(tychoerrors.BaseNotFound, fmt.Sprintf("cyclic extends at %s", product))
	}
	visiting[product] = true

	resolved := map[string]AppMeta{}
	for _, base := range ctxDoc.Extends {
		if _, ok := doc.Contexts[base]; !ok {
			return nil, tychoerrors.BaseNotFoundErr(base)
		}
		baseApps, err := resolveContext(doc, base, visiting)
		if err != nil {
			return nil, err
		}
		for id, app := range baseApps {
			resolved[id] = app
		}
	}

	for id, app := range ctxDoc.Apps {
		app.ID = id
		resolved[id] = app
	}

	return resolved, nil
}

// expandRepoVars substitutes ${repo-id} references in spec/icon/docs, and
// synthesizes missing spec/icon values from the first repository's base URL.
func expandRepoVars(app *AppMeta, repos map[string]string) {
	if app.Spec == "" && len(repos) > 0 {
		app.Spec = fmt.Sprintf("${%s}/%s/docker-compose.yaml", firstRepoID(repos), app.ID)
	}
	app.Spec = substituteRepoVars(app.Spec, repos)
	if app.Icon == "" {
		if app.Spec != "" {
			app.Icon = fixScheme(path.Join(path.Dir(app.Spec), "icon.png"), app.Spec)
		}
	} else {
		app.Icon = substituteRepoVars(app.Icon, repos)
	}
	app.Docs = substituteRepoVars(app.Docs, repos)
}

func firstRepoID(repos map[string]string) string {
	for id := range repos {
		return id
	}
	return ""
}

func substituteRepoVars(s string, repos map[string]string) string {
	for id, url := range repos {
		s = strings.ReplaceAll(s, fmt.Sprintf("${%s}", id), url)
	}
	return s
}

// GetApp returns the resolved app metadata, enforcing product-scoped access.
func (r *Registry) GetApp(appID string) (AppMeta, error) {
	app, ok := r.apps[appID]
	if !ok {
		return AppMeta{}, tychoerrors.AppNotAuthorizedErr(appID)
	}
	return app, nil
}

func (r *Registry) entry(appID string) *resolvedEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[appID]
	if !ok {
		e = &resolvedEntry{}
		r.entries[appID] = e
	}
	return e
}

// FetchSpec returns the app's compose YAML text, populating the cache on
// first use (§4.5 "Runtime lookups").
func (r *Registry) FetchSpec(ctx context.Context, appID string) (string, error) {
	app, err := r.GetApp(appID)
	if err != nil {
		return "", err
	}

	e := r.entry(appID)
	r.mu.RLock()
	cachedSpec := e.specObj
	r.mu.RUnlock()
	if cachedSpec != "" {
		return cachedSpec, nil
	}

	if r.secondary != nil {
		var cached string
		if err := r.secondary.Get(ctx, specCacheKey(appID), &cached); err == nil && cached != "" {
			r.mu.Lock()
			e.specObj = cached
			r.mu.Unlock()
			return cached, nil
		}
	}

	text, err := r.fetch(ctx, app.Spec)
	if err != nil {
		return "", tychoerrors.Wrap(tychoerrors.Internal, fmt.Sprintf("failed to fetch spec for %s", appID), err)
	}

	r.mu.Lock()
	e.specObj = text
	r.mu.Unlock()

	if r.secondary != nil {
		_ = r.secondary.Set(ctx, specCacheKey(appID), text, 10*time.Minute)
	}

	return text, nil
}

// FetchEnv returns the app's .env settings text, empty if none exists.
func (r *Registry) FetchEnv(ctx context.Context, appID string) (string, error) {
	app, err := r.GetApp(appID)
	if err != nil {
		return "", err
	}

	e := r.entry(appID)
	r.mu.RLock()
	cachedEnv := e.envObj
	r.mu.RUnlock()
	if cachedEnv != "" {
		return cachedEnv, nil
	}

	envURL := fixScheme(path.Join(path.Dir(app.Spec), ".env"), app.Spec)

	text, err := r.fetch(ctx, envURL)
	if err != nil {
		logger.Registry().Debug().Str("app_id", appID).Msg("no settings file, using empty env")
		return "", nil
	}

	r.mu.Lock()
	e.envObj = text
	r.mu.Unlock()

	return text, nil
}

// fixScheme restores the "://" that path.Join collapses into ":/".
func fixScheme(joined, original string) string {
	if i := strings.Index(original, "://"); i >= 0 {
		scheme := original[:i+3]
		rest := strings.TrimPrefix(joined, scheme[:i+1]+"/")
		return scheme + rest
	}
	return joined
}

func (r *Registry) fetch(ctx context.Context, url string) (string, error) {
	if strings.HasPrefix(url, "git@") || strings.HasSuffix(url, ".git") || strings.Contains(url, ".git/") {
		return r.fetchGit(ctx, url)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	resp, err := r.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("GET %s: status %d", url, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	return string(body), nil
}

func specCacheKey(appID string) string {
	return fmt.Sprintf("tycho:registry:spec:%s", appID)
}
