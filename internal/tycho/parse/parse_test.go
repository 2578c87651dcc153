package parse

import (
	"errors"
	"strings"
	"testing"

	tychoerrors "github.com/stevencox/tycho/internal/errors"
	"github.com/stevencox/tycho/internal/tycho/model"
	"github.com/stevencox/tycho/internal/tychoconfig"
)

const basicCompose = `
services:
  web:
    image: nginx:latest
    ports:
      - "8080:80"
    environment:
      - MODE=production
    volumes:
      - pvc://data/home:/home/user
  worker:
    image: worker:latest
    depends_on:
      - web
`

func TestParseBuildsContainersInDeclarationOrder(t *testing.T) {
	system, err := Parse(Input{
		Name:        "myapp",
		ComposeText: basicCompose,
		Namespace:   "default",
	})
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	if len(system.Containers) != 2 {
		t.Fatalf("got %d containers, want 2", len(system.Containers))
	}
	if system.Containers[0].Name != "web" || system.Containers[1].Name != "worker" {
		t.Errorf("container order = [%s, %s], want [web, worker]", system.Containers[0].Name, system.Containers[1].Name)
	}
	if system.Name != "myapp-"+system.Identifier {
		t.Errorf("system.Name = %q, want %q", system.Name, "myapp-"+system.Identifier)
	}
	if len(system.Identifier) != 32 {
		t.Errorf("identifier %q should be a 32-char hex guid", system.Identifier)
	}
}

func TestParsePortsKeepOnlyContainerPort(t *testing.T) {
	system, err := Parse(Input{Name: "p", ComposeText: basicCompose, Namespace: "default"})
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	web := system.Containers[0]
	if len(web.Ports) != 1 || web.Ports[0] != 80 {
		t.Errorf("web.Ports = %v, want [80]", web.Ports)
	}
}

func TestParseVolumeDerivation(t *testing.T) {
	system, err := Parse(Input{Name: "p", ComposeText: basicCompose, Namespace: "default"})
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if len(system.Volumes) != 1 {
		t.Fatalf("got %d volumes, want 1", len(system.Volumes))
	}
	v := system.Volumes[0]
	if v.VolumeName != "data" || v.Subpath != "home" || v.Path != "/home/user" {
		t.Errorf("volume = %+v", v)
	}
	if v.PVCName != "data" {
		t.Errorf("first occurrence should carry PVCName, got %q", v.PVCName)
	}
}

func TestParseRejectsMissingImage(t *testing.T) {
	doc := "services:\n  web:\n    ports: []\n"
	_, err := Parse(Input{Name: "p", ComposeText: doc, Namespace: "default"})
	assertKind(t, err, tychoerrors.InvalidCompose)
}

func TestParseRejectsEmptyServices(t *testing.T) {
	_, err := Parse(Input{Name: "p", ComposeText: "services: {}\n", Namespace: "default"})
	assertKind(t, err, tychoerrors.InvalidCompose)
}

func TestParseRejectsBadVolumeScheme(t *testing.T) {
	doc := "services:\n  web:\n    image: nginx\n    volumes:\n      - /host/path:/container/path\n"
	_, err := Parse(Input{Name: "p", ComposeText: doc, Namespace: "default"})
	assertKind(t, err, tychoerrors.InvalidVolumeSpec)
}

func TestParseRejectsUnknownExposedService(t *testing.T) {
	_, err := Parse(Input{
		Name:        "p",
		ComposeText: basicCompose,
		Namespace:   "default",
		Services:    []model.ServiceSpec{{Name: "missing", Port: 80}},
	})
	assertKind(t, err, tychoerrors.UnknownService)
}

func TestParseExposesDeclaredServicesWithNormalizedCIDRs(t *testing.T) {
	system, err := Parse(Input{
		Name:        "p",
		ComposeText: basicCompose,
		Namespace:   "default",
		Services: []model.ServiceSpec{
			{Name: "web", Port: 8080, Clients: []string{"10.0.0.5", "10.0.1.0/24"}},
		},
	})
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	exposure, ok := system.Services["web"]
	if !ok {
		t.Fatal("expected web to be exposed")
	}
	if exposure.Port != 8080 {
		t.Errorf("port = %d, want 8080", exposure.Port)
	}
	want := []string{"10.0.0.5/32", "10.0.1.0/24"}
	if strings.Join(exposure.Clients, ",") != strings.Join(want, ",") {
		t.Errorf("clients = %v, want %v", exposure.Clients, want)
	}
}

func TestParsePreservesServiceDeclarationOrderEvenWhenNotAlphabetical(t *testing.T) {
	doc := `
services:
  web:
    image: nginx:latest
  worker:
    image: worker:latest
  api:
    image: api:latest
`
	system, err := Parse(Input{
		Name:        "p",
		ComposeText: doc,
		Namespace:   "default",
		Services: []model.ServiceSpec{
			{Name: "worker", Port: 9000},
			{Name: "web", Port: 8080},
			{Name: "api", Port: 7000},
		},
	})
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	want := []string{"worker", "web", "api"}
	if strings.Join(system.ServiceOrder, ",") != strings.Join(want, ",") {
		t.Errorf("ServiceOrder = %v, want %v (declaration order, not alphabetical)", system.ServiceOrder, want)
	}
}

func TestParseCopiesExposeAndSecurityContextFromCompose(t *testing.T) {
	doc := `
services:
  web:
    image: nginx:latest
    expose:
      - "9090"
      - "9091"
    security_context:
      runAsUser: 1000
      fsGroup: 2000
`
	system, err := Parse(Input{Name: "p", ComposeText: doc, Namespace: "default"})
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	c := system.Containers[0]
	if len(c.Expose) != 2 || c.Expose[0] != 9090 || c.Expose[1] != 9091 {
		t.Errorf("Expose = %v, want [9090 9091]", c.Expose)
	}
	if c.SecurityContext == nil || c.SecurityContext.RunAsUser != 1000 || c.SecurityContext.FSGroup != 2000 {
		t.Errorf("SecurityContext = %+v", c.SecurityContext)
	}
}

func TestParseAppliesAppOverridesToMatchingContainer(t *testing.T) {
	doc := "services:\n  jupyter:\n    image: jupyter/base:latest\n"
	system, err := Parse(Input{
		Name:               "p",
		ComposeText:        doc,
		Namespace:          "default",
		AppID:              "jupyter",
		AppResourceRequest: map[string]string{"cpus": "2", "memory": "4Gi"},
		AppSecurityContext: map[string]int64{"runAsUser": 1000, "fsGroup": 100},
	})
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	c := system.Containers[0]
	if c.Requests.CPUs != "2" || c.Requests.Memory != "4Gi" {
		t.Errorf("requests = %+v", c.Requests)
	}
	if c.SecurityContext == nil || c.SecurityContext.RunAsUser != 1000 || c.SecurityContext.FSGroup != 100 {
		t.Errorf("securityContext = %+v", c.SecurityContext)
	}
}

func TestParseComposeResourcesWinOverAppOverrides(t *testing.T) {
	doc := "services:\n  jupyter:\n    image: jupyter/base:latest\n    deploy:\n      resources:\n        reservations:\n          cpus: \"1\"\n"
	system, err := Parse(Input{
		Name:               "p",
		ComposeText:        doc,
		Namespace:          "default",
		AppID:              "jupyter",
		AppResourceRequest: map[string]string{"cpus": "4"},
	})
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if system.Containers[0].Requests.CPUs != "1" {
		t.Errorf("compose-declared request should win, got %q", system.Containers[0].Requests.CPUs)
	}
}

func TestParseSTDNFSSubstitution(t *testing.T) {
	doc := "services:\n  web:\n    image: nginx\n    environment: []\n"
	cfg := &tychoconfig.EngineConfig{
		DevPhase: tychoconfig.DevPhaseTest,
		Volumes:  tychoconfig.VolumeConventions{StdNFSPVC: "shared-pvc"},
	}
	system, err := Parse(Input{
		Config:      cfg,
		Name:        "p",
		ComposeText: doc,
		Namespace:   "default",
		EnvMap:      map[string]string{"DATA_DIR": "$STDNFS/shared"},
	})
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	var found bool
	for _, kv := range system.Containers[0].Env {
		if kv.Key == "DATA_DIR" {
			found = true
			if kv.Value != "shared-pvc/shared" {
				t.Errorf("DATA_DIR = %q, want substituted value", kv.Value)
			}
		}
	}
	if !found {
		t.Error("DATA_DIR not present in container env")
	}
}

func assertKind(t *testing.T, err error, want tychoerrors.Kind) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected an error of kind %s, got nil", want)
	}
	var appErr *tychoerrors.AppError
	if !errors.As(err, &appErr) {
		t.Fatalf("expected *tychoerrors.AppError, got %T: %v", err, err)
	}
	if appErr.Kind != want {
		t.Errorf("kind = %s, want %s", appErr.Kind, want)
	}
}
