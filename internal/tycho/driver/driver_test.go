package driver

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stevencox/tycho/internal/tycho/model"
	"github.com/stevencox/tycho/internal/tycho/project"
	"github.com/stevencox/tycho/internal/tychoconfig"
)

func newTestSystem(guid, name string) *model.System {
	return &model.System{
		Identifier: guid,
		Name:       name,
		Namespace:  "default",
		Principal:  model.Principal{Username: "tester"},
		Services: map[string]*model.ServiceExposure{
			"web": {Port: 8080, Name: "web-" + guid, NameNoID: "web"},
		},
		ServiceOrder: []string{"web"},
		Annotations:  map[string]string{},
	}
}

func toInterfaceMap(m map[string]string) map[string]interface{} {
	out := map[string]interface{}{}
	for k, v := range m {
		out[k] = v
	}
	return out
}

func TestDriverStartAndDelete(t *testing.T) {
	client := NewStubClient()
	drv := New(client, &tychoconfig.EngineConfig{PlatformIP: "10.1.1.1"})

	system := newTestSystem("guid1", "app-guid1")
	labels := toInterfaceMap(system.Labels(""))

	manifests := &project.ManifestSet{
		Deployment: map[string]interface{}{"metadata": map[string]interface{}{"name": system.Name, "labels": labels}},
		Services: []map[string]interface{}{
			{"metadata": map[string]interface{}{"name": "web-guid1", "labels": labels}},
		},
	}

	result, err := drv.Start(context.Background(), system, manifests)
	require.NoError(t, err)
	assert.Equal(t, "running", result.Status)
	assert.Equal(t, "app-guid1", result.Name)

	statuses, err := drv.Status(context.Background(), "default", "guid1")
	require.NoError(t, err)
	assert.Len(t, statuses, 1)

	require.NoError(t, drv.Delete(context.Background(), "default", "guid1"))

	statuses, err = drv.Status(context.Background(), "default", "guid1")
	require.NoError(t, err)
	assert.Empty(t, statuses)
}

func TestDriverModifyRequiresExistingDeployment(t *testing.T) {
	client := NewStubClient()
	drv := New(client, &tychoconfig.EngineConfig{})

	err := drv.Modify(context.Background(), "default", model.Modification{GUID: "missing"})
	assert.Error(t, err)
}
