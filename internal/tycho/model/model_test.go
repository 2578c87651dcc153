package model

import "testing"

func TestSystemLabels(t *testing.T) {
	sys := &System{
		Identifier: "abc123",
		Name:       "myapp-abc123",
		Principal:  Principal{Username: "alice"},
	}

	labels := sys.Labels("")
	if labels[LabelExecutor] != LabelExecutorValue {
		t.Errorf("executor label = %q, want %q", labels[LabelExecutor], LabelExecutorValue)
	}
	if labels[LabelGUID] != "abc123" {
		t.Errorf("guid label = %q, want %q", labels[LabelGUID], "abc123")
	}
	if labels[LabelName] != "myapp-abc123" {
		t.Errorf("name label = %q, want %q", labels[LabelName], "myapp-abc123")
	}
	if labels[LabelUsername] != "alice" {
		t.Errorf("username label = %q, want %q", labels[LabelUsername], "alice")
	}
	if _, ok := labels[LabelAppID]; ok {
		t.Errorf("app_id label should be absent when appID is empty, got %q", labels[LabelAppID])
	}
}

func TestSystemLabelsWithAppID(t *testing.T) {
	sys := &System{Identifier: "g1", Name: "n1", Principal: Principal{Username: "bob"}}
	labels := sys.Labels("jupyter")
	if labels[LabelAppID] != "jupyter" {
		t.Errorf("app_id label = %q, want %q", labels[LabelAppID], "jupyter")
	}
}
