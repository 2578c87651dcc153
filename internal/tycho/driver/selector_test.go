package driver

import "testing"

func TestParseSelector(t *testing.T) {
	got := parseSelector("tycho-guid=abc,executor=tycho")
	want := map[string]string{"tycho-guid": "abc", "executor": "tycho"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for k, v := range want {
		if got[k] != v {
			t.Errorf("selector[%q] = %q, want %q", k, got[k], v)
		}
	}
}

func TestParseSelectorEmpty(t *testing.T) {
	if got := parseSelector(""); len(got) != 0 {
		t.Errorf("expected an empty map, got %v", got)
	}
}

func TestMatchesSelector(t *testing.T) {
	labels := map[string]string{"tycho-guid": "abc", "name": "web"}

	if !matchesSelector(labels, map[string]string{"tycho-guid": "abc"}) {
		t.Error("expected a match on a subset selector")
	}
	if matchesSelector(labels, map[string]string{"tycho-guid": "other"}) {
		t.Error("expected no match when a selector value differs")
	}
	if !matchesSelector(labels, map[string]string{}) {
		t.Error("an empty selector should match everything")
	}
}
