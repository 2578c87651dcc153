package driver

import "strings"

// parseSelector turns a "k1=v1,k2=v2" string, the only form the driver ever
// constructs, into a map for the stub fabric's in-memory matching.
func parseSelector(selector string) map[string]string {
	sel := map[string]string{}
	if selector == "" {
		return sel
	}
	for _, pair := range strings.Split(selector, ",") {
		parts := strings.SplitN(pair, "=", 2)
		if len(parts) != 2 {
			continue
		}
		sel[strings.TrimSpace(parts[0])] = strings.TrimSpace(parts[1])
	}
	return sel
}

func matchesSelector(labels map[string]string, selector map[string]string) bool {
	for k, v := range selector {
		if labels[k] != v {
			return false
		}
	}
	return true
}
