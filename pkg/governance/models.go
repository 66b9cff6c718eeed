package governance

import "strings"

// IsModelAllowed reports whether role may call model. An entry matches the
// model exactly or as a prefix of it ("gpt-4o" admits "gpt-4o-mini", never
// the reverse). A trailing "*" on an entry is accepted. With no model
// allowlist configured every model is allowed.
func (e *Engine) IsModelAllowed(roleName, model string) bool {
	pol := e.current()
	if len(pol.modelAllowlist) == 0 {
		return true
	}
	if _, ok := pol.roles[roleName]; !ok {
		return false
	}
	entries, ok := pol.modelAllowlist[roleName]
	if !ok {
		return false
	}
	for _, entry := range entries {
		entry = strings.TrimSuffix(strings.TrimSpace(entry), "*")
		if entry == "" {
			return true
		}
		if model == entry || strings.HasPrefix(model, entry) {
			return true
		}
	}
	return false
}
