package governance

import (
	"fmt"
	"regexp"
)

// SecretsMarker replaces the whole text of a secrets-class value
const SecretsMarker = "[REDACTED_SECRETS]"

type piiPattern struct {
	name   string
	tag    string
	re     *regexp.Regexp
	detect bool // also used by PII inference
}

// piiPatterns run in order: more specific numeric shapes come before phone
var piiPatterns = []*piiPattern{
	{name: "email", tag: "[REDACTED_EMAIL]", re: regexp.MustCompile(`[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}`), detect: true},
	{name: "ssn", tag: "[REDACTED_SSN]", re: regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`), detect: true},
	{name: "credit_card", tag: "[REDACTED_CREDIT_CARD]", re: regexp.MustCompile(`\b(?:\d{4}[ -]?){3}\d{4}\b`), detect: true},
	{name: "dob", tag: "[REDACTED_DOB]", re: regexp.MustCompile(`\b(?:(?:19|20)\d{2}-(?:0[1-9]|1[0-2])-(?:0[1-9]|[12]\d|3[01])|(?:0?[1-9]|1[0-2])/(?:0?[1-9]|[12]\d|3[01])/(?:19|20)\d{2})\b`)},
	{name: "ip_address", tag: "[REDACTED_IP]", re: regexp.MustCompile(`\b(?:(?:25[0-5]|2[0-4]\d|1?\d?\d)\.){3}(?:25[0-5]|2[0-4]\d|1?\d?\d)\b`)},
	{name: "phone", tag: "[REDACTED_PHONE]", re: regexp.MustCompile(`(?:\+?\d{1,2}[\s.-]?)?\(?\b\d{3}\)?[\s.-]?\d{3}[\s.-]?\d{4}\b`), detect: true},
}

func selectPIIPatterns(names []string) ([]*piiPattern, error) {
	if len(names) == 0 {
		return piiPatterns, nil
	}
	wanted := make(map[string]bool, len(names))
	for _, n := range names {
		found := false
		for _, p := range piiPatterns {
			if p.name == n {
				found = true
				break
			}
		}
		if !found {
			return nil, fmt.Errorf("unknown redact pattern: %s", n)
		}
		wanted[n] = true
	}
	var out []*piiPattern
	for _, p := range piiPatterns {
		if wanted[p.name] {
			out = append(out, p)
		}
	}
	return out, nil
}

// Redact masks text for class. Secrets collapse to SecretsMarker. Other
// classes configured for redaction have each PII match replaced by a typed
// tag. Classes without redaction are returned unchanged.
func (e *Engine) Redact(text string, class DataClass) string {
	rule, ok := e.current().dataClasses[class]
	if class == DataClassSecrets && (!ok || rule.requiresRedaction) {
		if text == "" {
			return text
		}
		return SecretsMarker
	}
	if !ok || !rule.requiresRedaction {
		return text
	}
	return redactPII(text, rule.patterns)
}

func redactPII(text string, patterns []*piiPattern) string {
	for _, p := range patterns {
		text = p.re.ReplaceAllString(text, p.tag)
	}
	return text
}
