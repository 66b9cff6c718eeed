package governance

import (
	"fmt"
	"math"
	"regexp"
)

// SecretDetector is an additional secrets signal consulted by InferDataClass
type SecretDetector interface {
	ContainsSecret(text string) bool
}

var (
	secretKeywordPattern = regexp.MustCompile(`(?i)\b(passw(or)?d|passwd|pwd|secret|api[_-]?key|apikey|access[_-]?key|auth[_-]?token|token|bearer|credentials?|private[_ -]key|client[_-]secret)\b["']?\s*[:=]`)
	secretPhrasePattern  = regexp.MustCompile(`(?i)(-----BEGIN [A-Z ]*PRIVATE KEY-----|\bauthorization:\s*bearer\b|\b(password|passwd|secret key|api key|access token)\s+(is|was)\s+\S+)`)
	secretPrefixPattern  = regexp.MustCompile(`\b(sk-[A-Za-z0-9_-]{16,}|ghp_[A-Za-z0-9]{20,}|github_pat_[A-Za-z0-9_]{20,}|xox[abpr]-[A-Za-z0-9-]{10,}|AKIA[0-9A-Z]{16}|AIza[0-9A-Za-z_-]{30,})`)
	keyLikePattern       = regexp.MustCompile(`[A-Za-z0-9+/_=-]{20,}`)

	piiWordPattern      = regexp.MustCompile(`(?i)\b(e-?mail|phone|ssn|social security|address|date of birth|dob)\b`)
	internalWordPattern = regexp.MustCompile(`(?i)\b(confidential|internal[ -]only|proprietary|do not distribute|restricted|internal use)\b`)
)

// highEntropyThreshold is the Shannon entropy (bits per char) above which a
// key-like substring counts as a credential
const highEntropyThreshold = 3.5

// InferDataClass classifies text with precedence secrets > pii > internal > public
func (e *Engine) InferDataClass(text string) DataClass {
	return e.ClassifyWithOverride(text, "")
}

// ClassifyWithOverride returns override when set, otherwise the inferred class
func (e *Engine) ClassifyWithOverride(text string, override DataClass) DataClass {
	if override != "" {
		return override
	}
	switch {
	case e.containsSecret(text):
		return DataClassSecrets
	case containsPII(text):
		return DataClassPII
	case internalWordPattern.MatchString(text):
		return DataClassInternal
	default:
		return DataClassPublic
	}
}

func (e *Engine) containsSecret(text string) bool {
	if secretKeywordPattern.MatchString(text) || secretPhrasePattern.MatchString(text) || secretPrefixPattern.MatchString(text) {
		return true
	}
	for _, candidate := range keyLikePattern.FindAllString(text, -1) {
		if looksLikeKey(candidate) {
			return true
		}
	}
	e.mu.RLock()
	d := e.detector
	e.mu.RUnlock()
	return d != nil && d.ContainsSecret(text)
}

// looksLikeKey requires mixed character classes, a share of digits and high
// entropy so long identifiers and paths do not count
func looksLikeKey(s string) bool {
	var lower, upper, digits int
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z':
			lower++
		case r >= 'A' && r <= 'Z':
			upper++
		case r >= '0' && r <= '9':
			digits++
		}
	}
	if lower == 0 || upper == 0 || digits*10 < len(s) {
		return false
	}
	return shannonEntropy(s) >= highEntropyThreshold
}

func shannonEntropy(s string) float64 {
	if s == "" {
		return 0
	}
	counts := make(map[rune]int)
	for _, r := range s {
		counts[r]++
	}
	n := float64(len([]rune(s)))
	var h float64
	for _, c := range counts {
		p := float64(c) / n
		h -= p * math.Log2(p)
	}
	return h
}

func containsPII(text string) bool {
	if piiWordPattern.MatchString(text) {
		return true
	}
	for _, p := range piiPatterns {
		if p.detect && p.re.MatchString(text) {
			return true
		}
	}
	return false
}

// CheckDataClass decides whether role may send data of class to a model.
// Blocked classes deny every role. Unknown classes are allowed.
func (e *Engine) CheckDataClass(roleName string, class DataClass) DataClassDecision {
	rule, ok := e.current().dataClasses[class]
	if !ok {
		return DataClassDecision{Allowed: true}
	}

	decision := DataClassDecision{RequiresRedaction: rule.requiresRedaction}
	switch {
	case rule.blocked:
		decision.Reason = fmt.Sprintf("data class %s is blocked for all roles", class)
	case rule.anyRole || rule.allowedRoles[roleName]:
		decision.Allowed = true
	default:
		decision.Reason = fmt.Sprintf("role %s is not permitted to process %s data", roleName, class)
	}
	return decision
}

// RequiresRedaction reports whether class is configured for redaction
func (e *Engine) RequiresRedaction(class DataClass) bool {
	rule, ok := e.current().dataClasses[class]
	return ok && rule.requiresRedaction
}
