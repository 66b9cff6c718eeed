package governance

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubDetector struct{ hit bool }

func (s stubDetector) ContainsSecret(string) bool { return s.hit }

func TestInferDataClass_Precedence(t *testing.T) {
	e := newTestEngine(t)

	tests := []struct {
		name string
		text string
		want DataClass
	}{
		{"plain", "refactor the budget tracker", DataClassPublic},
		{"internal marker", "this design is confidential", DataClassInternal},
		{"pii word", "update the phone field", DataClassPII},
		{"pii pattern", "contact jane@example.com", DataClassPII},
		{"pii beats internal", "confidential: jane@example.com", DataClassPII},
		{"secret assignment", "password=abc123", DataClassSecrets},
		{"secret in json", `{"api_key": "xyz"}`, DataClassSecrets},
		{"secret beats pii", "email jane@example.com token: abc", DataClassSecrets},
		{"secret beats internal", "internal only, secret=hunter2", DataClassSecrets},
		{"provider key prefix", "use sk-proj_abcdefghijklmnop1234", DataClassSecrets},
		{"high entropy key", "key is AbX9kLm2Qp7Rt4Vw8Yz1Cd6Fg", DataClassSecrets},
		{"long lowercase identifier", "see pkg/governance/dataclass_test", DataClassPublic},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, e.InferDataClass(tt.text))
		})
	}
}

func TestClassifyWithOverride(t *testing.T) {
	e := newTestEngine(t)
	assert.Equal(t, DataClassPublic, e.ClassifyWithOverride("password=abc123", DataClassPublic))
	assert.Equal(t, DataClassSecrets, e.ClassifyWithOverride("password=abc123", ""))
}

func TestInferDataClass_SecretDetector(t *testing.T) {
	e, err := NewEngine(testConfig(), WithSecretDetector(stubDetector{hit: true}))
	require.NoError(t, err)
	assert.Equal(t, DataClassSecrets, e.InferDataClass("nothing suspicious here"))
}

func TestCheckDataClass(t *testing.T) {
	e := newTestEngine(t)

	tests := []struct {
		name          string
		role          string
		class         DataClass
		wantAllowed   bool
		wantRedaction bool
	}{
		{"public any role", "readonly", DataClassPublic, true, false},
		{"internal listed role", "engineer", DataClassInternal, true, false},
		{"internal unlisted role", "readonly", DataClassInternal, false, false},
		{"pii allowed with redaction", "engineer", DataClassPII, true, true},
		{"secrets denied for engineer", "engineer", DataClassSecrets, false, true},
		{"secrets allowed for admin", "admin", DataClassSecrets, true, true},
		{"blocked class denies admin", "admin", DataClass("export"), false, false},
		{"unknown class allowed", "readonly", DataClass("telemetry"), true, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := e.CheckDataClass(tt.role, tt.class)
			assert.Equal(t, tt.wantAllowed, d.Allowed)
			assert.Equal(t, tt.wantRedaction, d.RequiresRedaction)
			if !tt.wantAllowed {
				assert.NotEmpty(t, d.Reason)
			}
		})
	}
}

func TestRedact_PIIRoundTrip(t *testing.T) {
	e := newTestEngine(t)

	tests := []struct {
		name     string
		original string
		marker   string
	}{
		{"email", "jane.doe+ops@example.co.uk", "[REDACTED_EMAIL]"},
		{"phone dashed", "555-123-4567", "[REDACTED_PHONE]"},
		{"phone parenthesized", "(555) 123-4567", "[REDACTED_PHONE]"},
		{"phone international", "+1 555 123 4567", "[REDACTED_PHONE]"},
		{"ssn", "123-45-6789", "[REDACTED_SSN]"},
		{"credit card", "4111 1111 1111 1111", "[REDACTED_CREDIT_CARD]"},
		{"ip", "10.20.30.40", "[REDACTED_IP]"},
		{"dob iso", "1990-04-12", "[REDACTED_DOB]"},
		{"dob us", "4/12/1990", "[REDACTED_DOB]"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			text := "customer record: " + tt.original + " (verified)"
			out := e.Redact(text, DataClassPII)
			assert.NotContains(t, out, tt.original)
			assert.Contains(t, out, tt.marker)
			assert.True(t, strings.HasPrefix(out, "customer record: "))
		})
	}
}

func TestRedact_SecretsCollapse(t *testing.T) {
	e := newTestEngine(t)
	assert.Equal(t, SecretsMarker, e.Redact("db password=abc123 host=10.0.0.1", DataClassSecrets))
	assert.Equal(t, "", e.Redact("", DataClassSecrets))
}

func TestRedact_NoRedactionClasses(t *testing.T) {
	e := newTestEngine(t)
	text := "mail jane@example.com"
	assert.Equal(t, text, e.Redact(text, DataClassPublic))
	assert.Equal(t, text, e.Redact(text, DataClass("unknown")))
}

func TestRedact_SelectedPatterns(t *testing.T) {
	cfg := testConfig()
	cfg.Governance.DataClasses["pii"] = cfgDataClass(true, "email")
	e, err := NewEngine(cfg)
	require.NoError(t, err)

	out := e.Redact("jane@example.com 555-123-4567", DataClassPII)
	assert.Equal(t, "[REDACTED_EMAIL] 555-123-4567", out)
}

func TestRedactPII_AllPatterns(t *testing.T) {
	out := redactPII("ssn 123-45-6789, mail a@b.io", piiPatterns)
	assert.Equal(t, "ssn [REDACTED_SSN], mail [REDACTED_EMAIL]", out)
}

func TestShannonEntropy(t *testing.T) {
	assert.Equal(t, 0.0, shannonEntropy(""))
	assert.Equal(t, 0.0, shannonEntropy("aaaa"))
	assert.InDelta(t, 1.0, shannonEntropy("abab"), 0.0001)
}
