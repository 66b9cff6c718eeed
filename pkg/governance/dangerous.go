package governance

import (
	"regexp"
	"strings"
)

// dangerousSignature is one destructive command pattern
type dangerousSignature struct {
	name    string
	pattern *regexp.Regexp
}

// dangerousSignatures is fixed at build time; configuration cannot relax it
var dangerousSignatures = []dangerousSignature{
	{"recursive delete", regexp.MustCompile(`(?i)\brm\s+(-[a-z]*r[a-z]*f[a-z]*|-[a-z]*f[a-z]*r[a-z]*|-r\s+-f|-f\s+-r|--recursive\s+--force|--force\s+--recursive)\b`)},
	{"recursive delete", regexp.MustCompile(`(?i)\brm\s+(-[a-z]*r[a-z]*|--recursive)\s+/(\s|$)`)},
	{"privilege escalation", regexp.MustCompile(`(?i)(^|[;&|]\s*|\s)(sudo|doas)\s`)},
	{"privilege escalation", regexp.MustCompile(`(?i)(^|[;&|]\s*)su(\s+-|\s+root|\s*$)`)},
	{"disk format", regexp.MustCompile(`(?i)\bmkfs(\.[a-z0-9]+)?\b`)},
	{"disk format", regexp.MustCompile(`(?i)\b(fdisk|parted|wipefs)\b`)},
	{"raw device write", regexp.MustCompile(`(?i)\bdd\s+.*\bof=/dev/`)},
	{"raw device write", regexp.MustCompile(`>\s*/dev/(sd[a-z]|nvme|hd[a-z]|disk)`)},
	{"fork bomb", regexp.MustCompile(`:\(\)\s*\{\s*:\s*\|\s*:\s*&\s*\}\s*;\s*:`)},
	{"pipe to shell", regexp.MustCompile(`(?i)\b(curl|wget)\b[^|]*\|\s*(sudo\s+)?(ba|z|k|da)?sh\b`)},
	{"process kill", regexp.MustCompile(`(?i)\bkill\s+(-9|-kill|-sigkill)\b`)},
	{"process kill", regexp.MustCompile(`(?i)\b(killall|pkill)\b`)},
	{"system shutdown", regexp.MustCompile(`(?i)\b(shutdown|reboot|halt|poweroff)\b`)},
	{"permission change", regexp.MustCompile(`(?i)\bchmod\s+(-r\s+|--recursive\s+)?0?777\b`)},
	{"ownership change", regexp.MustCompile(`(?i)\bchown\s+(-r|--recursive)\b`)},
	{"history rewrite", regexp.MustCompile(`(?i)\bgit\s+push\b.*(\s--force\b|\s-f\b|\s--force-with-lease\b)`)},
	{"history rewrite", regexp.MustCompile(`(?i)\bgit\s+reset\s+--hard\b`)},
	{"history rewrite", regexp.MustCompile(`(?i)\bgit\s+clean\s+-[a-z]*f`)},
	{"schema-destructive SQL", regexp.MustCompile(`(?i)\bdrop\s+(table|database|schema|index|view)\b`)},
	{"schema-destructive SQL", regexp.MustCompile(`(?i)\btruncate\s+(table\s+)?\w+`)},
	{"schema-destructive SQL", regexp.MustCompile(`(?i)\bdelete\s+from\s+\w+\s*(;|$|")`)},
	{"schema-destructive SQL", regexp.MustCompile(`(?i)\balter\s+table\s+\w+\s+drop\b`)},
}

// IsDangerous reports whether command matches a destructive signature. It is
// independent of the allowlist.
func (e *Engine) IsDangerous(command string) bool {
	_, ok := DangerousReason(command)
	return ok
}

// DangerousReason returns the name of the first matching signature
func DangerousReason(command string) (string, bool) {
	command = strings.TrimSpace(command)
	if command == "" {
		return "", false
	}
	for _, sig := range dangerousSignatures {
		if sig.pattern.MatchString(command) {
			return sig.name, true
		}
	}
	return "", false
}
