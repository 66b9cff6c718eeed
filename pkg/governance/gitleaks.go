package governance

import (
	"sync"

	"github.com/zricethezav/gitleaks/v8/detect"
)

// GitleaksDetector flags text matched by the default gitleaks rule set
type GitleaksDetector struct {
	detector *detect.Detector
	// the gitleaks detector keeps per-scan state
	mu sync.Mutex
}

// NewGitleaksDetector loads the default gitleaks configuration
func NewGitleaksDetector() (*GitleaksDetector, error) {
	d, err := detect.NewDetectorDefaultConfig()
	if err != nil {
		return nil, err
	}
	return &GitleaksDetector{detector: d}, nil
}

// ContainsSecret reports whether any gitleaks rule matches text
func (g *GitleaksDetector) ContainsSecret(text string) bool {
	if text == "" {
		return false
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.detector.DetectString(text)) > 0
}
