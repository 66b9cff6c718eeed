package tools

import (
	"fmt"

	"github.com/lelandsequel/shipmachine/pkg/artifact"
	"github.com/lelandsequel/shipmachine/pkg/governance"
)

// ArtifactPublish writes evidence bundles for roles holding artifact_publish
type ArtifactPublish struct {
	policy Policy
	guard  *Guard
	role   string
	writer *artifact.Writer
}

// NewArtifactPublish creates a publish tool for role
func NewArtifactPublish(policy Policy, guard *Guard, role string, writer *artifact.Writer) *ArtifactPublish {
	return &ArtifactPublish{policy: policy, guard: guard, role: role, writer: writer}
}

// Publish writes bundle into dir. The directory must be inside the workspace
// or a whitelisted directory.
func (a *ArtifactPublish) Publish(dir string, bundle artifact.Bundle) (*artifact.Manifest, error) {
	if err := checkTool(a.policy, a.role, governance.ToolArtifactPublish); err != nil {
		return nil, err
	}
	if err := a.guard.ValidatePath(dir); err != nil {
		return nil, &PathNotAllowedError{Path: dir, Reason: err.Error(), OutsideWorkspace: true}
	}
	resolved, err := a.guard.ResolvePath(dir)
	if err != nil {
		return nil, err
	}
	m, err := a.writer.WriteBundle(resolved, bundle)
	if err != nil {
		return nil, fmt.Errorf("failed to publish artifacts: %w", err)
	}
	return m, nil
}
