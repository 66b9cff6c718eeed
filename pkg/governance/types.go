package governance

import "fmt"

// ToolCategory groups tool collaborators for role gating
type ToolCategory string

const (
	ToolFilesystem      ToolCategory = "filesystem"
	ToolVersionControl  ToolCategory = "version_control"
	ToolProcessExec     ToolCategory = "process_exec"
	ToolTestRunner      ToolCategory = "test_runner"
	ToolArtifactPublish ToolCategory = "artifact_publish"
)

// ToolCategories lists every known category
var ToolCategories = []ToolCategory{
	ToolFilesystem,
	ToolVersionControl,
	ToolProcessExec,
	ToolTestRunner,
	ToolArtifactPublish,
}

// ParseToolCategory validates a category name
func ParseToolCategory(s string) (ToolCategory, error) {
	for _, c := range ToolCategories {
		if string(c) == s {
			return c, nil
		}
	}
	return "", fmt.Errorf("unknown tool category: %s", s)
}

// DataClass is a sensitivity tier
type DataClass string

const (
	DataClassPublic   DataClass = "public"
	DataClassInternal DataClass = "internal"
	DataClassPII      DataClass = "pii"
	DataClassSecrets  DataClass = "secrets"
)

// DataClassDecision is the result of CheckDataClass
type DataClassDecision struct {
	Allowed           bool
	RequiresRedaction bool
	Reason            string
}

// ApprovalDecision is the result of RequiresApproval
type ApprovalDecision struct {
	Required bool
	Reason   string
}

// ApprovalStatus is the tri-state outcome of an approval evaluation
type ApprovalStatus string

const (
	ApprovalNotRequired        ApprovalStatus = "not_required"
	ApprovalRequiredApproved   ApprovalStatus = "required_approved"
	ApprovalRequiredUnapproved ApprovalStatus = "required_unapproved"
)
