package bridge

import (
	"errors"
	"fmt"
	"strings"

	"github.com/lelandsequel/shipmachine/pkg/governance"
	"github.com/lelandsequel/shipmachine/pkg/operations"
)

// PolicyDeniedError is returned when the policy engine refuses the operation
// or the model for a role
type PolicyDeniedError struct {
	Role        string
	OperationID string
	Model       string
	Reason      string
}

func (e *PolicyDeniedError) Error() string {
	return fmt.Sprintf("policy denied: role %q cannot run %s: %s", e.Role, e.OperationID, e.Reason)
}

// RbacDeniedError is returned when the secondary authorizer refuses the call
type RbacDeniedError struct {
	Role        string
	OperationID string
}

func (e *RbacDeniedError) Error() string {
	return fmt.Sprintf("rbac denied: role %q is not granted %s", e.Role, e.OperationID)
}

// DataClassDeniedError is returned when the role may not handle the inferred
// data class of the inputs
type DataClassDeniedError struct {
	Role      string
	DataClass governance.DataClass
	Reason    string
}

func (e *DataClassDeniedError) Error() string {
	return fmt.Sprintf("data class denied: role %q cannot handle %s data: %s", e.Role, e.DataClass, e.Reason)
}

// OperationNotFoundError is returned for an id missing from the registry
type OperationNotFoundError struct {
	ID    string
	Known []string
}

func (e *OperationNotFoundError) Error() string {
	return fmt.Sprintf("operation not found: %s (known: %s)", e.ID, strings.Join(e.Known, ", "))
}

// ModelCallFailedError wraps an invoker failure
type ModelCallFailedError struct {
	OperationID string
	Model       string
	Err         error
}

func (e *ModelCallFailedError) Error() string {
	return fmt.Sprintf("model call failed for %s (%s): %v", e.OperationID, e.Model, e.Err)
}

func (e *ModelCallFailedError) Unwrap() error { return e.Err }

// SchemaViolationError is returned when the model output lacks required fields
type SchemaViolationError struct {
	OperationID string
	Err         *operations.MissingFieldsError
}

func (e *SchemaViolationError) Error() string {
	return fmt.Sprintf("schema violation in %s: %v", e.OperationID, e.Err)
}

func (e *SchemaViolationError) Unwrap() error { return e.Err }

// Missing lists the absent required fields
func (e *SchemaViolationError) Missing() []string {
	if e.Err == nil {
		return nil
	}
	return e.Err.Fields
}

// ApprovalRequiredError is returned in block mode when an operation needs an
// approval the caller did not supply
type ApprovalRequiredError struct {
	OperationID string
	Reason      string
}

func (e *ApprovalRequiredError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("approval required for %s", e.OperationID)
	}
	return fmt.Sprintf("approval required for %s: %s", e.OperationID, e.Reason)
}

// IsDenied reports whether err is one of the governance refusals
func IsDenied(err error) bool {
	var (
		policyErr   *PolicyDeniedError
		rbacErr     *RbacDeniedError
		dataErr     *DataClassDeniedError
		approvalErr *ApprovalRequiredError
	)
	return errors.As(err, &policyErr) || errors.As(err, &rbacErr) ||
		errors.As(err, &dataErr) || errors.As(err, &approvalErr)
}
