package tus

import (
	"context"
)

// Operation names the protected operation passed to a Permission
type Operation string

const (
	OpCreate        Operation = "create"
	OpStatus        Operation = "status"
	OpAppend        Operation = "append"
	OpTerminate     Operation = "terminate"
	OpConcatenate   Operation = "concatenate"
	OpDeclareLength Operation = "declare-length"
)

// Decision is a permission verdict
type Decision int

const (
	Deny Decision = iota
	Allow
)

// Permission decides whether the caller in ctx may perform op on id. id is
// empty for create and concatenate. A non-nil error denies the request and
// its message is returned to the client.
type Permission func(ctx context.Context, op Operation, id string) (Decision, error)

// AllowAll permits every operation
func AllowAll(context.Context, Operation, string) (Decision, error) {
	return Allow, nil
}

func (h *Handler) authorize(ctx context.Context, op Operation, id string) error {
	decision, err := h.permission(ctx, op, id)
	if err != nil {
		return wrapError(ErrCodePermissionDenied, id, err, "permission denied")
	}
	if decision != Allow {
		return newError(ErrCodePermissionDenied, id, "permission denied for %s", op)
	}
	return nil
}
