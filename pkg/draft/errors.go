package draft

import (
	"errors"

	"github.com/flowvia/flowvia/pkg/persistence"
)

var (
	// ErrTenantMismatch is returned when the tenant does not own the
	// workflow. Operations never rescope silently.
	ErrTenantMismatch = errors.New("workflow is not owned by tenant")

	// ErrCannotModifyPublished is returned when a commit targets a
	// published workflow. Publishing freezes relational truth.
	ErrCannotModifyPublished = errors.New("cannot modify a published workflow")

	// ErrInvalidContent flags buffer content that cannot hydrate into
	// relational rows.
	ErrInvalidContent = errors.New("invalid draft content")

	// ErrNodeNotFound is returned when a buffer mutation targets a node
	// that is not in the draft.
	ErrNodeNotFound = errors.New("node not found in draft")

	// ErrGateNotFound is returned when a buffer mutation targets a gate
	// that is not in the draft.
	ErrGateNotFound = errors.New("gate not found in draft")

	// ErrFanOutNotFound is returned when a buffer mutation targets a
	// fan-out rule that is not in the draft.
	ErrFanOutNotFound = errors.New("fan-out rule not found in draft")

	// ErrWorkflowNotFound is returned when the workflow does not exist.
	ErrWorkflowNotFound = persistence.ErrWorkflowNotFound

	// ErrBufferNotFound is returned when no draft buffer exists for the
	// workflow and tenant.
	ErrBufferNotFound = persistence.ErrBufferNotFound

	// ErrEventNotFound is returned when a draft history event does not exist.
	ErrEventNotFound = persistence.ErrEventNotFound
)
