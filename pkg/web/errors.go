package web

import (
	"errors"
	"strings"

	"github.com/gofiber/fiber/v3"
	"github.com/moogar0880/problems"

	"github.com/flowvia/flowvia/pkg/draft"
	"github.com/flowvia/flowvia/pkg/engine"
	"github.com/flowvia/flowvia/pkg/persistence"
	"github.com/flowvia/flowvia/pkg/services"
	"github.com/flowvia/flowvia/pkg/validation"
)

func badRequest(c fiber.Ctx, detail string) error {
	problem := problems.NewStatusProblem(400).
		WithInstance(c.Path()).
		WithType("validation_error").
		WithDetail(detail)

	return c.Status(fiber.StatusBadRequest).JSON(problem)
}

func notFound(c fiber.Ctx, problemType, detail string) error {
	problem := problems.NewStatusProblem(404).
		WithInstance(c.Path()).
		WithType(problemType).
		WithDetail(detail)

	return c.Status(fiber.StatusNotFound).JSON(problem)
}

func conflict(c fiber.Ctx, problemType, detail string) error {
	problem := problems.NewStatusProblem(409).
		WithInstance(c.Path()).
		WithType(problemType).
		WithDetail(detail)

	return c.Status(fiber.StatusConflict).JSON(problem)
}

func internalError(c fiber.Ctx, err error) error {
	problem := problems.NewStatusProblem(500).
		WithInstance(c.Path()).
		WithType("internal_error").
		WithError(err)

	return c.Status(fiber.StatusInternalServerError).JSON(problem)
}

// preconditionProblem is an engine precondition violation with its stable
// code attached, so clients can branch without parsing the detail text.
type preconditionProblem struct {
	*problems.DefaultProblem
	Code string `json:"code"`
}

// validationReportProblem carries the full finding list of a rejected
// publish, not just the first failure.
type validationReportProblem struct {
	*problems.DefaultProblem
	Findings []validation.Finding `json:"findings"`
}

// preconditionStatus maps engine precondition codes to HTTP statuses. A
// payload the definition rejects is the caller's mistake (400); a
// well-formed call at the wrong moment is a state conflict (409).
func preconditionStatus(code string) int {
	switch code {
	case engine.CodeInvalidOutcome, engine.CodeInvalidEvidenceFormat:
		return fiber.StatusBadRequest
	default:
		return fiber.StatusConflict
	}
}

// handleServiceError provides typed error handling for service layer errors.
func handleServiceError(c fiber.Ctx, err error) error {
	var (
		precondition     *engine.Error
		validationFailed *services.ValidationFailedError
	)

	switch {
	case errors.As(err, &precondition):
		status := preconditionStatus(precondition.Code)
		problem := &preconditionProblem{
			DefaultProblem: problems.NewStatusProblem(status).
				WithInstance(c.Path()).
				WithType(strings.ToLower(precondition.Code)).
				WithDetail(precondition.Message),
			Code: precondition.Code,
		}

		return c.Status(status).JSON(problem)

	case errors.As(err, &validationFailed):
		problem := &validationReportProblem{
			DefaultProblem: problems.NewStatusProblem(400).
				WithInstance(c.Path()).
				WithType("workflow_not_valid").
				WithDetail(validationFailed.Error()),
			Findings: validationFailed.Report.Findings,
		}

		return c.Status(fiber.StatusBadRequest).JSON(problem)

	case errors.Is(err, draft.ErrInvalidContent):
		problem := problems.NewStatusProblem(400).
			WithInstance(c.Path()).
			WithType("invalid_draft_content").
			WithDetail(err.Error())

		return c.Status(fiber.StatusBadRequest).JSON(problem)

	case services.IsValidationError(err):
		problem := problems.NewStatusProblem(400).
			WithInstance(c.Path()).
			WithType("validation_error").
			WithDetail(err.Error())

		return c.Status(fiber.StatusBadRequest).JSON(problem)

	case services.IsConflictError(err):
		return conflict(c, "conflict", err.Error())

	// A tenant mismatch is answered exactly like a missing resource, so
	// one tenant cannot probe another's ids.
	case errors.Is(err, services.ErrTenantMismatch):
		return notFound(c, "not_found", "not found")

	case errors.Is(err, services.ErrWorkflowNotFound):
		return notFound(c, "workflow_not_found", "workflow not found")

	case errors.Is(err, services.ErrVersionNotFound):
		return notFound(c, "version_not_found", "version not found")

	case errors.Is(err, services.ErrFlowNotFound):
		return notFound(c, "flow_not_found", "flow not found")

	case errors.Is(err, draft.ErrBufferNotFound):
		return notFound(c, "draft_buffer_not_found", "draft buffer not found")

	case errors.Is(err, draft.ErrEventNotFound):
		return notFound(c, "draft_event_not_found", "draft event not found")

	case errors.Is(err, draft.ErrNodeNotFound):
		return notFound(c, "draft_node_not_found", "node not found in draft")

	case errors.Is(err, draft.ErrGateNotFound):
		return notFound(c, "draft_gate_not_found", "gate not found in draft")

	case errors.Is(err, draft.ErrFanOutNotFound):
		return notFound(c, "draft_fan_out_not_found", "fan-out rule not found in draft")

	case errors.Is(err, persistence.ErrExecutionNotFound):
		return notFound(c, "execution_not_found", "task execution not found")

	case errors.Is(err, persistence.ErrDetourNotFound):
		return notFound(c, "detour_not_found", "detour not found")

	default:
		return internalError(c, err)
	}
}
