package web

import (
	"context"

	"github.com/gofiber/fiber/v3"

	"github.com/flowvia/flowvia/pkg/models"
	"github.com/flowvia/flowvia/pkg/services"
)

func (h *APIHandlers) StartFlow(c fiber.Ctx) error {
	actor := actorID(c)
	if actor == "" {
		return badRequest(c, HeaderActorID+" header is required")
	}

	var req StartFlowRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	flow, err := h.flowService.StartFlow(c.Context(), services.StartFlowRequest{
		TenantID:   tenantID(c),
		WorkflowID: req.WorkflowID,
		Version:    req.Version,
		GroupID:    req.GroupID,
		StartedBy:  actor,
	})
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(flow)
}

func (h *APIHandlers) GetFlow(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Flow ID is required")
	}

	detail, err := h.flowService.GetFlow(c.Context(), id, tenantID(c))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(detail)
}

func (h *APIHandlers) GetFlowsByGroup(c fiber.Ctx) error {
	groupID := c.Params("groupId")
	if groupID == "" {
		return badRequest(c, "Group ID is required")
	}

	flows, err := h.flowService.FlowsByGroup(c.Context(), groupID, tenantID(c))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(fiber.Map{"flows": flows})
}

func (h *APIHandlers) CancelFlow(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Flow ID is required")
	}

	actor := actorID(c)
	if actor == "" {
		return badRequest(c, HeaderActorID+" header is required")
	}

	var req CancelFlowRequest
	if len(c.Body()) > 0 {
		if err := c.Bind().JSON(&req); err != nil {
			return badRequest(c, "Invalid JSON format")
		}

		if err := h.validator.Struct(req); err != nil {
			return badRequest(c, err.Error())
		}
	}

	flow, err := h.flowService.CancelFlow(c.Context(), id, tenantID(c), req.Reason, actor)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(flow)
}

func (h *APIHandlers) GetActionableTasks(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Flow ID is required")
	}

	tasks, err := h.flowService.GetActionableTasks(c.Context(), id, tenantID(c))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(fiber.Map{"tasks": tasks})
}

func (h *APIHandlers) GetTaskActionable(c fiber.Ctx) error {
	id := c.Params("id")
	taskID := c.Params("taskId")

	if id == "" || taskID == "" {
		return badRequest(c, "Flow ID and task ID are required")
	}

	actionable, err := h.flowService.IsTaskActionable(c.Context(), id, tenantID(c), taskID)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(fiber.Map{"task_id": taskID, "actionable": actionable})
}

func (h *APIHandlers) StartTask(c fiber.Ctx) error {
	id := c.Params("id")
	taskID := c.Params("taskId")

	if id == "" || taskID == "" {
		return badRequest(c, "Flow ID and task ID are required")
	}

	actor := actorID(c)
	if actor == "" {
		return badRequest(c, HeaderActorID+" header is required")
	}

	execution, err := h.flowService.StartTask(c.Context(), id, tenantID(c), taskID, actor)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(execution)
}

func (h *APIHandlers) RecordOutcome(c fiber.Ctx) error {
	id := c.Params("id")
	taskID := c.Params("taskId")

	if id == "" || taskID == "" {
		return badRequest(c, "Flow ID and task ID are required")
	}

	actor := actorID(c)
	if actor == "" {
		return badRequest(c, HeaderActorID+" header is required")
	}

	var req RecordOutcomeRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	result, err := h.flowService.RecordOutcome(c.Context(), id, tenantID(c), taskID, req.Outcome, actor)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(result)
}

func (h *APIHandlers) AttachEvidence(c fiber.Ctx) error {
	id := c.Params("id")
	taskID := c.Params("taskId")

	if id == "" || taskID == "" {
		return badRequest(c, "Flow ID and task ID are required")
	}

	actor := actorID(c)
	if actor == "" {
		return badRequest(c, HeaderActorID+" header is required")
	}

	var req AttachEvidenceRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	attachment, err := h.flowService.AttachEvidence(c.Context(), services.AttachEvidenceRequest{
		FlowID:         id,
		TenantID:       tenantID(c),
		TaskID:         taskID,
		Type:           models.EvidenceType(req.Type),
		Data:           req.Data,
		Actor:          actor,
		IdempotencyKey: req.IdempotencyKey,
	})
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(attachment)
}

func (h *APIHandlers) OpenDetour(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Flow ID is required")
	}

	actor := actorID(c)
	if actor == "" {
		return badRequest(c, HeaderActorID+" header is required")
	}

	var req OpenDetourRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	detour, err := h.flowService.OpenDetour(c.Context(), services.OpenDetourRequest{
		FlowID:                id,
		TenantID:              tenantID(c),
		CheckpointExecutionID: req.CheckpointExecutionID,
		ResumeTargetNodeID:    req.ResumeTargetNodeID,
		Type:                  models.DetourType(req.Type),
		Reason:                req.Reason,
		Actor:                 actor,
	})
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(detour)
}

func (h *APIHandlers) EscalateDetour(c fiber.Ctx) error {
	return h.detourAction(c, h.flowService.EscalateDetour)
}

func (h *APIHandlers) ResolveDetour(c fiber.Ctx) error {
	return h.detourAction(c, h.flowService.ResolveDetour)
}

func (h *APIHandlers) ConvertDetour(c fiber.Ctx) error {
	return h.detourAction(c, h.flowService.ConvertDetour)
}

// detourAction runs one of the detour state transitions, which all share the
// same shape: flow id, detour id, actor in, updated record out.
func (h *APIHandlers) detourAction(
	c fiber.Ctx,
	action func(ctx context.Context, flowID, tenantID, detourID, actor string) (*models.DetourRecord, error),
) error {
	id := c.Params("id")
	detourID := c.Params("detourId")

	if id == "" || detourID == "" {
		return badRequest(c, "Flow ID and detour ID are required")
	}

	actor := actorID(c)
	if actor == "" {
		return badRequest(c, HeaderActorID+" header is required")
	}

	detour, err := action(c.Context(), id, tenantID(c), detourID, actor)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(detour)
}
