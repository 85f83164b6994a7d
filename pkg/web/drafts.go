package web

import (
	"github.com/gofiber/fiber/v3"

	"github.com/flowvia/flowvia/pkg/draft"
	"github.com/flowvia/flowvia/pkg/models"
)

// Draft endpoints edit the staging buffer only. Relational truth changes on
// commit and nowhere else; graph payloads bind straight to the draft models
// because the stage checks them for hydration at commit time.

func (h *APIHandlers) EnsureDraft(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Workflow ID is required")
	}

	actor := actorID(c)
	if actor == "" {
		return badRequest(c, HeaderActorID+" header is required")
	}

	buffer, err := h.stage.EnsureBuffer(c.Context(), id, tenantID(c), actor)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(buffer)
}

func (h *APIHandlers) GetDraft(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Workflow ID is required")
	}

	buffer, err := h.stage.GetBuffer(c.Context(), id, tenantID(c))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(buffer)
}

func (h *APIHandlers) DiscardDraft(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Workflow ID is required")
	}

	actor := actorID(c)
	if actor == "" {
		return badRequest(c, HeaderActorID+" header is required")
	}

	if err := h.stage.Discard(c.Context(), id, tenantID(c), actor); err != nil {
		return handleServiceError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

func (h *APIHandlers) PutDraftContent(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Workflow ID is required")
	}

	var content models.DraftContent
	if err := c.Bind().JSON(&content); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	buffer, err := h.stage.PutContent(c.Context(), id, tenantID(c), &content)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(buffer)
}

func (h *APIHandlers) SetDraftMeta(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Workflow ID is required")
	}

	var req SetDraftMetaRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	buffer, err := h.stage.SetWorkflowMeta(c.Context(), id, tenantID(c), draft.Meta{
		Name:           req.Name,
		Description:    req.Description,
		NonTerminating: req.NonTerminating,
	})
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(buffer)
}

func (h *APIHandlers) UpsertDraftNode(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Workflow ID is required")
	}

	var node models.DraftNode
	if err := c.Bind().JSON(&node); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	buffer, err := h.stage.UpdateNode(c.Context(), id, tenantID(c), &node)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(buffer)
}

func (h *APIHandlers) RemoveDraftNode(c fiber.Ctx) error {
	id := c.Params("id")
	nodeID := c.Params("nodeId")

	if id == "" || nodeID == "" {
		return badRequest(c, "Workflow ID and node ID are required")
	}

	buffer, err := h.stage.RemoveNode(c.Context(), id, tenantID(c), nodeID)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(buffer)
}

func (h *APIHandlers) UpsertDraftGate(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Workflow ID is required")
	}

	var gate models.Gate
	if err := c.Bind().JSON(&gate); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	buffer, err := h.stage.UpsertGate(c.Context(), id, tenantID(c), &gate)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(buffer)
}

func (h *APIHandlers) RemoveDraftGate(c fiber.Ctx) error {
	id := c.Params("id")
	gateID := c.Params("gateId")

	if id == "" || gateID == "" {
		return badRequest(c, "Workflow ID and gate ID are required")
	}

	buffer, err := h.stage.RemoveGate(c.Context(), id, tenantID(c), gateID)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(buffer)
}

func (h *APIHandlers) UpsertDraftFanOut(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Workflow ID is required")
	}

	var rule models.FanOutRule
	if err := c.Bind().JSON(&rule); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	buffer, err := h.stage.UpsertFanOut(c.Context(), id, tenantID(c), &rule)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(buffer)
}

func (h *APIHandlers) RemoveDraftFanOut(c fiber.Ctx) error {
	id := c.Params("id")
	ruleID := c.Params("ruleId")

	if id == "" || ruleID == "" {
		return badRequest(c, "Workflow ID and rule ID are required")
	}

	buffer, err := h.stage.RemoveFanOut(c.Context(), id, tenantID(c), ruleID)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(buffer)
}

func (h *APIHandlers) CommitDraft(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Workflow ID is required")
	}

	actor := actorID(c)
	if actor == "" {
		return badRequest(c, HeaderActorID+" header is required")
	}

	var req CommitDraftRequest
	if len(c.Body()) > 0 {
		if err := c.Bind().JSON(&req); err != nil {
			return badRequest(c, "Invalid JSON format")
		}

		if err := h.validator.Struct(req); err != nil {
			return badRequest(c, err.Error())
		}
	}

	event, err := h.stage.Commit(c.Context(), id, tenantID(c), req.Label, actor)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(event)
}

func (h *APIHandlers) DraftHistory(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Workflow ID is required")
	}

	events, err := h.stage.History(c.Context(), id, tenantID(c))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(fiber.Map{"events": events})
}

func (h *APIHandlers) RestoreDraft(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Workflow ID is required")
	}

	actor := actorID(c)
	if actor == "" {
		return badRequest(c, HeaderActorID+" header is required")
	}

	var req RestoreDraftRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	buffer, err := h.stage.Restore(c.Context(), id, tenantID(c), req.Seq, actor)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(buffer)
}

func (h *APIHandlers) RevertDraftLayout(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Workflow ID is required")
	}

	if err := h.stage.RevertLayout(c.Context(), id, tenantID(c)); err != nil {
		return handleServiceError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}
