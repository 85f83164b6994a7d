// Package web provides HTTP handlers and REST API endpoints for workflow
// definition, publishing, draft staging and flow execution.
package web

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"

	"github.com/flowvia/flowvia/pkg/draft"
	"github.com/flowvia/flowvia/pkg/models"
	"github.com/flowvia/flowvia/pkg/services"
)

// Tenancy and identity arrive as opaque header values. Resolving them is the
// gateway's job; this layer only refuses requests that carry neither.
const (
	HeaderTenantID = "X-Tenant-ID"
	HeaderActorID  = "X-Actor-ID"
)

const tenantLocal = "tenant_id"

type APIHandlers struct {
	workflowService   *services.Workflow
	publishingService *services.Publishing
	flowService       *services.Flow
	stage             *draft.Stage
	validator         *validator.Validate
}

func NewAPIHandlers(
	workflowService *services.Workflow,
	publishingService *services.Publishing,
	flowService *services.Flow,
	stage *draft.Stage,
	validator *validator.Validate,
) *APIHandlers {
	return &APIHandlers{
		workflowService:   workflowService,
		publishingService: publishingService,
		flowService:       flowService,
		stage:             stage,
		validator:         validator,
	}
}

// Register mounts every API route. All workflow and flow routes are tenant
// scoped; the health endpoint is not.
func (h *APIHandlers) Register(app *fiber.App) {
	app.Get("/health", h.HealthCheck)

	w := app.Group("/workflows", RequireTenant)
	w.Get("/", h.GetWorkflows)
	w.Post("/", h.CreateWorkflow)
	w.Get("/:id", h.GetWorkflow)
	w.Delete("/:id", h.DeleteWorkflow)
	w.Put("/:id/layout", h.SaveLayout)
	w.Post("/:id/validate", h.ValidateWorkflow)
	w.Post("/:id/publish", h.PublishWorkflow)
	w.Post("/:id/revert", h.RevertToDraft)
	w.Get("/:id/versions", h.ListVersions)
	w.Get("/:id/versions/:version", h.GetVersion)
	w.Get("/:id/versions/:version/snapshot", h.GetSnapshot)

	d := app.Group("/workflows/:id/draft", RequireTenant)
	d.Post("/", h.EnsureDraft)
	d.Get("/", h.GetDraft)
	d.Delete("/", h.DiscardDraft)
	d.Put("/content", h.PutDraftContent)
	d.Put("/meta", h.SetDraftMeta)
	d.Put("/nodes", h.UpsertDraftNode)
	d.Delete("/nodes/:nodeId", h.RemoveDraftNode)
	d.Put("/gates", h.UpsertDraftGate)
	d.Delete("/gates/:gateId", h.RemoveDraftGate)
	d.Put("/fan-outs", h.UpsertDraftFanOut)
	d.Delete("/fan-outs/:ruleId", h.RemoveDraftFanOut)
	d.Post("/commit", h.CommitDraft)
	d.Get("/history", h.DraftHistory)
	d.Post("/restore", h.RestoreDraft)
	d.Post("/revert-layout", h.RevertDraftLayout)

	f := app.Group("/flows", RequireTenant)
	f.Post("/", h.StartFlow)
	f.Get("/groups/:groupId", h.GetFlowsByGroup)
	f.Get("/:id", h.GetFlow)
	f.Post("/:id/cancel", h.CancelFlow)
	f.Get("/:id/actionable", h.GetActionableTasks)
	f.Get("/:id/tasks/:taskId/actionable", h.GetTaskActionable)
	f.Post("/:id/tasks/:taskId/start", h.StartTask)
	f.Post("/:id/tasks/:taskId/outcome", h.RecordOutcome)
	f.Post("/:id/tasks/:taskId/evidence", h.AttachEvidence)
	f.Post("/:id/detours", h.OpenDetour)
	f.Post("/:id/detours/:detourId/escalate", h.EscalateDetour)
	f.Post("/:id/detours/:detourId/resolve", h.ResolveDetour)
	f.Post("/:id/detours/:detourId/convert", h.ConvertDetour)
}

// RequireTenant rejects requests without a tenant header and stashes the
// value for handlers.
func RequireTenant(c fiber.Ctx) error {
	tenant := strings.TrimSpace(c.Get(HeaderTenantID))
	if tenant == "" {
		return badRequest(c, HeaderTenantID+" header is required")
	}

	c.Locals(tenantLocal, tenant)

	return c.Next()
}

func tenantID(c fiber.Ctx) string {
	tenant, _ := c.Locals(tenantLocal).(string)

	return tenant
}

func actorID(c fiber.Ctx) string {
	return strings.TrimSpace(c.Get(HeaderActorID))
}

func (h *APIHandlers) HealthCheck(c fiber.Ctx) error {
	repositoryCheck, repOk := h.workflowService.HealthCheck(c.Context())

	status := "unhealthy"
	message := "Flowvia API is unhealthy"
	httpStatus := http.StatusInternalServerError

	if repOk {
		status = "healthy"
		message = "Flowvia API is healthy"
		httpStatus = http.StatusOK
	}

	return c.Status(httpStatus).JSON(fiber.Map{
		"status":  status,
		"message": message,
		"checkers": fiber.Map{
			"repository": repositoryCheck,
		},
		"timestamp": time.Now().UTC(),
	})
}

func (h *APIHandlers) GetWorkflows(c fiber.Ctx) error {
	req, err := h.parseListWorkflowsRequest(c)
	if err != nil {
		return badRequest(c, "Invalid query parameters: "+err.Error())
	}

	result, err := h.workflowService.ListWorkflows(c.Context(), *req)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(result)
}

// parseListWorkflowsRequest parses and validates query parameters for listing workflows.
func (h *APIHandlers) parseListWorkflowsRequest(c fiber.Ctx) (*services.ListWorkflowsRequest, error) {
	req := &services.ListWorkflowsRequest{TenantID: tenantID(c)}

	if pageStr := c.Query("page"); pageStr != "" {
		page, err := strconv.Atoi(pageStr)
		if err != nil {
			return nil, err
		}

		req.Page = page
	}

	if perPageStr := c.Query("per_page"); perPageStr != "" {
		perPage, err := strconv.Atoi(perPageStr)
		if err != nil {
			return nil, err
		}

		req.PerPage = perPage
	}

	req.Status = c.Query("status")
	req.SortBy = c.Query("sort_by")
	req.SortOrder = c.Query("sort_order")

	return req, nil
}

func (h *APIHandlers) GetWorkflow(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Workflow ID is required")
	}

	workflow, err := h.workflowService.FetchByID(c.Context(), id, tenantID(c))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(workflow)
}

func (h *APIHandlers) CreateWorkflow(c fiber.Ctx) error {
	actor := actorID(c)
	if actor == "" {
		return badRequest(c, HeaderActorID+" header is required")
	}

	var req CreateWorkflowRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	workflow := &models.Workflow{
		TenantID:    tenantID(c),
		Name:        req.Name,
		Description: req.Description,
		Metadata:    req.Metadata,
		Nodes:       []*models.Node{}, // Graph is authored through the draft endpoints
		Gates:       []*models.Gate{},
	}

	created, err := h.workflowService.Create(c.Context(), workflow, actor)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(created)
}

func (h *APIHandlers) DeleteWorkflow(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Workflow ID is required")
	}

	actor := actorID(c)
	if actor == "" {
		return badRequest(c, HeaderActorID+" header is required")
	}

	if err := h.workflowService.Delete(c.Context(), id, tenantID(c), actor); err != nil {
		return handleServiceError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

func (h *APIHandlers) SaveLayout(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Workflow ID is required")
	}

	var req SaveLayoutRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	if err := h.workflowService.SaveLayout(c.Context(), id, tenantID(c), req.Layout); err != nil {
		return handleServiceError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

func (h *APIHandlers) ValidateWorkflow(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Workflow ID is required")
	}

	// The body is optional: an empty POST runs the strict check.
	var req ValidateWorkflowRequest
	if len(c.Body()) > 0 {
		if err := c.Bind().JSON(&req); err != nil {
			return badRequest(c, "Invalid JSON format")
		}
	}

	report, err := h.publishingService.ValidateWorkflow(c.Context(), services.ValidateWorkflowRequest{
		WorkflowID:    id,
		TenantID:      tenantID(c),
		AllowWarnings: req.AllowWarnings,
	})
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(report)
}

func (h *APIHandlers) PublishWorkflow(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Workflow ID is required")
	}

	actor := actorID(c)
	if actor == "" {
		return badRequest(c, HeaderActorID+" header is required")
	}

	published, err := h.publishingService.PublishWorkflow(c.Context(), id, tenantID(c), actor)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(published)
}

func (h *APIHandlers) RevertToDraft(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Workflow ID is required")
	}

	actor := actorID(c)
	if actor == "" {
		return badRequest(c, HeaderActorID+" header is required")
	}

	reverted, err := h.publishingService.RevertToDraft(c.Context(), id, tenantID(c), actor)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(reverted)
}

func (h *APIHandlers) ListVersions(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Workflow ID is required")
	}

	versions, err := h.publishingService.ListVersions(c.Context(), id, tenantID(c))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(fiber.Map{"versions": versions})
}

func (h *APIHandlers) GetVersion(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Workflow ID is required")
	}

	version, err := strconv.Atoi(c.Params("version"))
	if err != nil {
		return badRequest(c, "Version must be an integer")
	}

	row, err := h.publishingService.GetVersion(c.Context(), id, tenantID(c), version)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(row)
}

func (h *APIHandlers) GetSnapshot(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Workflow ID is required")
	}

	version, err := strconv.Atoi(c.Params("version"))
	if err != nil {
		return badRequest(c, "Version must be an integer")
	}

	snapshot, err := h.publishingService.GetSnapshot(c.Context(), id, tenantID(c), version)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(snapshot)
}
