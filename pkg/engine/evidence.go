package engine

import (
	"context"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
	"go.opentelemetry.io/otel/attribute"

	"github.com/flowvia/flowvia/pkg/events"
	"github.com/flowvia/flowvia/pkg/models"
	"github.com/flowvia/flowvia/pkg/otelhelper"
)

// filePointerSchema is the fixed shape of a blob-storage pointer. The engine
// validates pointer metadata only, never file bytes.
const filePointerSchema = `{
	"type": "object",
	"properties": {
		"storage_key": {"type": "string", "minLength": 1},
		"bucket": {"type": "string", "minLength": 1}
	},
	"required": ["storage_key", "bucket"],
	"additionalProperties": false
}`

var filePointerLoader = gojsonschema.NewStringLoader(filePointerSchema)

// AttachEvidenceRequest describes one evidence attachment.
type AttachEvidenceRequest struct {
	FlowID         string
	TaskID         string
	Type           models.EvidenceType
	Data           map[string]any
	Actor          string
	IdempotencyKey string
}

// AttachEvidence records an evidence attachment against a task. Only the
// format is checked here; whether the evidence satisfies the task's schema
// constraints is decided when an outcome is recorded. A reused idempotency
// key returns the original attachment instead of recording a duplicate.
func (e *Engine) AttachEvidence(ctx context.Context, req AttachEvidenceRequest) (*models.EvidenceAttachment, error) {
	ctx, span := otelhelper.StartSpan(ctx, e.tracer, "engine.attach_evidence",
		attribute.String(otelhelper.FlowIDKey, req.FlowID),
		attribute.String(otelhelper.TaskIDKey, req.TaskID),
	)
	defer span.End()

	release := e.locks.acquire(req.FlowID)
	defer release()

	fc, err := e.loadFlow(ctx, req.FlowID)
	if err != nil {
		otelhelper.SetError(span, err)

		return nil, err
	}

	if fc.flow.Status != models.FlowStatusActive {
		return nil, NewError(CodeFlowNotActive, fmt.Sprintf("flow %s is %s", req.FlowID, fc.flow.Status))
	}

	_, task := fc.snapshot.TaskByID(req.TaskID)
	if task == nil {
		return nil, fmt.Errorf("task %q is not part of workflow %s version %d",
			req.TaskID, fc.flow.WorkflowID, fc.flow.Version)
	}

	if req.IdempotencyKey != "" {
		existing, err := e.persistence.Flows().FindEvidenceByKey(ctx, req.FlowID, req.TaskID, req.IdempotencyKey)
		if err != nil {
			otelhelper.SetError(span, err)

			return nil, err
		}

		if existing != nil {
			return existing, nil
		}
	}

	if err := validateAttachment(task, req.Type, req.Data); err != nil {
		return nil, err
	}

	attachment := &models.EvidenceAttachment{
		ID:         newID(),
		FlowID:     req.FlowID,
		TaskID:     req.TaskID,
		Type:       req.Type,
		Data:       req.Data,
		AttachedAt: e.Now().UTC(),
		AttachedBy: req.Actor,
	}

	if req.IdempotencyKey != "" {
		key := req.IdempotencyKey
		attachment.IdempotencyKey = &key
	}

	if err := e.persistence.Flows().AppendEvidence(ctx, attachment); err != nil {
		otelhelper.SetError(span, err)

		return nil, err
	}

	e.logger.InfoContext(ctx, "Evidence attached",
		"flow_id", req.FlowID,
		"task_id", req.TaskID,
		"attachment_id", attachment.ID,
		"evidence_type", req.Type)

	attached := events.EvidenceAttached{
		BaseEvent:    events.NewBaseEvent(events.EvidenceAttachedEvent, fc.flow.WorkflowID),
		FlowID:       req.FlowID,
		TaskID:       req.TaskID,
		AttachmentID: attachment.ID,
		EvidenceType: string(req.Type),
		AttachedBy:   req.Actor,
	}
	attached.TenantID = fc.flow.TenantID
	e.publish(ctx, req.FlowID, attached)

	return attachment, nil
}

// validateAttachment checks format, not constraint satisfaction. A task that
// requires structured evidence but declares no schema fails closed: there is
// nothing to validate the attachment against.
func validateAttachment(task *models.SnapshotTask, evidenceType models.EvidenceType, data map[string]any) error {
	if evidenceType == models.EvidenceTypeStructured && task.EvidenceRequired && task.EvidenceSchema == nil {
		return NewError(CodeInvalidEvidenceFormat,
			fmt.Sprintf("task %s requires structured evidence but declares no schema", task.ID))
	}

	if err := models.ValidateEvidenceFormat(evidenceType, data, task.EvidenceSchema); err != nil {
		return NewError(CodeInvalidEvidenceFormat, err.Error())
	}

	if evidenceType == models.EvidenceTypeFile {
		if err := validateFilePointer(data); err != nil {
			return NewError(CodeInvalidEvidenceFormat, err.Error())
		}
	}

	return nil
}

func validateFilePointer(data map[string]any) error {
	result, err := gojsonschema.Validate(filePointerLoader, gojsonschema.NewGoLoader(data))
	if err != nil {
		return fmt.Errorf("file evidence pointer could not be validated: %w", err)
	}

	if !result.Valid() {
		details := make([]string, 0, len(result.Errors()))
		for _, issue := range result.Errors() {
			details = append(details, issue.String())
		}

		return fmt.Errorf("file evidence pointer is malformed: %s", strings.Join(details, "; "))
	}

	return nil
}
