package services

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowvia/flowvia/pkg/models"
	"github.com/flowvia/flowvia/pkg/persistence/memory"
	"github.com/flowvia/flowvia/pkg/validation"
)

func TestPublishing_ValidateWorkflow(t *testing.T) {
	p := memory.NewPersistence()
	workflows := NewWorkflow(p, nil, testLogger())
	publishing := NewPublishing(p, nil, testLogger())

	t.Run("clean draft is promoted to validated", func(t *testing.T) {
		created, err := workflows.Create(t.Context(), validWorkflow("tenant-a", "Claims"), "ana")
		require.NoError(t, err)

		report, err := publishing.ValidateWorkflow(t.Context(), ValidateWorkflowRequest{
			WorkflowID: created.ID,
			TenantID:   "tenant-a",
		})
		require.NoError(t, err)
		assert.True(t, report.Valid)
		assert.Empty(t, report.Findings)

		stored, err := p.Workflows().GetByID(t.Context(), created.ID)
		require.NoError(t, err)
		assert.Equal(t, models.WorkflowStatusValidated, stored.Status)
	})

	t.Run("findings leave the status alone", func(t *testing.T) {
		broken := validWorkflow("tenant-a", "Broken Claims")
		broken.Gates = broken.Gates[:2] // payout SENT loses its gate

		created, err := workflows.Create(t.Context(), broken, "ana")
		require.NoError(t, err)

		report, err := publishing.ValidateWorkflow(t.Context(), ValidateWorkflowRequest{
			WorkflowID: created.ID,
			TenantID:   "tenant-a",
		})
		require.NoError(t, err)
		assert.False(t, report.Valid)
		require.Len(t, report.Findings, 1)
		assert.Equal(t, validation.CodeOrphanedOutcome, report.Findings[0].Code)

		stored, err := p.Workflows().GetByID(t.Context(), created.ID)
		require.NoError(t, err)
		assert.Equal(t, models.WorkflowStatusDraft, stored.Status)
	})

	t.Run("warnings can be allowed through without promotion", func(t *testing.T) {
		loose := validWorkflow("tenant-a", "Loose Claims")
		loose.Nodes[1].CompletionRule = models.CompletionRuleSpecificTasks

		created, err := workflows.Create(t.Context(), loose, "ana")
		require.NoError(t, err)

		strict, err := publishing.ValidateWorkflow(t.Context(), ValidateWorkflowRequest{
			WorkflowID: created.ID,
			TenantID:   "tenant-a",
		})
		require.NoError(t, err)
		assert.False(t, strict.Valid)
		require.Len(t, strict.Findings, 1)
		assert.Equal(t, validation.CodeEmptySpecificTasks, strict.Findings[0].Code)

		relaxed, err := publishing.ValidateWorkflow(t.Context(), ValidateWorkflowRequest{
			WorkflowID:    created.ID,
			TenantID:      "tenant-a",
			AllowWarnings: true,
		})
		require.NoError(t, err)
		assert.True(t, relaxed.Valid)
		require.Len(t, relaxed.Findings, 1)

		// Promotion still demands a spotless report.
		stored, err := p.Workflows().GetByID(t.Context(), created.ID)
		require.NoError(t, err)
		assert.Equal(t, models.WorkflowStatusDraft, stored.Status)
	})

	t.Run("foreign tenant", func(t *testing.T) {
		created, err := workflows.Create(t.Context(), validWorkflow("tenant-a", "Private Claims"), "ana")
		require.NoError(t, err)

		_, err = publishing.ValidateWorkflow(t.Context(), ValidateWorkflowRequest{
			WorkflowID: created.ID,
			TenantID:   "tenant-b",
		})
		assert.ErrorIs(t, err, ErrTenantMismatch)
	})

	t.Run("unknown workflow", func(t *testing.T) {
		_, err := publishing.ValidateWorkflow(t.Context(), ValidateWorkflowRequest{
			WorkflowID: "missing",
			TenantID:   "tenant-a",
		})
		assert.ErrorIs(t, err, ErrWorkflowNotFound)
	})
}

func TestPublishing_ValidateWorkflow_CircularDependency(t *testing.T) {
	p := memory.NewPersistence()
	workflows := NewWorkflow(p, nil, testLogger())
	publishing := NewPublishing(p, nil, testLogger())

	legal, err := workflows.Create(t.Context(), validWorkflow("tenant-a", "Legal Review"), "ana")
	require.NoError(t, err)

	deal := validWorkflow("tenant-a", "Deal Approval")
	deal.Nodes[1].Tasks[0].CrossFlowDependencies = []*models.CrossFlowDependency{{
		SourceWorkflowID: legal.ID,
		NodeID:           "triage",
		TaskID:           "classify",
		RequiredOutcome:  "VALID",
	}}

	dealCreated, err := workflows.Create(t.Context(), deal, "ana")
	require.NoError(t, err)

	// A single direction is fine.
	report, err := publishing.ValidateWorkflow(t.Context(), ValidateWorkflowRequest{
		WorkflowID: dealCreated.ID,
		TenantID:   "tenant-a",
	})
	require.NoError(t, err)
	assert.True(t, report.Valid)

	// Closing the loop from the legal side turns both directions into a
	// cycle that only the tenant-wide adjacency can see.
	stored, err := p.Workflows().GetByID(t.Context(), legal.ID)
	require.NoError(t, err)

	stored.Nodes[0].Tasks[0].CrossFlowDependencies = []*models.CrossFlowDependency{{
		SourceWorkflowID: dealCreated.ID,
		NodeID:           "payout",
		TaskID:           "transfer",
		RequiredOutcome:  "SENT",
	}}
	require.NoError(t, p.Workflows().Save(t.Context(), stored))

	report, err = publishing.ValidateWorkflow(t.Context(), ValidateWorkflowRequest{
		WorkflowID: legal.ID,
		TenantID:   "tenant-a",
	})
	require.NoError(t, err)
	assert.False(t, report.Valid)
	require.Len(t, report.Findings, 1)
	assert.Equal(t, validation.CodeCircularDependency, report.Findings[0].Code)
}

func TestPublishing_PublishWorkflow(t *testing.T) {
	p := memory.NewPersistence()
	workflows := NewWorkflow(p, nil, testLogger())
	publishing := NewPublishing(p, nil, testLogger())

	created, err := workflows.Create(t.Context(), validWorkflow("tenant-a", "Claims"), "ana")
	require.NoError(t, err)

	published, err := publishing.PublishWorkflow(t.Context(), created.ID, "tenant-a", "ana")
	require.NoError(t, err)

	assert.Equal(t, models.WorkflowStatusPublished, published.Status)
	assert.Equal(t, 1, published.Version)
	require.NotNil(t, published.PublishedAt)

	// The version row freezes the graph, successors included.
	version, err := p.Versions().Get(t.Context(), created.ID, 1)
	require.NoError(t, err)
	require.NotNil(t, version)
	assert.Equal(t, "ana", version.PublishedBy)
	require.NotNil(t, version.Snapshot)
	assert.Len(t, version.Snapshot.Nodes, 2)
	assert.Equal(t, []string{"payout"}, version.Snapshot.Nodes[0].TransitiveSuccessors)

	t.Run("published workflows stay frozen", func(t *testing.T) {
		_, err := publishing.PublishWorkflow(t.Context(), created.ID, "tenant-a", "ana")
		assert.ErrorIs(t, err, ErrAlreadyPublished)
		assert.True(t, IsConflictError(err))
	})

	t.Run("revert and republish bumps the version", func(t *testing.T) {
		reverted, err := publishing.RevertToDraft(t.Context(), created.ID, "tenant-a", "ana")
		require.NoError(t, err)
		assert.Equal(t, models.WorkflowStatusDraft, reverted.Status)

		again, err := publishing.PublishWorkflow(t.Context(), created.ID, "tenant-a", "ana")
		require.NoError(t, err)
		assert.Equal(t, 2, again.Version)

		versions, err := publishing.ListVersions(t.Context(), created.ID, "tenant-a")
		require.NoError(t, err)
		require.Len(t, versions, 2)
		assert.Equal(t, 1, versions[0].Version)
		assert.Equal(t, 2, versions[1].Version)
	})

	t.Run("foreign tenant", func(t *testing.T) {
		_, err := publishing.PublishWorkflow(t.Context(), created.ID, "tenant-b", "bruno")
		assert.ErrorIs(t, err, ErrTenantMismatch)
	})
}

func TestPublishing_PublishWorkflow_GateRejects(t *testing.T) {
	p := memory.NewPersistence()
	workflows := NewWorkflow(p, nil, testLogger())
	publishing := NewPublishing(p, nil, testLogger())

	// Evidence without a schema passes a draft validation run but must
	// never pass the publish gate.
	loose := validWorkflow("tenant-a", "Loose Claims")
	loose.Nodes[0].Tasks[0].EvidenceRequired = true

	created, err := workflows.Create(t.Context(), loose, "ana")
	require.NoError(t, err)

	report, err := publishing.ValidateWorkflow(t.Context(), ValidateWorkflowRequest{
		WorkflowID: created.ID,
		TenantID:   "tenant-a",
	})
	require.NoError(t, err)
	assert.True(t, report.Valid)

	_, err = publishing.PublishWorkflow(t.Context(), created.ID, "tenant-a", "ana")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrWorkflowNotValid)
	assert.True(t, IsValidationError(err))

	var failed *ValidationFailedError

	require.ErrorAs(t, err, &failed)
	require.Len(t, failed.Report.Findings, 1)
	assert.Equal(t, validation.CodeMissingEvidenceSchema, failed.Report.Findings[0].Code)

	// Nothing was frozen.
	latest, err := p.Versions().Latest(t.Context(), created.ID)
	require.NoError(t, err)
	assert.Nil(t, latest)
}

func TestPublishing_RevertToDraft_RequiresPublished(t *testing.T) {
	p := memory.NewPersistence()
	workflows := NewWorkflow(p, nil, testLogger())
	publishing := NewPublishing(p, nil, testLogger())

	created, err := workflows.Create(t.Context(), validWorkflow("tenant-a", "Claims"), "ana")
	require.NoError(t, err)

	_, err = publishing.RevertToDraft(t.Context(), created.ID, "tenant-a", "ana")
	assert.ErrorIs(t, err, ErrNotPublished)
	assert.True(t, IsConflictError(err))
}

func TestPublishing_Versions(t *testing.T) {
	p := memory.NewPersistence()
	workflows := NewWorkflow(p, nil, testLogger())
	publishing := NewPublishing(p, nil, testLogger())

	created, err := workflows.Create(t.Context(), validWorkflow("tenant-a", "Claims"), "ana")
	require.NoError(t, err)

	_, err = publishing.PublishWorkflow(t.Context(), created.ID, "tenant-a", "ana")
	require.NoError(t, err)
	_, err = publishing.RevertToDraft(t.Context(), created.ID, "tenant-a", "ana")
	require.NoError(t, err)
	_, err = publishing.PublishWorkflow(t.Context(), created.ID, "tenant-a", "ana")
	require.NoError(t, err)

	t.Run("get specific version", func(t *testing.T) {
		version, err := publishing.GetVersion(t.Context(), created.ID, "tenant-a", 1)
		require.NoError(t, err)
		assert.Equal(t, 1, version.Version)
	})

	t.Run("version zero resolves the latest", func(t *testing.T) {
		version, err := publishing.GetVersion(t.Context(), created.ID, "tenant-a", 0)
		require.NoError(t, err)
		assert.Equal(t, 2, version.Version)
	})

	t.Run("unknown version", func(t *testing.T) {
		_, err := publishing.GetVersion(t.Context(), created.ID, "tenant-a", 9)
		assert.ErrorIs(t, err, ErrVersionNotFound)
		assert.True(t, IsNotFoundError(err))
	})

	t.Run("snapshot of a version", func(t *testing.T) {
		snapshot, err := publishing.GetSnapshot(t.Context(), created.ID, "tenant-a", 2)
		require.NoError(t, err)
		assert.Equal(t, 2, snapshot.Version)
		assert.Equal(t, "Claims", snapshot.Name)
	})

	t.Run("foreign tenant sees nothing", func(t *testing.T) {
		_, err := publishing.GetVersion(t.Context(), created.ID, "tenant-b", 1)
		assert.ErrorIs(t, err, ErrTenantMismatch)

		_, err = publishing.ListVersions(t.Context(), created.ID, "tenant-b")
		assert.ErrorIs(t, err, ErrTenantMismatch)
	})
}
