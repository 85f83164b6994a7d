//go:build integration

package web_test

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/flowvia/flowvia/pkg/draft"
	"github.com/flowvia/flowvia/pkg/engine"
	"github.com/flowvia/flowvia/pkg/models"
	"github.com/flowvia/flowvia/pkg/persistence/postgresql"
	"github.com/flowvia/flowvia/pkg/services"
	"github.com/flowvia/flowvia/pkg/web"
)

func setupIntegrationDB(t *testing.T) (string, func()) {
	t.Helper()

	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "postgres:16-alpine",
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_DB":       "flowvia_test",
				"POSTGRES_USER":     "flowvia",
				"POSTGRES_PASSWORD": "flowvia",
			},
			WaitingFor: wait.ForLog("database system is ready to accept connections").WithOccurrence(2),
		},
		Started: true,
	})
	require.NoError(t, err)

	host, err := container.Host(ctx)
	require.NoError(t, err)

	port, err := container.MappedPort(ctx, "5432")
	require.NoError(t, err)

	dbURL := "postgres://flowvia:flowvia@" + host + ":" + port.Port() + "/flowvia_test?sslmode=disable"

	// The log line lands slightly before connections are accepted.
	time.Sleep(2 * time.Second)

	cleanup := func() {
		_ = container.Terminate(ctx)
	}

	return dbURL, cleanup
}

// setupIntegrationEnv wires the same stack as setupTestApp, but against a
// real database so migrations and transactional commits get exercised.
func setupIntegrationEnv(t *testing.T, dbURL string) *testEnv {
	t.Helper()

	p, err := postgresql.NewPersistence(context.Background(), testLogger(), dbURL)
	require.NoError(t, err)

	t.Cleanup(func() { _ = p.Close(context.Background()) })

	logger := testLogger()

	workflowService := services.NewWorkflow(p, nil, logger)
	publishingService := services.NewPublishing(p, nil, logger)
	flowService := services.NewFlow(p, engine.New(p, nil, nil, logger))
	stage := draft.NewStage(p, nil, logger)
	validate := validator.New(validator.WithRequiredStructEnabled())

	handlers := web.NewAPIHandlers(workflowService, publishingService, flowService, stage, validate)

	app := fiber.New()
	handlers.Register(app)

	return &testEnv{
		app:         app,
		persistence: p,
		workflows:   workflowService,
		publishing:  publishingService,
	}
}

func TestAuthoringToExecution_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	dbURL, cleanup := setupIntegrationDB(t)
	defer cleanup()

	env := setupIntegrationEnv(t, dbURL)

	t.Run("service stack reports healthy", func(t *testing.T) {
		resp := doRequest(t, env.app, http.MethodGet, "/health", "", "", nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)

		var health struct {
			Status string `json:"status"`
		}

		decodeJSON(t, resp, &health)
		assert.Equal(t, "healthy", health.Status)
	})

	workflowID := createShell(t, env, "tenant-a", "Claims Lifecycle")
	draftBase := "/workflows/" + workflowID + "/draft"

	t.Run("author the graph through the draft buffer", func(t *testing.T) {
		resp := doRequest(t, env.app, http.MethodPost, draftBase, "tenant-a", "ana", nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)

		var buffer models.DraftBuffer

		decodeJSON(t, resp, &buffer)
		assert.Equal(t, 1, buffer.BaseEventSeq)

		resp = doRequest(t, env.app, http.MethodPut, draftBase+"/content", "tenant-a", "ana",
			draftGraph("Claims Lifecycle"))
		require.Equal(t, http.StatusOK, resp.StatusCode)

		_ = resp.Body.Close()

		resp = doRequest(t, env.app, http.MethodPost, draftBase+"/commit", "tenant-a", "ana",
			web.CommitDraftRequest{Label: "first complete graph"})
		require.Equal(t, http.StatusCreated, resp.StatusCode)

		var event models.DraftEvent

		decodeJSON(t, resp, &event)
		assert.Equal(t, models.DraftEventCommit, event.Type)
		assert.Equal(t, 2, event.Seq)
		assert.Equal(t, "first complete graph", event.Label)
	})

	t.Run("publish version 1", func(t *testing.T) {
		resp := doRequest(t, env.app, http.MethodPost, "/workflows/"+workflowID+"/publish", "tenant-a", "ana", nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)

		var published models.Workflow

		decodeJSON(t, resp, &published)
		assert.Equal(t, models.WorkflowStatusPublished, published.Status)
		assert.Equal(t, 1, published.Version)

		resp = doRequest(t, env.app, http.MethodGet,
			"/workflows/"+workflowID+"/versions/1/snapshot", "tenant-a", "", nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)

		var snapshot models.Snapshot

		decodeJSON(t, resp, &snapshot)
		assert.Equal(t, "Claims Lifecycle", snapshot.Name)
		assert.Len(t, snapshot.Nodes, 2)
	})

	var flowID string

	t.Run("run a flow to completion", func(t *testing.T) {
		resp := doRequest(t, env.app, http.MethodPost, "/flows", "tenant-a", "maria",
			web.StartFlowRequest{WorkflowID: workflowID})
		require.Equal(t, http.StatusCreated, resp.StatusCode)

		var flow models.Flow

		decodeJSON(t, resp, &flow)
		assert.Equal(t, models.FlowStatusActive, flow.Status)
		assert.Equal(t, 1, flow.Version)

		flowID = flow.ID
		base := "/flows/" + flowID

		for _, step := range []struct {
			task    string
			outcome string
		}{
			{"classify", "VALID"},
			{"transfer", "SENT"},
		} {
			resp = doRequest(t, env.app, http.MethodPost, base+"/tasks/"+step.task+"/start", "tenant-a", "maria", nil)
			require.Equal(t, http.StatusCreated, resp.StatusCode)

			_ = resp.Body.Close()

			resp = doRequest(t, env.app, http.MethodPost, base+"/tasks/"+step.task+"/outcome", "tenant-a", "maria",
				web.RecordOutcomeRequest{Outcome: step.outcome})
			require.Equal(t, http.StatusOK, resp.StatusCode)

			_ = resp.Body.Close()
		}

		resp = doRequest(t, env.app, http.MethodGet, base, "tenant-a", "", nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)

		var detail engine.FlowDetail

		decodeJSON(t, resp, &detail)
		assert.Equal(t, models.FlowStatusCompleted, detail.Flow.Status)
		assert.True(t, detail.State.Complete)
		assert.Len(t, detail.Log.Executions, 2)
	})

	t.Run("truth survives a fresh connection", func(t *testing.T) {
		// A second persistence instance against the same database must see
		// the identical log, not warmed-up in-process state.
		reread := setupIntegrationEnv(t, dbURL)

		resp := doRequest(t, reread.app, http.MethodGet, "/flows/"+flowID, "tenant-a", "", nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)

		var detail engine.FlowDetail

		decodeJSON(t, resp, &detail)
		assert.True(t, detail.State.Complete)

		resp = doRequest(t, reread.app, http.MethodGet, draftBase+"/history", "tenant-a", "", nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)

		var history struct {
			Events []*models.DraftEvent `json:"events"`
		}

		decodeJSON(t, resp, &history)
		require.Len(t, history.Events, 2)
		assert.Equal(t, models.DraftEventInitial, history.Events[0].Type)
		assert.Equal(t, models.DraftEventCommit, history.Events[1].Type)
	})
}
