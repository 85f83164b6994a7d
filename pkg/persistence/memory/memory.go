// Package memory provides an in-memory persistence implementation for
// development and tests. Every read and write passes through a deep copy,
// so callers can never alias the stored data.
package memory

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/flowvia/flowvia/pkg/models"
	"github.com/flowvia/flowvia/pkg/persistence"
)

// Persistence implements persistence.Persistence entirely in process.
type Persistence struct {
	store *store

	workflowRepo *WorkflowRepository
	versionRepo  *VersionRepository
	flowRepo     *FlowRepository
	draftRepo    *DraftRepository
}

type bufferKey struct {
	workflowID string
	tenantID   string
}

// store is the shared mutable state. One mutex guards everything; the
// backend exists for tests and single-process development, not throughput.
type store struct {
	mu sync.RWMutex

	workflows map[string]*models.Workflow
	versions  map[string]map[int]*models.WorkflowVersion
	flows     map[string]*models.Flow
	logs      map[string]*models.FlowLog
	buffers   map[bufferKey]*models.DraftBuffer
	events    map[string][]*models.DraftEvent
}

// NewPersistence creates an empty in-memory store.
func NewPersistence() *Persistence {
	s := &store{
		workflows: make(map[string]*models.Workflow),
		versions:  make(map[string]map[int]*models.WorkflowVersion),
		flows:     make(map[string]*models.Flow),
		logs:      make(map[string]*models.FlowLog),
		buffers:   make(map[bufferKey]*models.DraftBuffer),
		events:    make(map[string][]*models.DraftEvent),
	}

	return &Persistence{
		store:        s,
		workflowRepo: &WorkflowRepository{store: s},
		versionRepo:  &VersionRepository{store: s},
		flowRepo:     &FlowRepository{store: s},
		draftRepo:    &DraftRepository{store: s},
	}
}

func (p *Persistence) Workflows() persistence.WorkflowRepository {
	return p.workflowRepo
}

func (p *Persistence) Versions() persistence.VersionRepository {
	return p.versionRepo
}

func (p *Persistence) Flows() persistence.FlowRepository {
	return p.flowRepo
}

func (p *Persistence) Drafts() persistence.DraftRepository {
	return p.draftRepo
}

func (p *Persistence) HealthCheck(_ context.Context) error {
	return nil
}

func (p *Persistence) Close(_ context.Context) error {
	return nil
}

// clone deep copies a value through JSON. The models are plain data, so a
// marshal failure is a programming error.
func clone[T any](value T) T {
	data, err := json.Marshal(value)
	if err != nil {
		panic(err)
	}

	var copied T
	if err := json.Unmarshal(data, &copied); err != nil {
		panic(err)
	}

	return copied
}
