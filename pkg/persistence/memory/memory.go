// Package memory provides an in-memory flow store for tests and local
// development.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/cadenzr/cadenza/pkg/models"
	"github.com/cadenzr/cadenza/pkg/persistence"
)

type flowKey struct {
	tenantID string
	flowID   string
}

type logKey struct {
	tenantID string
	flowID   string
	nodeID   string
}

// Persistence implements persistence.Persistence backed by process memory.
// Stored flows are deep-copied on the way in and out, so callers never share
// mutable state with the store.
type Persistence struct {
	mu    sync.RWMutex
	flows map[flowKey]*models.Flow
	logs  map[logKey][]string
}

// NewPersistence creates an empty in-memory store.
func NewPersistence() *Persistence {
	return &Persistence{
		flows: make(map[flowKey]*models.Flow),
		logs:  make(map[logKey][]string),
	}
}

func (p *Persistence) LoadFlow(_ context.Context, tenantID, flowID string) (*models.Flow, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	flow, ok := p.flows[flowKey{tenantID, flowID}]
	if !ok {
		return nil, persistence.NewFlowError("LoadFlow", tenantID, flowID, persistence.ErrFlowNotFound)
	}

	return flow.Copy(), nil
}

func (p *Persistence) SaveFlow(_ context.Context, flow *models.Flow) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	key := flowKey{flow.TenantID, flow.ID}

	if existing, ok := p.flows[key]; ok && existing.Version != flow.Version {
		return persistence.NewFlowError("SaveFlow", flow.TenantID, flow.ID,
			fmt.Errorf("stored version %d, caller has %d: %w",
				existing.Version, flow.Version, persistence.ErrVersionConflict))
	}

	flow.Version++

	p.flows[key] = flow.Copy()

	return nil
}

func (p *Persistence) ListFlows(_ context.Context, tenantID string, status models.FlowStatus) ([]*models.Flow, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	var result []*models.Flow

	for key, flow := range p.flows {
		if key.tenantID != tenantID {
			continue
		}

		if status != "" && flow.Status != status {
			continue
		}

		result = append(result, flow.Copy())
	}

	return result, nil
}

func (p *Persistence) ListRunningFlows(_ context.Context) ([]*models.Flow, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	var result []*models.Flow

	for _, flow := range p.flows {
		if flow.Status == models.FlowStatusRunning {
			result = append(result, flow.Copy())
		}
	}

	return result, nil
}

func (p *Persistence) AppendNodeLog(_ context.Context, tenantID, flowID, nodeID, line string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	key := logKey{tenantID, flowID, nodeID}
	p.logs[key] = append(p.logs[key], line)

	return nil
}

func (p *Persistence) NodeLogs(_ context.Context, tenantID, flowID, nodeID string) ([]string, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	lines := p.logs[logKey{tenantID, flowID, nodeID}]

	return append([]string(nil), lines...), nil
}

func (p *Persistence) HealthCheck(_ context.Context) error {
	return nil
}

func (p *Persistence) Close(_ context.Context) error {
	return nil
}
