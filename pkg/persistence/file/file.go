// Package file provides a file system backed flow store. Each flow is kept
// as a JSON document under its tenant directory, node logs are kept as
// append-only text files next to it.
package file

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/cadenzr/cadenza/pkg/models"
	"github.com/cadenzr/cadenza/pkg/persistence"
)

const dirPerm = 0o755

// Persistence implements persistence.Persistence on top of the file system.
type Persistence struct {
	root string
	mu   sync.Mutex
}

// NewPersistence creates a file store rooted at the given path. The path may
// carry a file:// prefix, as produced by URL-style configuration.
func NewPersistence(root string) *Persistence {
	cleanRoot := strings.Replace(root, "file://", "", 1)

	return &Persistence{root: cleanRoot}
}

func (p *Persistence) flowPath(tenantID, flowID string) string {
	return filepath.Join(p.root, "flows", tenantID, flowID+".json")
}

func (p *Persistence) logPath(tenantID, flowID, nodeID string) string {
	return filepath.Join(p.root, "logs", tenantID, flowID, nodeID+".log")
}

func (p *Persistence) LoadFlow(_ context.Context, tenantID, flowID string) (*models.Flow, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.readFlow(tenantID, flowID)
}

func (p *Persistence) readFlow(tenantID, flowID string) (*models.Flow, error) {
	data, err := os.ReadFile(p.flowPath(tenantID, flowID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, persistence.NewFlowError("LoadFlow", tenantID, flowID, persistence.ErrFlowNotFound)
		}

		return nil, persistence.NewFlowError("LoadFlow", tenantID, flowID,
			fmt.Errorf("%w: %w", persistence.ErrStoreUnavailable, err))
	}

	var flow models.Flow
	if err := json.Unmarshal(data, &flow); err != nil {
		return nil, persistence.NewFlowError("LoadFlow", tenantID, flowID,
			fmt.Errorf("failed to decode flow document: %w", err))
	}

	return &flow, nil
}

func (p *Persistence) SaveFlow(_ context.Context, flow *models.Flow) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	existing, err := p.readFlow(flow.TenantID, flow.ID)
	if err != nil && !persistence.IsFlowNotFound(err) {
		return err
	}

	if existing != nil && existing.Version != flow.Version {
		return persistence.NewFlowError("SaveFlow", flow.TenantID, flow.ID,
			fmt.Errorf("stored version %d, caller has %d: %w",
				existing.Version, flow.Version, persistence.ErrVersionConflict))
	}

	flow.Version++

	data, err := json.MarshalIndent(flow, "", "  ")
	if err != nil {
		return persistence.NewFlowError("SaveFlow", flow.TenantID, flow.ID,
			fmt.Errorf("failed to encode flow document: %w", err))
	}

	target := p.flowPath(flow.TenantID, flow.ID)

	if err := os.MkdirAll(filepath.Dir(target), dirPerm); err != nil {
		return persistence.NewFlowError("SaveFlow", flow.TenantID, flow.ID,
			fmt.Errorf("%w: %w", persistence.ErrStoreUnavailable, err))
	}

	// Write-then-rename keeps readers from seeing a partial document.
	tmp := target + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return persistence.NewFlowError("SaveFlow", flow.TenantID, flow.ID,
			fmt.Errorf("%w: %w", persistence.ErrStoreUnavailable, err))
	}

	if err := os.Rename(tmp, target); err != nil {
		return persistence.NewFlowError("SaveFlow", flow.TenantID, flow.ID,
			fmt.Errorf("%w: %w", persistence.ErrStoreUnavailable, err))
	}

	return nil
}

func (p *Persistence) ListFlows(_ context.Context, tenantID string, status models.FlowStatus) ([]*models.Flow, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	tenantDir := filepath.Join(p.root, "flows", tenantID)
	if _, err := os.Stat(tenantDir); os.IsNotExist(err) {
		return nil, nil
	}

	jsonFiles, err := fs.Glob(os.DirFS(tenantDir), "*.json")
	if err != nil {
		return nil, fmt.Errorf("failed to list flow files: %w", err)
	}

	var result []*models.Flow

	for _, file := range jsonFiles {
		flowID := strings.TrimSuffix(file, ".json")

		flow, err := p.readFlow(tenantID, flowID)
		if err != nil {
			return nil, err
		}

		if status != "" && flow.Status != status {
			continue
		}

		result = append(result, flow)
	}

	return result, nil
}

func (p *Persistence) ListRunningFlows(ctx context.Context) ([]*models.Flow, error) {
	flowsDir := filepath.Join(p.root, "flows")

	entries, err := os.ReadDir(flowsDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}

		return nil, fmt.Errorf("failed to list tenant directories: %w", err)
	}

	var result []*models.Flow

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}

		flows, err := p.ListFlows(ctx, entry.Name(), models.FlowStatusRunning)
		if err != nil {
			return nil, err
		}

		result = append(result, flows...)
	}

	return result, nil
}

func (p *Persistence) AppendNodeLog(_ context.Context, tenantID, flowID, nodeID, line string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	target := p.logPath(tenantID, flowID, nodeID)

	if err := os.MkdirAll(filepath.Dir(target), dirPerm); err != nil {
		return fmt.Errorf("%w: %w", persistence.ErrStoreUnavailable, err)
	}

	file, err := os.OpenFile(target, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("%w: %w", persistence.ErrStoreUnavailable, err)
	}
	defer file.Close()

	if _, err := file.WriteString(line + "\n"); err != nil {
		return fmt.Errorf("%w: %w", persistence.ErrStoreUnavailable, err)
	}

	return nil
}

func (p *Persistence) NodeLogs(_ context.Context, tenantID, flowID, nodeID string) ([]string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	data, err := os.ReadFile(p.logPath(tenantID, flowID, nodeID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}

		return nil, fmt.Errorf("%w: %w", persistence.ErrStoreUnavailable, err)
	}

	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	if len(lines) == 1 && lines[0] == "" {
		return nil, nil
	}

	return lines, nil
}

func (p *Persistence) HealthCheck(_ context.Context) error {
	if _, err := os.Stat(p.root); os.IsNotExist(err) {
		return os.ErrNotExist
	}

	return nil
}

func (p *Persistence) Close(_ context.Context) error {
	return nil
}
