// Package postgresql provides PostgreSQL persistence for flows and node logs.
package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/cadenzr/cadenza/pkg/models"
	"github.com/cadenzr/cadenza/pkg/persistence"
	"github.com/cadenzr/cadenza/pkg/persistence/sqlbase"
)

// Persistence implements the persistence layer for PostgreSQL. Flows are
// stored as JSONB documents with a version column guarding concurrent saves.
type Persistence struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewPersistence creates a new PostgreSQL persistence layer and runs pending
// schema migrations.
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) (*Persistence, error) {
	database, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL database: %w", err)
	}

	err = database.PingContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	migrationManager := sqlbase.NewMigrationManager(logger, database, migrations())

	err = migrationManager.RunMigrations(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &Persistence{
		db:     database,
		logger: logger,
	}, nil
}

func (p *Persistence) LoadFlow(ctx context.Context, tenantID, flowID string) (*models.Flow, error) {
	var document []byte

	err := p.db.QueryRowContext(ctx,
		"SELECT document FROM flows WHERE tenant_id = $1 AND id = $2",
		tenantID, flowID).Scan(&document)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, persistence.NewFlowError("LoadFlow", tenantID, flowID, persistence.ErrFlowNotFound)
	}

	if err != nil {
		return nil, persistence.NewFlowError("LoadFlow", tenantID, flowID,
			fmt.Errorf("%w: %w", persistence.ErrStoreUnavailable, err))
	}

	return decodeFlow(tenantID, flowID, document)
}

func (p *Persistence) SaveFlow(ctx context.Context, flow *models.Flow) error {
	expectedVersion := flow.Version
	flow.Version++

	document, err := json.Marshal(flow)
	if err != nil {
		flow.Version = expectedVersion

		return persistence.NewFlowError("SaveFlow", flow.TenantID, flow.ID,
			fmt.Errorf("failed to encode flow document: %w", err))
	}

	// The ON CONFLICT WHERE clause enforces the version check: a stale
	// caller matches the conflict target but not the guard, so no row is
	// touched.
	result, err := p.db.ExecContext(ctx, `
		INSERT INTO flows (tenant_id, id, status, document, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (tenant_id, id) DO UPDATE
		SET status = EXCLUDED.status,
		    document = EXCLUDED.document,
		    version = EXCLUDED.version,
		    updated_at = EXCLUDED.updated_at
		WHERE flows.version = $8`,
		flow.TenantID, flow.ID, string(flow.Status), document, flow.Version,
		flow.CreatedAt, flow.UpdatedAt, expectedVersion)
	if err != nil {
		flow.Version = expectedVersion

		return persistence.NewFlowError("SaveFlow", flow.TenantID, flow.ID,
			fmt.Errorf("%w: %w", persistence.ErrStoreUnavailable, err))
	}

	affected, err := result.RowsAffected()
	if err != nil {
		flow.Version = expectedVersion

		return persistence.NewFlowError("SaveFlow", flow.TenantID, flow.ID,
			fmt.Errorf("%w: %w", persistence.ErrStoreUnavailable, err))
	}

	if affected == 0 {
		flow.Version = expectedVersion

		return persistence.NewFlowError("SaveFlow", flow.TenantID, flow.ID,
			fmt.Errorf("caller has version %d: %w", expectedVersion, persistence.ErrVersionConflict))
	}

	return nil
}

func (p *Persistence) ListFlows(ctx context.Context, tenantID string, status models.FlowStatus) ([]*models.Flow, error) {
	query := "SELECT id, document FROM flows WHERE tenant_id = $1"
	args := []any{tenantID}

	if status != "" {
		query += " AND status = $2"
		args = append(args, string(status))
	}

	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query flows: %w", err)
	}
	defer rows.Close()

	return p.scanFlows(tenantID, rows)
}

func (p *Persistence) ListRunningFlows(ctx context.Context) ([]*models.Flow, error) {
	rows, err := p.db.QueryContext(ctx,
		"SELECT tenant_id, id, document FROM flows WHERE status = $1",
		string(models.FlowStatusRunning))
	if err != nil {
		return nil, fmt.Errorf("failed to query running flows: %w", err)
	}
	defer rows.Close()

	var result []*models.Flow

	for rows.Next() {
		var (
			tenantID string
			flowID   string
			document []byte
		)

		if err := rows.Scan(&tenantID, &flowID, &document); err != nil {
			return nil, fmt.Errorf("failed to scan flow row: %w", err)
		}

		flow, err := decodeFlow(tenantID, flowID, document)
		if err != nil {
			return nil, err
		}

		result = append(result, flow)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate flow rows: %w", err)
	}

	return result, nil
}

func (p *Persistence) scanFlows(tenantID string, rows *sql.Rows) ([]*models.Flow, error) {
	var result []*models.Flow

	for rows.Next() {
		var (
			flowID   string
			document []byte
		)

		if err := rows.Scan(&flowID, &document); err != nil {
			return nil, fmt.Errorf("failed to scan flow row: %w", err)
		}

		flow, err := decodeFlow(tenantID, flowID, document)
		if err != nil {
			return nil, err
		}

		result = append(result, flow)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate flow rows: %w", err)
	}

	return result, nil
}

func (p *Persistence) AppendNodeLog(ctx context.Context, tenantID, flowID, nodeID, line string) error {
	_, err := p.db.ExecContext(ctx,
		"INSERT INTO node_logs (tenant_id, flow_id, node_id, line) VALUES ($1, $2, $3, $4)",
		tenantID, flowID, nodeID, line)
	if err != nil {
		return fmt.Errorf("%w: %w", persistence.ErrStoreUnavailable, err)
	}

	return nil
}

func (p *Persistence) NodeLogs(ctx context.Context, tenantID, flowID, nodeID string) ([]string, error) {
	rows, err := p.db.QueryContext(ctx,
		"SELECT line FROM node_logs WHERE tenant_id = $1 AND flow_id = $2 AND node_id = $3 ORDER BY id",
		tenantID, flowID, nodeID)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", persistence.ErrStoreUnavailable, err)
	}
	defer rows.Close()

	var lines []string

	for rows.Next() {
		var line string

		if err := rows.Scan(&line); err != nil {
			return nil, fmt.Errorf("failed to scan log row: %w", err)
		}

		lines = append(lines, line)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate log rows: %w", err)
	}

	return lines, nil
}

// HealthCheck verifies the database connection is healthy.
func (p *Persistence) HealthCheck(ctx context.Context) error {
	err := p.db.PingContext(ctx)
	if err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}

	return nil
}

// Close closes the database connection.
func (p *Persistence) Close(_ context.Context) error {
	if p.db != nil {
		err := p.db.Close()
		if err != nil {
			return fmt.Errorf("failed to close database connection: %w", err)
		}
	}

	return nil
}

func decodeFlow(tenantID, flowID string, document []byte) (*models.Flow, error) {
	var flow models.Flow

	if err := json.Unmarshal(document, &flow); err != nil {
		return nil, persistence.NewFlowError("LoadFlow", tenantID, flowID,
			fmt.Errorf("failed to decode flow document: %w", err))
	}

	return &flow, nil
}
