package graph

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nimbusmesh/smo/internal/apierr"
)

const graphColumns = `name, project, status, grafana, descriptor, created_at, updated_at`

const serviceColumns = `name, graph_name, status, grafana, cluster_affinity, artifact_ref,
	artifact_type, artifact_implementer, resources, values_overwrite, created_at, updated_at`

// Store provides database operations for graphs and services, backed by
// the global connection pool. The core depends only on the operations
// named in the component design: get_by_name, list_by_project, insert,
// delete (cascading), update_service_values, and status setters.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a graph Store backed by the given connection pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

func scanGraphRow(row pgx.Row) (Graph, error) {
	var g Graph
	var descriptor []byte
	err := row.Scan(&g.Name, &g.Project, &g.Status, &g.Grafana, &descriptor, &g.CreatedAt, &g.UpdatedAt)
	if err != nil {
		return Graph{}, err
	}
	if len(descriptor) > 0 {
		if err := json.Unmarshal(descriptor, &g.Descriptor); err != nil {
			return Graph{}, fmt.Errorf("unmarshaling graph descriptor: %w", err)
		}
	}
	return g, nil
}

func scanServiceRows(rows pgx.Rows) ([]Service, error) {
	defer rows.Close()
	var items []Service
	for rows.Next() {
		s, err := scanServiceRowFromRows(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning service row: %w", err)
		}
		items = append(items, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating service rows: %w", err)
	}
	return items, nil
}

func scanServiceRowFromRows(rows pgx.Rows) (Service, error) {
	var s Service
	var resources, values []byte
	err := rows.Scan(&s.Name, &s.GraphName, &s.Status, &s.Grafana, &s.ClusterAffinity,
		&s.ArtifactRef, &s.ArtifactType, &s.ArtifactImplementer, &resources, &values,
		&s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return Service{}, err
	}
	if len(resources) > 0 {
		if err := json.Unmarshal(resources, &s.Resources); err != nil {
			return Service{}, err
		}
	}
	if len(values) > 0 {
		if err := json.Unmarshal(values, &s.ValuesOverwrite); err != nil {
			return Service{}, err
		}
	}
	return s, nil
}

// GetByName returns a graph by name, with its services populated, or
// apierr.ErrNotFound if no such graph exists.
func (s *Store) GetByName(ctx context.Context, name string) (Graph, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+graphColumns+` FROM graph WHERE name = $1`, name)
	g, err := scanGraphRow(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Graph{}, fmt.Errorf("%w: graph %q", apierr.ErrNotFound, name)
		}
		return Graph{}, fmt.Errorf("fetching graph: %w", err)
	}

	services, err := s.servicesByGraph(ctx, name)
	if err != nil {
		return Graph{}, err
	}
	g.Services = services
	return g, nil
}

func (s *Store) servicesByGraph(ctx context.Context, graphName string) ([]Service, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+serviceColumns+` FROM service WHERE graph_name = $1 ORDER BY name`, graphName)
	if err != nil {
		return nil, fmt.Errorf("listing services: %w", err)
	}
	return scanServiceRows(rows)
}

// ListByProject returns all graphs tagged with the given project, with
// their services populated.
func (s *Store) ListByProject(ctx context.Context, project string) ([]Graph, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+graphColumns+` FROM graph WHERE project = $1 ORDER BY name`, project)
	if err != nil {
		return nil, fmt.Errorf("listing graphs: %w", err)
	}
	defer rows.Close()

	var graphs []Graph
	for rows.Next() {
		g, err := scanGraphRow(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning graph row: %w", err)
		}
		graphs = append(graphs, g)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating graph rows: %w", err)
	}

	for i := range graphs {
		services, err := s.servicesByGraph(ctx, graphs[i].Name)
		if err != nil {
			return nil, err
		}
		graphs[i].Services = services
	}
	return graphs, nil
}

// Insert persists a new graph and its services in a single transaction,
// failing with apierr.ErrConflict if the name already exists.
func (s *Store) Insert(ctx context.Context, g Graph) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	descriptor, err := json.Marshal(g.Descriptor)
	if err != nil {
		return fmt.Errorf("marshaling descriptor: %w", err)
	}

	_, err = tx.Exec(ctx, `INSERT INTO graph (name, project, status, grafana, descriptor)
		VALUES ($1, $2, $3, $4, $5)`, g.Name, g.Project, g.Status, g.Grafana, descriptor)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: graph %q", apierr.ErrConflict, g.Name)
		}
		return fmt.Errorf("inserting graph: %w", err)
	}

	for _, svc := range g.Services {
		if err := insertService(ctx, tx, svc); err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

func insertService(ctx context.Context, tx pgx.Tx, svc Service) error {
	resources, err := json.Marshal(svc.Resources)
	if err != nil {
		return fmt.Errorf("marshaling service resources: %w", err)
	}
	values, err := json.Marshal(svc.ValuesOverwrite)
	if err != nil {
		return fmt.Errorf("marshaling service values_overwrite: %w", err)
	}

	_, err = tx.Exec(ctx, `INSERT INTO service (
		name, graph_name, status, grafana, cluster_affinity,
		artifact_ref, artifact_type, artifact_implementer, resources, values_overwrite
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		svc.Name, svc.GraphName, svc.Status, svc.Grafana, svc.ClusterAffinity,
		svc.ArtifactRef, svc.ArtifactType, svc.ArtifactImplementer, resources, values)
	if err != nil {
		return fmt.Errorf("inserting service %q: %w", svc.Name, err)
	}
	return nil
}

// Delete removes a graph and cascades to its services.
func (s *Store) Delete(ctx context.Context, name string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM graph WHERE name = $1`, name)
	if err != nil {
		return fmt.Errorf("deleting graph: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: graph %q", apierr.ErrNotFound, name)
	}
	return nil
}

// UpdateServiceValues persists a service's mutated values_overwrite and
// cluster_affinity.
func (s *Store) UpdateServiceValues(ctx context.Context, graphName, serviceName string, values map[string]interface{}, clusterAffinity string) error {
	raw, err := json.Marshal(values)
	if err != nil {
		return fmt.Errorf("marshaling values_overwrite: %w", err)
	}
	tag, err := s.pool.Exec(ctx, `UPDATE service SET values_overwrite = $1, cluster_affinity = $2, updated_at = now()
		WHERE graph_name = $3 AND name = $4`, raw, clusterAffinity, graphName, serviceName)
	if err != nil {
		return fmt.Errorf("updating service values: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: service %q in graph %q", apierr.ErrNotFound, serviceName, graphName)
	}
	return nil
}

// SetGraphStatus updates a graph's status.
func (s *Store) SetGraphStatus(ctx context.Context, name, status string) error {
	tag, err := s.pool.Exec(ctx, `UPDATE graph SET status = $1, updated_at = now() WHERE name = $2`, status, name)
	if err != nil {
		return fmt.Errorf("updating graph status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: graph %q", apierr.ErrNotFound, name)
	}
	return nil
}

// SetServiceStatus updates one service's status.
func (s *Store) SetServiceStatus(ctx context.Context, graphName, serviceName, status string) error {
	tag, err := s.pool.Exec(ctx, `UPDATE service SET status = $1, updated_at = now()
		WHERE graph_name = $2 AND name = $3`, status, graphName, serviceName)
	if err != nil {
		return fmt.Errorf("updating service status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: service %q in graph %q", apierr.ErrNotFound, serviceName, graphName)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr interface{ SQLState() string }
	if errors.As(err, &pgErr) {
		return pgErr.SQLState() == "23505"
	}
	return false
}
