package knowledge

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ddx/ddx/internal/domain/terminology"
	"github.com/ddx/ddx/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

// =========== Knowledge Base Repository (PostgreSQL) ===========

type repoPG struct{ pool *pgxpool.Pool }

// NewRepoPG returns a Repository backed by the kb_disease and kb_finding
// tables.
func NewRepoPG(pool *pgxpool.Pool) Repository { return &repoPG{pool: pool} }

func (r *repoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

func (r *repoPG) LoadRows(ctx context.Context) ([]ProfileRow, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT id, system_uri, code, label
		FROM kb_disease
		ORDER BY position`)
	if err != nil {
		return nil, fmt.Errorf("query kb_disease: %w", err)
	}
	defer rows.Close()

	var out []ProfileRow
	byID := make(map[uuid.UUID]int)
	for rows.Next() {
		var id uuid.UUID
		var disease terminology.Concept
		if err := rows.Scan(&id, &disease.System, &disease.Code, &disease.Label); err != nil {
			return nil, fmt.Errorf("scan kb_disease: %w", err)
		}
		byID[id] = len(out)
		out = append(out, ProfileRow{Disease: disease})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate kb_disease: %w", err)
	}

	frows, err := r.conn(ctx).Query(ctx, `
		SELECT disease_id, system_uri, code, label
		FROM kb_finding
		ORDER BY disease_id, position`)
	if err != nil {
		return nil, fmt.Errorf("query kb_finding: %w", err)
	}
	defer frows.Close()

	for frows.Next() {
		var diseaseID uuid.UUID
		var f terminology.Concept
		if err := frows.Scan(&diseaseID, &f.System, &f.Code, &f.Label); err != nil {
			return nil, fmt.Errorf("scan kb_finding: %w", err)
		}
		i, ok := byID[diseaseID]
		if !ok {
			return nil, fmt.Errorf("kb_finding references unknown kb_disease %s", diseaseID)
		}
		out[i].Findings = append(out[i].Findings, f)
	}
	return out, frows.Err()
}

func (r *repoPG) ReplaceRows(ctx context.Context, rows []ProfileRow) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM kb_finding`); err != nil {
		return fmt.Errorf("clear kb_finding: %w", err)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM kb_disease`); err != nil {
		return fmt.Errorf("clear kb_disease: %w", err)
	}

	for i, row := range rows {
		diseaseID := uuid.New()
		if _, err := tx.Exec(ctx, `
			INSERT INTO kb_disease (id, position, system_uri, code, label)
			VALUES ($1, $2, $3, $4, $5)`,
			diseaseID, i, row.Disease.System, row.Disease.Code, row.Disease.Label); err != nil {
			return fmt.Errorf("insert kb_disease %q: %w", row.Disease.Label, err)
		}
		for j, f := range row.Findings {
			if _, err := tx.Exec(ctx, `
				INSERT INTO kb_finding (id, disease_id, position, system_uri, code, label)
				VALUES ($1, $2, $3, $4, $5, $6)`,
				uuid.New(), diseaseID, j, f.System, f.Code, f.Label); err != nil {
				return fmt.Errorf("insert kb_finding %q: %w", f.Label, err)
			}
		}
	}

	return tx.Commit(ctx)
}

func (r *repoPG) Count(ctx context.Context) (int, error) {
	var n int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM kb_disease`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count kb_disease: %w", err)
	}
	return n, nil
}
