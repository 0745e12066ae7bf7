package knowledge

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"

	"github.com/ddx/ddx/internal/domain/terminology"
)

// =========== Knowledge Base Repository (SQLite) ===========

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS kb_disease (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	position INTEGER NOT NULL,
	system_uri TEXT NOT NULL DEFAULT '',
	code TEXT NOT NULL DEFAULT '',
	label TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS kb_finding (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	disease_id INTEGER NOT NULL REFERENCES kb_disease(id) ON DELETE CASCADE,
	position INTEGER NOT NULL,
	system_uri TEXT NOT NULL DEFAULT '',
	code TEXT NOT NULL DEFAULT '',
	label TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_kb_finding_disease ON kb_finding(disease_id);
`

// SQLiteRepo is a Repository backed by an embedded SQLite database, for
// single-node deployments without PostgreSQL.
type SQLiteRepo struct {
	db *sql.DB
}

// NewRepoSQLite opens the SQLite database at path, creating it and the
// knowledge-base schema when missing.
func NewRepoSQLite(path string) (*SQLiteRepo, error) {
	d, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database %s: %w", path, err)
	}
	if _, err := d.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		d.Close()
		return nil, fmt.Errorf("enable WAL on %s: %w", path, err)
	}
	if _, err := d.Exec(sqliteSchema); err != nil {
		d.Close()
		return nil, fmt.Errorf("ensure schema on %s: %w", path, err)
	}
	return &SQLiteRepo{db: d}, nil
}

// Close releases the underlying database handle.
func (r *SQLiteRepo) Close() error { return r.db.Close() }

func (r *SQLiteRepo) LoadRows(ctx context.Context) ([]ProfileRow, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, system_uri, code, label
		FROM kb_disease
		ORDER BY position`)
	if err != nil {
		return nil, fmt.Errorf("query kb_disease: %w", err)
	}
	defer rows.Close()

	var out []ProfileRow
	byID := make(map[int64]int)
	for rows.Next() {
		var id int64
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

	frows, err := r.db.QueryContext(ctx, `
		SELECT disease_id, system_uri, code, label
		FROM kb_finding
		ORDER BY disease_id, position`)
	if err != nil {
		return nil, fmt.Errorf("query kb_finding: %w", err)
	}
	defer frows.Close()

	for frows.Next() {
		var diseaseID int64
		var f terminology.Concept
		if err := frows.Scan(&diseaseID, &f.System, &f.Code, &f.Label); err != nil {
			return nil, fmt.Errorf("scan kb_finding: %w", err)
		}
		i, ok := byID[diseaseID]
		if !ok {
			return nil, fmt.Errorf("kb_finding references unknown kb_disease %d", diseaseID)
		}
		out[i].Findings = append(out[i].Findings, f)
	}
	return out, frows.Err()
}

func (r *SQLiteRepo) ReplaceRows(ctx context.Context, rows []ProfileRow) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM kb_finding`); err != nil {
		return fmt.Errorf("clear kb_finding: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM kb_disease`); err != nil {
		return fmt.Errorf("clear kb_disease: %w", err)
	}

	for i, row := range rows {
		res, err := tx.ExecContext(ctx, `
			INSERT INTO kb_disease (position, system_uri, code, label)
			VALUES (?, ?, ?, ?)`,
			i, row.Disease.System, row.Disease.Code, row.Disease.Label)
		if err != nil {
			return fmt.Errorf("insert kb_disease %q: %w", row.Disease.Label, err)
		}
		diseaseID, err := res.LastInsertId()
		if err != nil {
			return fmt.Errorf("kb_disease insert id: %w", err)
		}
		for j, f := range row.Findings {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO kb_finding (disease_id, position, system_uri, code, label)
				VALUES (?, ?, ?, ?, ?)`,
				diseaseID, j, f.System, f.Code, f.Label); err != nil {
				return fmt.Errorf("insert kb_finding %q: %w", f.Label, err)
			}
		}
	}

	return tx.Commit()
}

func (r *SQLiteRepo) Count(ctx context.Context) (int, error) {
	var n int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM kb_disease`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count kb_disease: %w", err)
	}
	return n, nil
}
