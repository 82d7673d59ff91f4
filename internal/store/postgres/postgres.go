// Package postgres implements store.OrgReader against the ERP PostgreSQL
// database.
//
// The CRUD application owns the schema; this package only issues SELECTs and
// performs no migrations. All operations are safe for concurrent use — the
// pgx pool handles connection management.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/neda-ai/neda/internal/store"
)

// Compile-time interface check.
var _ store.OrgReader = (*Reader)(nil)

// Reader is a PostgreSQL-backed [store.OrgReader] holding a single
// [pgxpool.Pool].
type Reader struct {
	pool *pgxpool.Pool
}

// NewReader establishes a connection pool to the database at dsn and verifies
// it with a ping. The caller owns the Reader and must call Close.
func NewReader(ctx context.Context, dsn string) (*Reader, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("org reader: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("org reader: ping: %w", err)
	}
	return &Reader{pool: pool}, nil
}

// Ping verifies database connectivity. Used by the readiness probe.
func (r *Reader) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

// Close releases the connection pool.
func (r *Reader) Close() {
	r.pool.Close()
}

// Settings returns the single assistant settings row, or zero values when
// none exists.
func (r *Reader) Settings(ctx context.Context) (store.Settings, error) {
	var s store.Settings
	err := r.pool.QueryRow(ctx,
		`SELECT ai_model, system_prompt FROM settings LIMIT 1`,
	).Scan(&s.AIModel, &s.SystemPrompt)
	if errors.Is(err, pgx.ErrNoRows) {
		return store.Settings{}, nil
	}
	if err != nil {
		return store.Settings{}, fmt.Errorf("org reader: settings: %w", err)
	}
	return s, nil
}

// KnowledgeFiles returns all knowledge corpus entries.
func (r *Reader) KnowledgeFiles(ctx context.Context) ([]store.KnowledgeFile, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT name, content FROM knowledge_files ORDER BY name`,
	)
	if err != nil {
		return nil, fmt.Errorf("org reader: knowledge files: %w", err)
	}
	defer rows.Close()

	var files []store.KnowledgeFile
	for rows.Next() {
		var f store.KnowledgeFile
		if err := rows.Scan(&f.Name, &f.Content); err != nil {
			return nil, fmt.Errorf("org reader: scan knowledge file: %w", err)
		}
		files = append(files, f)
	}
	return files, rows.Err()
}

// Projects returns summarized project records.
func (r *Reader) Projects(ctx context.Context) ([]store.Project, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT title, status, progress, manager, priority, budget, team
		   FROM projects ORDER BY title`,
	)
	if err != nil {
		return nil, fmt.Errorf("org reader: projects: %w", err)
	}
	defer rows.Close()

	var projects []store.Project
	for rows.Next() {
		var p store.Project
		if err := rows.Scan(&p.Title, &p.Status, &p.Progress, &p.Manager,
			&p.Priority, &p.Budget, &p.Team); err != nil {
			return nil, fmt.Errorf("org reader: scan project: %w", err)
		}
		projects = append(projects, p)
	}
	return projects, rows.Err()
}

// Members returns summarized team member records.
func (r *Reader) Members(ctx context.Context) ([]store.Member, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT name, role, department, skills, status FROM users ORDER BY name`,
	)
	if err != nil {
		return nil, fmt.Errorf("org reader: members: %w", err)
	}
	defer rows.Close()

	var members []store.Member
	for rows.Next() {
		var m store.Member
		if err := rows.Scan(&m.Name, &m.Role, &m.Department, &m.Skills, &m.Status); err != nil {
			return nil, fmt.Errorf("org reader: scan member: %w", err)
		}
		members = append(members, m)
	}
	return members, rows.Err()
}

// Reports returns filed work reports, oldest first.
func (r *Reader) Reports(ctx context.Context) ([]store.Report, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT project, author, date, content FROM reports ORDER BY date`,
	)
	if err != nil {
		return nil, fmt.Errorf("org reader: reports: %w", err)
	}
	defer rows.Close()

	var reports []store.Report
	for rows.Next() {
		var rep store.Report
		if err := rows.Scan(&rep.Project, &rep.Author, &rep.Date, &rep.Content); err != nil {
			return nil, fmt.Errorf("org reader: scan report: %w", err)
		}
		reports = append(reports, rep)
	}
	return reports, rows.Err()
}

// Transactions returns finance ledger entries in chronological order.
func (r *Reader) Transactions(ctx context.Context) ([]store.Transaction, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT kind, amount, date, description FROM transactions ORDER BY date`,
	)
	if err != nil {
		return nil, fmt.Errorf("org reader: transactions: %w", err)
	}
	defer rows.Close()

	var txs []store.Transaction
	for rows.Next() {
		var t store.Transaction
		if err := rows.Scan(&t.Kind, &t.Amount, &t.Date, &t.Description); err != nil {
			return nil, fmt.Errorf("org reader: scan transaction: %w", err)
		}
		txs = append(txs, t)
	}
	return txs, rows.Err()
}

// LatestBusinessPlan returns the most recently updated business plan, or nil
// when none has been generated yet.
func (r *Reader) LatestBusinessPlan(ctx context.Context) (*store.BusinessPlan, error) {
	var p store.BusinessPlan
	err := r.pool.QueryRow(ctx,
		`SELECT content, updated_at FROM business_plans ORDER BY updated_at DESC LIMIT 1`,
	).Scan(&p.Content, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("org reader: latest business plan: %w", err)
	}
	return &p, nil
}
