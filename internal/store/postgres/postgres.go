// Package postgres provides the Postgres-backed store implementation.
// Jurisdiction extension records are kept in a JSONB column so new
// jurisdictions do not require schema changes; see schema.sql for the DDL.
package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kyrt-project/courtcrawler/internal/model"
	"github.com/kyrt-project/courtcrawler/internal/store"
)

// Config controls the Postgres connection pool.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

// pool is the subset of pgxpool.Pool the store uses; pgxmock satisfies it.
type pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// Store implements store.Store on Postgres.
type Store struct {
	pool pool
}

// New connects a Postgres store using the provided config.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database.postgres.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Store{pool: p}, nil
}

// NewWithPool constructs a store from an existing pool (primarily for tests).
func NewWithPool(p pool) (*Store, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &Store{pool: p}, nil
}

// Close releases the underlying pool resources.
func (s *Store) Close() error {
	if s != nil && s.pool != nil {
		s.pool.Close()
	}
	return nil
}

// Companies returns tracked companies with aliases attached.
func (s *Store) Companies(ctx context.Context, ids []int64) ([]model.Company, error) {
	query := `SELECT id, name FROM companies ORDER BY name`
	args := []any{}
	if len(ids) > 0 {
		query = `SELECT id, name FROM companies WHERE id = ANY($1) ORDER BY name`
		args = append(args, ids)
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("select companies: %w", err)
	}
	defer rows.Close()

	byID := make(map[int64]*model.Company)
	var order []int64
	for rows.Next() {
		var c model.Company
		if err := rows.Scan(&c.ID, &c.Name); err != nil {
			return nil, fmt.Errorf("scan company: %w", err)
		}
		byID[c.ID] = &c
		order = append(order, c.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate companies: %w", err)
	}

	aliasRows, err := s.pool.Query(ctx,
		`SELECT company_id, name FROM company_aliases ORDER BY company_id, name`)
	if err != nil {
		return nil, fmt.Errorf("select aliases: %w", err)
	}
	defer aliasRows.Close()
	for aliasRows.Next() {
		var companyID int64
		var alias string
		if err := aliasRows.Scan(&companyID, &alias); err != nil {
			return nil, fmt.Errorf("scan alias: %w", err)
		}
		if c, ok := byID[companyID]; ok {
			c.Aliases = append(c.Aliases, alias)
		}
	}
	if err := aliasRows.Err(); err != nil {
		return nil, fmt.Errorf("iterate aliases: %w", err)
	}

	out := make([]model.Company, 0, len(order))
	for _, id := range order {
		out = append(out, *byID[id])
	}
	return out, nil
}

// ImportCompany upserts a company and its name variations.
func (s *Store) ImportCompany(ctx context.Context, name string, aliases []string) (model.Company, error) {
	var id int64
	err := s.pool.QueryRow(ctx, `
INSERT INTO companies (name) VALUES ($1)
ON CONFLICT (name) DO UPDATE SET name = EXCLUDED.name
RETURNING id`, name).Scan(&id)
	if err != nil {
		return model.Company{}, fmt.Errorf("upsert company: %w", err)
	}
	for _, alias := range aliases {
		if _, err := s.pool.Exec(ctx, `
INSERT INTO company_aliases (company_id, name) VALUES ($1, $2)
ON CONFLICT (company_id, name) DO NOTHING`, id, alias); err != nil {
			return model.Company{}, fmt.Errorf("upsert alias: %w", err)
		}
	}
	return model.Company{ID: id, Name: name, Aliases: aliases}, nil
}

// KnownDocketIDs returns every docket id recorded for the jurisdiction.
func (s *Store) KnownDocketIDs(ctx context.Context, j model.Jurisdiction) (map[string]struct{}, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT docket_id FROM cases WHERE jurisdiction = $1`, string(j))
	if err != nil {
		return nil, fmt.Errorf("select docket ids: %w", err)
	}
	defer rows.Close()

	out := make(map[string]struct{})
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan docket id: %w", err)
		}
		out[id] = struct{}{}
	}
	return out, rows.Err()
}

// KnownDocumentIDs returns "<docket>/<doc>" keys recorded for the jurisdiction.
func (s *Store) KnownDocumentIDs(ctx context.Context, j model.Jurisdiction) (map[string]struct{}, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT case_docket_id, document_id FROM documents WHERE jurisdiction = $1`, string(j))
	if err != nil {
		return nil, fmt.Errorf("select document ids: %w", err)
	}
	defer rows.Close()

	out := make(map[string]struct{})
	for rows.Next() {
		var docket, doc string
		if err := rows.Scan(&docket, &doc); err != nil {
			return nil, fmt.Errorf("scan document id: %w", err)
		}
		out[store.DocumentKey(docket, doc)] = struct{}{}
	}
	return out, rows.Err()
}

const insertCaseSQL = `
INSERT INTO cases (
	jurisdiction, company_id, company_alias, docket_id, case_number, caption,
	court, case_type, case_date, status, url, found_at, detailed, details
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
ON CONFLICT (jurisdiction, docket_id) DO NOTHING`

// CreateCases bulk-inserts cases; duplicates are absorbed by the unique
// constraint (defense in depth behind the known-ids set).
func (s *Store) CreateCases(ctx context.Context, cases []model.Case) error {
	for _, c := range cases {
		details, err := marshalCaseDetails(c)
		if err != nil {
			return err
		}
		foundAt := c.FoundAt
		if foundAt.IsZero() {
			foundAt = time.Now().UTC()
		}
		if _, err := s.pool.Exec(ctx, insertCaseSQL,
			string(c.Jurisdiction), c.CompanyID, c.CompanyAlias, c.DocketID,
			c.CaseNumber, c.Caption, c.Court, c.CaseType,
			nullableTime(c.CaseDate), c.Status, c.URL, foundAt, c.Detailed, details,
		); err != nil {
			return fmt.Errorf("insert case %s/%s: %w", c.Jurisdiction, c.DocketID, err)
		}
	}
	return nil
}

const selectCaseSQL = `
SELECT id, jurisdiction, company_id, company_alias, docket_id, case_number,
	caption, court, case_type, case_date, status, url, found_at,
	detailed, detailed_at, details
FROM cases`

// CasesToDetail selects cases per mode.
func (s *Store) CasesToDetail(ctx context.Context, j model.Jurisdiction, mode model.Mode, companyIDs []int64) ([]model.Case, error) {
	query := selectCaseSQL + ` WHERE jurisdiction = $1`
	args := []any{string(j)}
	switch mode {
	case model.ModeNew:
		query += ` AND NOT detailed`
	case model.ModeExisting:
		// refresh everything
	case model.ModeFlagged:
		query += ` AND case_number !~ '[0-9]'`
	default:
		return nil, fmt.Errorf("unknown mode %q", mode)
	}
	if len(companyIDs) > 0 {
		args = append(args, companyIDs)
		query += fmt.Sprintf(` AND company_id = ANY($%d)`, len(args))
	}
	query += ` ORDER BY docket_id`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("select cases to detail: %w", err)
	}
	defer rows.Close()

	var out []model.Case
	for rows.Next() {
		c, err := scanCase(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// UpdateCase persists detail fields. The detailed flag only ever moves
// forward; the OR in the SET clause keeps re-runs monotonic.
func (s *Store) UpdateCase(ctx context.Context, c model.Case) error {
	details, err := marshalCaseDetails(c)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `
UPDATE cases SET
	case_number = $3, caption = $4, court = $5, case_type = $6, case_date = $7,
	status = $8, detailed = (cases.detailed OR $9),
	detailed_at = COALESCE(cases.detailed_at, $10), details = $11
WHERE jurisdiction = $1 AND docket_id = $2`,
		string(c.Jurisdiction), c.DocketID, c.CaseNumber, c.Caption, c.Court,
		c.CaseType, nullableTime(c.CaseDate), c.Status, c.Detailed,
		c.DetailedAt, details)
	if err != nil {
		return fmt.Errorf("update case %s/%s: %w", c.Jurisdiction, c.DocketID, err)
	}
	return nil
}

const insertDocumentSQL = `
INSERT INTO documents (
	case_id, jurisdiction, case_docket_id, document_id, name, url,
	downloaded, storage_path, details
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
ON CONFLICT (case_id, document_id) DO NOTHING`

// CreateDocuments bulk-inserts document metadata; duplicates are absorbed.
func (s *Store) CreateDocuments(ctx context.Context, docs []model.Document) error {
	for _, d := range docs {
		details, err := marshalDocumentDetails(d)
		if err != nil {
			return err
		}
		if _, err := s.pool.Exec(ctx, insertDocumentSQL,
			d.CaseID, string(d.Jurisdiction), d.CaseDocketID, d.DocumentID,
			d.Name, d.URL, d.Downloaded, d.StoragePath, details,
		); err != nil {
			return fmt.Errorf("insert document %s/%s: %w", d.CaseDocketID, d.DocumentID, err)
		}
	}
	return nil
}

// DocumentsToDownload selects pending documents on cases inside the cutoff.
func (s *Store) DocumentsToDownload(ctx context.Context, j model.Jurisdiction, cutoff time.Time) ([]model.Document, error) {
	rows, err := s.pool.Query(ctx, `
SELECT d.id, d.case_id, d.jurisdiction, d.case_docket_id, d.document_id,
	d.name, d.url, d.downloaded, d.downloaded_at, d.storage_path, d.details
FROM documents d
JOIN cases c ON c.id = d.case_id
WHERE d.jurisdiction = $1 AND NOT d.downloaded AND c.case_date >= $2
ORDER BY d.case_docket_id, d.document_id`, string(j), cutoff)
	if err != nil {
		return nil, fmt.Errorf("select documents to download: %w", err)
	}
	defer rows.Close()

	var out []model.Document
	for rows.Next() {
		var d model.Document
		var jurisdiction string
		var details []byte
		if err := rows.Scan(&d.ID, &d.CaseID, &jurisdiction, &d.CaseDocketID,
			&d.DocumentID, &d.Name, &d.URL, &d.Downloaded, &d.DownloadedAt,
			&d.StoragePath, &details); err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		d.Jurisdiction = model.Jurisdiction(jurisdiction)
		if err := unmarshalDocumentDetails(&d, details); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// UpdateDocument persists download state; downloaded is monotonic, same
// pattern as UpdateCase.
func (s *Store) UpdateDocument(ctx context.Context, d model.Document) error {
	_, err := s.pool.Exec(ctx, `
UPDATE documents SET
	downloaded = (documents.downloaded OR $3),
	downloaded_at = COALESCE(documents.downloaded_at, $4),
	storage_path = CASE WHEN $5 <> '' THEN $5 ELSE documents.storage_path END
WHERE case_id = $1 AND document_id = $2`,
		d.CaseID, d.DocumentID, d.Downloaded, d.DownloadedAt, d.StoragePath)
	if err != nil {
		return fmt.Errorf("update document %s/%s: %w", d.CaseDocketID, d.DocumentID, err)
	}
	return nil
}

type caseScanner interface {
	Scan(dest ...any) error
}

func scanCase(row caseScanner) (model.Case, error) {
	var c model.Case
	var jurisdiction string
	var caseDate *time.Time
	var details []byte
	if err := row.Scan(&c.ID, &jurisdiction, &c.CompanyID, &c.CompanyAlias,
		&c.DocketID, &c.CaseNumber, &c.Caption, &c.Court, &c.CaseType,
		&caseDate, &c.Status, &c.URL, &c.FoundAt, &c.Detailed, &c.DetailedAt,
		&details); err != nil {
		return model.Case{}, fmt.Errorf("scan case: %w", err)
	}
	c.Jurisdiction = model.Jurisdiction(jurisdiction)
	if caseDate != nil {
		c.CaseDate = *caseDate
	}
	if err := unmarshalCaseDetails(&c, details); err != nil {
		return model.Case{}, err
	}
	return c, nil
}

func marshalCaseDetails(c model.Case) ([]byte, error) {
	var v any
	switch {
	case c.NY != nil:
		v = c.NY
	case c.CT != nil:
		v = c.CT
	default:
		return nil, nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal case details: %w", err)
	}
	return raw, nil
}

func unmarshalCaseDetails(c *model.Case, raw []byte) error {
	if len(raw) == 0 {
		return nil
	}
	switch c.Jurisdiction {
	case model.JurisdictionNY:
		c.NY = &model.CaseDetailsNY{}
		return unmarshalDetails(raw, c.NY)
	case model.JurisdictionCT:
		c.CT = &model.CaseDetailsCT{}
		return unmarshalDetails(raw, c.CT)
	}
	return nil
}

func marshalDocumentDetails(d model.Document) ([]byte, error) {
	var v any
	switch {
	case d.NY != nil:
		v = d.NY
	case d.CT != nil:
		v = d.CT
	default:
		return nil, nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal document details: %w", err)
	}
	return raw, nil
}

func unmarshalDocumentDetails(d *model.Document, raw []byte) error {
	if len(raw) == 0 {
		return nil
	}
	switch d.Jurisdiction {
	case model.JurisdictionNY:
		d.NY = &model.DocumentDetailsNY{}
		return unmarshalDetails(raw, d.NY)
	case model.JurisdictionCT:
		d.CT = &model.DocumentDetailsCT{}
		return unmarshalDetails(raw, d.CT)
	}
	return nil
}

func unmarshalDetails(raw []byte, v any) error {
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("unmarshal details: %w", err)
	}
	return nil
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
