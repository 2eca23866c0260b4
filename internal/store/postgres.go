package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *PostgresStore) ListManuscripts(ctx context.Context) ([]Manuscript, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, title, created_at, updated_at
		FROM manuscripts
		ORDER BY updated_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("list manuscripts: %w", err)
	}
	defer rows.Close()

	items := make([]Manuscript, 0)
	for rows.Next() {
		var item Manuscript
		if err := rows.Scan(&item.ID, &item.Title, &item.CreatedAt, &item.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan manuscript: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate manuscripts: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) GetManuscript(ctx context.Context, manuscriptID string) (Manuscript, error) {
	var item Manuscript
	err := s.db.QueryRowContext(ctx, `
		SELECT id, title, created_at, updated_at
		FROM manuscripts
		WHERE id=$1
	`, manuscriptID).Scan(&item.ID, &item.Title, &item.CreatedAt, &item.UpdatedAt)
	if err != nil {
		return Manuscript{}, err
	}
	return item, nil
}

func (s *PostgresStore) InsertManuscript(ctx context.Context, item Manuscript) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO manuscripts (id, title)
		VALUES ($1, $2)
		ON CONFLICT (id) DO NOTHING
	`, item.ID, item.Title)
	if err != nil {
		return fmt.Errorf("insert manuscript: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListSections(ctx context.Context, manuscriptID string) ([]Section, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, manuscript_id, title, sort_order, updated_by_name, updated_at
		FROM sections
		WHERE manuscript_id=$1
		ORDER BY sort_order, updated_at
	`, manuscriptID)
	if err != nil {
		return nil, fmt.Errorf("list sections: %w", err)
	}
	defer rows.Close()

	items := make([]Section, 0)
	for rows.Next() {
		var item Section
		if err := rows.Scan(&item.ID, &item.ManuscriptID, &item.Title, &item.SortOrder, &item.UpdatedBy, &item.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan section: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sections: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) GetSection(ctx context.Context, sectionID string) (Section, error) {
	var item Section
	err := s.db.QueryRowContext(ctx, `
		SELECT id, manuscript_id, title, sort_order, updated_by_name, updated_at
		FROM sections
		WHERE id=$1
	`, sectionID).Scan(&item.ID, &item.ManuscriptID, &item.Title, &item.SortOrder, &item.UpdatedBy, &item.UpdatedAt)
	if err != nil {
		return Section{}, err
	}
	return item, nil
}

func (s *PostgresStore) InsertSection(ctx context.Context, item Section) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sections (id, manuscript_id, title, sort_order, updated_by_name)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO NOTHING
	`, item.ID, item.ManuscriptID, item.Title, item.SortOrder, item.UpdatedBy)
	if err != nil {
		return fmt.Errorf("insert section: %w", err)
	}
	return nil
}

// TouchSection bumps the edit metadata after working state changes.
func (s *PostgresStore) TouchSection(ctx context.Context, sectionID, updatedBy string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE sections
		SET updated_by_name=$2, updated_at=NOW()
		WHERE id=$1
	`, sectionID, updatedBy)
	if err != nil {
		return fmt.Errorf("touch section: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		UPDATE manuscripts
		SET updated_at=NOW()
		WHERE id=(SELECT manuscript_id FROM sections WHERE id=$1)
	`, sectionID)
	if err != nil {
		return fmt.Errorf("touch manuscript: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListReferences(ctx context.Context, manuscriptID string) ([]Reference, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT manuscript_id, ref_id, title, doi, created_at
		FROM bibliography_references
		WHERE manuscript_id=$1
		ORDER BY created_at
	`, manuscriptID)
	if err != nil {
		return nil, fmt.Errorf("list references: %w", err)
	}
	defer rows.Close()

	items := make([]Reference, 0)
	for rows.Next() {
		var item Reference
		if err := rows.Scan(&item.ManuscriptID, &item.RefID, &item.Title, &item.DOI, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan reference: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate references: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) UpsertReference(ctx context.Context, item Reference) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO bibliography_references (manuscript_id, ref_id, title, doi)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (manuscript_id, ref_id) DO UPDATE SET title=EXCLUDED.title, doi=EXCLUDED.doi
	`, item.ManuscriptID, item.RefID, item.Title, item.DOI)
	if err != nil {
		return fmt.Errorf("upsert reference: %w", err)
	}
	return nil
}

func (s *PostgresStore) DeleteReference(ctx context.Context, manuscriptID, refID string) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM bibliography_references
		WHERE manuscript_id=$1 AND ref_id=$2
	`, manuscriptID, refID)
	if err != nil {
		return fmt.Errorf("delete reference: %w", err)
	}
	return nil
}

func (s *PostgresStore) InsertVersionRecord(ctx context.Context, item VersionRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO version_records (id, section_id, commit_hash, message, provenance, created_by_name, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO NOTHING
	`, item.ID, item.SectionID, item.CommitHash, item.Message, item.Provenance, item.CreatedBy, item.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert version record: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListVersionRecords(ctx context.Context, sectionID string) ([]VersionRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, section_id, commit_hash, message, provenance, created_by_name, created_at
		FROM version_records
		WHERE section_id=$1
		ORDER BY created_at DESC
	`, sectionID)
	if err != nil {
		return nil, fmt.Errorf("list version records: %w", err)
	}
	defer rows.Close()

	items := make([]VersionRecord, 0)
	for rows.Next() {
		var item VersionRecord
		if err := rows.Scan(&item.ID, &item.SectionID, &item.CommitHash, &item.Message, &item.Provenance, &item.CreatedBy, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan version record: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate version records: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) GetVersionRecord(ctx context.Context, sectionID, versionID string) (VersionRecord, error) {
	var item VersionRecord
	err := s.db.QueryRowContext(ctx, `
		SELECT id, section_id, commit_hash, message, provenance, created_by_name, created_at
		FROM version_records
		WHERE section_id=$1 AND id=$2
	`, sectionID, versionID).Scan(&item.ID, &item.SectionID, &item.CommitHash, &item.Message, &item.Provenance, &item.CreatedBy, &item.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return VersionRecord{}, err
	}
	if err != nil {
		return VersionRecord{}, fmt.Errorf("get version record: %w", err)
	}
	return item, nil
}
