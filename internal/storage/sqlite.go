// Package storage provides SQLite implementation of the Storage interface.
package storage

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/hyperjump/gramaudit/internal/models"
)

// SQLiteStorage implements Storage using SQLite.
type SQLiteStorage struct {
	db *sql.DB
}

// NewSQLiteStorage opens or creates a SQLite database at dbPath and initializes the schema.
// Parent directories are created if they do not exist.
func NewSQLiteStorage(dbPath string) (*SQLiteStorage, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	// Pragmas go in the DSN so every pooled connection gets them.
	db, err := sql.Open(driverName, dsn(dbPath))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &SQLiteStorage{db: db}, nil
}

func initSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS cohorts (
		id TEXT PRIMARY KEY,
		hash TEXT NOT NULL UNIQUE,
		canonical_form TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS cohort_members (
		file_id TEXT PRIMARY KEY,
		cohort_id TEXT NOT NULL,
		assigned_at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_cohort_members_cohort ON cohort_members(cohort_id);

	CREATE TABLE IF NOT EXISTS grammar_files (
		id TEXT PRIMARY KEY,
		path TEXT NOT NULL,
		name TEXT,
		signature_hash TEXT NOT NULL,
		content_hash TEXT NOT NULL DEFAULT '',
		ingested_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS positions (
		file_id TEXT NOT NULL,
		position_index INTEGER NOT NULL,
		attribute_label TEXT NOT NULL,
		normalized_label TEXT NOT NULL,
		option_codes TEXT NOT NULL,
		option_descriptions TEXT,
		PRIMARY KEY (file_id, position_index),
		UNIQUE (file_id, position_index, normalized_label)
	);

	CREATE TABLE IF NOT EXISTS embedding_cache (
		value_hash TEXT PRIMARY KEY,
		value TEXT NOT NULL,
		source TEXT NOT NULL DEFAULT '',
		vector BLOB NOT NULL,
		usage_count INTEGER NOT NULL DEFAULT 1,
		proj_x_2d REAL,
		proj_y_2d REAL,
		proj_x_3d REAL,
		proj_y_3d REAL,
		proj_z_3d REAL,
		created_at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_embedding_cache_source ON embedding_cache(source);
	`
	_, err := db.Exec(schema)
	return err
}

// LoadAllCohorts returns every cohort with its member file IDs sorted.
func (s *SQLiteStorage) LoadAllCohorts(ctx context.Context) ([]*models.GrammarCohort, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, hash, canonical_form, created_at FROM cohorts ORDER BY created_at, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cohorts []*models.GrammarCohort
	byID := make(map[string]*models.GrammarCohort)
	for rows.Next() {
		var c models.GrammarCohort
		var formJSON string
		var created int64
		if err := rows.Scan(&c.ID, &c.Hash, &formJSON, &created); err != nil {
			return nil, err
		}
		var form []models.CanonicalPosition
		if err := json.Unmarshal([]byte(formJSON), &form); err != nil {
			return nil, fmt.Errorf("failed to unmarshal canonical form of cohort %s: %w", c.ID, err)
		}
		c.Signature = &models.StructuralSignature{CanonicalForm: form, Hash: c.Hash}
		c.CreatedAt = time.Unix(created, 0).UTC()
		cohorts = append(cohorts, &c)
		byID[c.ID] = &c
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	members, err := s.db.QueryContext(ctx, `SELECT file_id, cohort_id FROM cohort_members`)
	if err != nil {
		return nil, err
	}
	defer members.Close()
	for members.Next() {
		var fileID, cohortID string
		if err := members.Scan(&fileID, &cohortID); err != nil {
			return nil, err
		}
		if c, ok := byID[cohortID]; ok {
			c.FileIDs = append(c.FileIDs, fileID)
		}
	}
	for _, c := range cohorts {
		sort.Strings(c.FileIDs)
	}
	return cohorts, members.Err()
}

// UpsertCohort inserts cohort unless one with the same hash exists. cohort.ID is set to the
// stored ID, so concurrent writers converge on a single row per hash.
func (s *SQLiteStorage) UpsertCohort(ctx context.Context, cohort *models.GrammarCohort) error {
	var form []models.CanonicalPosition
	if cohort.Signature != nil {
		form = cohort.Signature.CanonicalForm
	}
	if form == nil {
		form = []models.CanonicalPosition{}
	}
	formJSON, err := json.Marshal(form)
	if err != nil {
		return fmt.Errorf("failed to marshal canonical form: %w", err)
	}
	if cohort.CreatedAt.IsZero() {
		cohort.CreatedAt = time.Now().UTC()
	}
	return withRetry(ctx, func() error {
		if _, err := s.db.ExecContext(ctx,
			`INSERT INTO cohorts (id, hash, canonical_form, created_at)
			 VALUES (?, ?, ?, ?)
			 ON CONFLICT(hash) DO NOTHING`,
			cohort.ID, cohort.Hash, string(formJSON), cohort.CreatedAt.Unix(),
		); err != nil {
			return err
		}
		return s.db.QueryRowContext(ctx,
			`SELECT id FROM cohorts WHERE hash = ?`, cohort.Hash,
		).Scan(&cohort.ID)
	})
}

// UpsertMembership records fileID as a member of cohortID, replacing any previous membership.
func (s *SQLiteStorage) UpsertMembership(ctx context.Context, fileID, cohortID string) error {
	return withRetry(ctx, func() error {
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO cohort_members (file_id, cohort_id, assigned_at)
			 VALUES (?, ?, ?)
			 ON CONFLICT(file_id) DO UPDATE SET cohort_id = excluded.cohort_id, assigned_at = excluded.assigned_at`,
			fileID, cohortID, time.Now().Unix(),
		)
		return err
	})
}

// UpsertFile stores file and replaces its positions in one transaction.
func (s *SQLiteStorage) UpsertFile(ctx context.Context, file *models.ConfigurationFile) error {
	if file.IngestedAt.IsZero() {
		file.IngestedAt = time.Now().UTC()
	}
	return withRetry(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback()

		if _, err := tx.ExecContext(ctx,
			`INSERT INTO grammar_files (id, path, name, signature_hash, content_hash, ingested_at)
			 VALUES (?, ?, ?, ?, ?, ?)
			 ON CONFLICT(id) DO UPDATE SET path = excluded.path, name = excluded.name,
			   signature_hash = excluded.signature_hash, content_hash = excluded.content_hash,
			   ingested_at = excluded.ingested_at`,
			file.ID, file.Path, file.Name, file.Hash, file.ContentHash, file.IngestedAt.Unix(),
		); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM positions WHERE file_id = ?`, file.ID); err != nil {
			return err
		}

		stmt, err := tx.PrepareContext(ctx,
			`INSERT INTO positions (file_id, position_index, attribute_label, normalized_label, option_codes, option_descriptions)
			 VALUES (?, ?, ?, ?, ?, ?)`,
		)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, p := range file.Positions {
			codesJSON, err := json.Marshal(p.OptionCodes)
			if err != nil {
				return fmt.Errorf("failed to marshal option codes: %w", err)
			}
			var descJSON []byte
			if len(p.OptionDescriptions) > 0 {
				if descJSON, err = json.Marshal(p.OptionDescriptions); err != nil {
					return fmt.Errorf("failed to marshal option descriptions: %w", err)
				}
			}
			if _, err := stmt.ExecContext(ctx, file.ID, p.Index, p.Label, p.NormalizedLabel, string(codesJSON), nullableString(descJSON)); err != nil {
				return err
			}
		}
		return tx.Commit()
	})
}

// GetFile returns a file with its positions ordered by index.
func (s *SQLiteStorage) GetFile(ctx context.Context, id string) (*models.ConfigurationFile, error) {
	var f models.ConfigurationFile
	var cohortID sql.NullString
	var ingested int64
	err := s.db.QueryRowContext(ctx,
		`SELECT f.id, f.path, f.name, f.signature_hash, f.content_hash, f.ingested_at, m.cohort_id
		 FROM grammar_files f LEFT JOIN cohort_members m ON m.file_id = f.id
		 WHERE f.id = ?`, id,
	).Scan(&f.ID, &f.Path, &f.Name, &f.Hash, &f.ContentHash, &ingested, &cohortID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("file %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	f.CohortID = cohortID.String
	f.IngestedAt = time.Unix(ingested, 0).UTC()

	rows, err := s.db.QueryContext(ctx,
		`SELECT position_index, attribute_label, normalized_label, option_codes, option_descriptions
		 FROM positions WHERE file_id = ? ORDER BY position_index`, id,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		p := models.Position{FileID: id}
		var codesJSON string
		var descJSON sql.NullString
		if err := rows.Scan(&p.Index, &p.Label, &p.NormalizedLabel, &codesJSON, &descJSON); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(codesJSON), &p.OptionCodes); err != nil {
			return nil, fmt.Errorf("failed to unmarshal option codes: %w", err)
		}
		if descJSON.Valid && descJSON.String != "" {
			if err := json.Unmarshal([]byte(descJSON.String), &p.OptionDescriptions); err != nil {
				return nil, fmt.Errorf("failed to unmarshal option descriptions: %w", err)
			}
		}
		f.Positions = append(f.Positions, p)
	}
	return &f, rows.Err()
}

// ListFiles returns files without positions, most recently ingested first.
func (s *SQLiteStorage) ListFiles(ctx context.Context, offset, limit int) ([]*models.ConfigurationFile, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT f.id, f.path, f.name, f.signature_hash, f.content_hash, f.ingested_at, m.cohort_id
		 FROM grammar_files f LEFT JOIN cohort_members m ON m.file_id = f.id
		 ORDER BY f.ingested_at DESC, f.id LIMIT ? OFFSET ?`,
		limit, offset,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var files []*models.ConfigurationFile
	for rows.Next() {
		var f models.ConfigurationFile
		var cohortID sql.NullString
		var ingested int64
		if err := rows.Scan(&f.ID, &f.Path, &f.Name, &f.Hash, &f.ContentHash, &ingested, &cohortID); err != nil {
			return nil, err
		}
		f.CohortID = cohortID.String
		f.IngestedAt = time.Unix(ingested, 0).UTC()
		files = append(files, &f)
	}
	return files, rows.Err()
}

// DeleteFile removes a file, its positions, and its cohort membership.
func (s *SQLiteStorage) DeleteFile(ctx context.Context, id string) error {
	return withRetry(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback()
		for _, q := range []string{
			`DELETE FROM positions WHERE file_id = ?`,
			`DELETE FROM cohort_members WHERE file_id = ?`,
			`DELETE FROM grammar_files WHERE id = ?`,
		} {
			if _, err := tx.ExecContext(ctx, q, id); err != nil {
				return err
			}
		}
		return tx.Commit()
	})
}

// LoadAllEmbeddings returns every cached embedding ordered by value hash.
func (s *SQLiteStorage) LoadAllEmbeddings(ctx context.Context) ([]*models.EmbeddingRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT value_hash, value, source, vector, usage_count,
		        proj_x_2d, proj_y_2d, proj_x_3d, proj_y_3d, proj_z_3d, created_at
		 FROM embedding_cache ORDER BY value_hash`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []*models.EmbeddingRecord
	for rows.Next() {
		var rec models.EmbeddingRecord
		var blob []byte
		var x2, y2, x3, y3, z3 sql.NullFloat64
		var created int64
		if err := rows.Scan(&rec.ValueHash, &rec.RawValue, &rec.Source, &blob, &rec.UsageCount,
			&x2, &y2, &x3, &y3, &z3, &created); err != nil {
			return nil, err
		}
		rec.Vector = bytesToFloat32Slice(blob)
		if x2.Valid && y2.Valid {
			rec.Projected2D = models.Coordinates{x2.Float64, y2.Float64}
		}
		if x3.Valid && y3.Valid && z3.Valid {
			rec.Projected3D = models.Coordinates{x3.Float64, y3.Float64, z3.Float64}
		}
		rec.CreatedAt = time.Unix(created, 0).UTC()
		records = append(records, &rec)
	}
	return records, rows.Err()
}

// UpsertEmbedding inserts rec unless its value hash is already stored; the first raw value wins.
func (s *SQLiteStorage) UpsertEmbedding(ctx context.Context, rec *models.EmbeddingRecord) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	return withRetry(ctx, func() error {
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO embedding_cache (value_hash, value, source, vector, usage_count, created_at)
			 VALUES (?, ?, ?, ?, ?, ?)
			 ON CONFLICT(value_hash) DO NOTHING`,
			rec.ValueHash, rec.RawValue, rec.Source, float32SliceToBytes(rec.Vector), rec.UsageCount, rec.CreatedAt.Unix(),
		)
		return err
	})
}

// IncrementUsage atomically adds delta to a record's usage count.
func (s *SQLiteStorage) IncrementUsage(ctx context.Context, valueHash string, delta int64) error {
	return withRetry(ctx, func() error {
		result, err := s.db.ExecContext(ctx,
			`UPDATE embedding_cache SET usage_count = usage_count + ? WHERE value_hash = ?`,
			delta, valueHash,
		)
		if err != nil {
			return err
		}
		if n, _ := result.RowsAffected(); n == 0 {
			return fmt.Errorf("embedding %s: %w", valueHash, ErrNotFound)
		}
		return nil
	})
}

// UpdateProjections writes 2D or 3D coordinates for the given value hashes in one transaction.
func (s *SQLiteStorage) UpdateProjections(ctx context.Context, dims int, coords map[string]models.Coordinates) error {
	var query string
	switch dims {
	case 2:
		query = `UPDATE embedding_cache SET proj_x_2d = ?, proj_y_2d = ? WHERE value_hash = ?`
	case 3:
		query = `UPDATE embedding_cache SET proj_x_3d = ?, proj_y_3d = ?, proj_z_3d = ? WHERE value_hash = ?`
	default:
		return fmt.Errorf("unsupported projection dimensions: %d", dims)
	}
	for hash, c := range coords {
		if len(c) != dims {
			return fmt.Errorf("coordinates for %s have %d components, expected %d", hash, len(c), dims)
		}
	}
	return withRetry(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback()
		stmt, err := tx.PrepareContext(ctx, query)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for hash, c := range coords {
			args := make([]interface{}, 0, dims+1)
			for _, v := range c {
				args = append(args, v)
			}
			args = append(args, hash)
			if _, err := stmt.ExecContext(ctx, args...); err != nil {
				return err
			}
		}
		return tx.Commit()
	})
}

// Stats returns counts of stored files, cohorts, and embeddings.
func (s *SQLiteStorage) Stats(ctx context.Context) (*Stats, error) {
	var st Stats
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM grammar_files`).Scan(&st.Files); err != nil {
		return nil, err
	}
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM cohorts`).Scan(&st.Cohorts); err != nil {
		return nil, err
	}
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COUNT(CASE WHEN length(vector) > 0 THEN 1 END), COUNT(proj_x_2d), COUNT(proj_x_3d)
		 FROM embedding_cache`,
	).Scan(&st.Embeddings, &st.WithVector, &st.WithProjection2D, &st.WithProjection3D); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT source, COUNT(*), COUNT(proj_x_2d)
		 FROM embedding_cache GROUP BY source ORDER BY COUNT(*) DESC, source`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var sc SourceCount
		if err := rows.Scan(&sc.Source, &sc.Count, &sc.WithProjection); err != nil {
			return nil, err
		}
		st.BySource = append(st.BySource, sc)
	}
	return &st, rows.Err()
}

// Checkpoint folds the write-ahead log back into the main database file.
func (s *SQLiteStorage) Checkpoint(ctx context.Context) error {
	return withRetry(ctx, func() error {
		_, err := s.db.ExecContext(ctx, `PRAGMA wal_checkpoint(TRUNCATE)`)
		return err
	})
}

// Close closes the database connection.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

func nullableString(b []byte) interface{} {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}

func float32SliceToBytes(v []float32) []byte {
	const size = 4
	out := make([]byte, len(v)*size)
	for i, f := range v {
		binary.LittleEndian.PutUint32(out[i*size:], math.Float32bits(f))
	}
	return out
}

func bytesToFloat32Slice(b []byte) []float32 {
	const size = 4
	if len(b) == 0 {
		return nil
	}
	out := make([]float32, len(b)/size)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*size:]))
	}
	return out
}
