// Package state persists per-repository indexing state: the commit a
// repository was last indexed at, its per-file content hashes, and the
// success flags of each pipeline stage. The planner reads this state to
// decide which stages a re-index must run.
package state

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/fyrsmithlabs/reposearch/internal/models"
)

const schema = `
CREATE TABLE IF NOT EXISTS repositories (
	full_name      TEXT PRIMARY KEY,
	owner          TEXT NOT NULL,
	name           TEXT NOT NULL,
	url            TEXT NOT NULL DEFAULT '',
	commit_hash    TEXT NOT NULL DEFAULT '',
	file_hashes    TEXT NOT NULL DEFAULT '{}',
	chunk_counts   TEXT NOT NULL DEFAULT '{}',
	num_files      INTEGER NOT NULL DEFAULT 0,
	num_chunks     INTEGER NOT NULL DEFAULT 0,
	download_ok    INTEGER NOT NULL DEFAULT 0,
	chunk_ok       INTEGER NOT NULL DEFAULT 0,
	embed_ok       INTEGER NOT NULL DEFAULT 0,
	last_indexed   TIMESTAMP,
	updated_at     TIMESTAMP NOT NULL
);
`

// Store persists repository indexing state in SQLite.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the state database at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening state database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	// SQLite performs best with a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Get returns the stored state for fullName, or (nil, nil) when the
// repository has never been indexed.
func (s *Store) Get(ctx context.Context, fullName string) (*models.RepositoryInfo, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT owner, name, url, commit_hash, file_hashes, chunk_counts,
		       num_files, num_chunks, download_ok, chunk_ok, embed_ok, last_indexed
		FROM repositories WHERE full_name = ?`, fullName)

	info, err := scanRepository(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading state for %s: %w", fullName, err)
	}
	return info, nil
}

// Put stores info, replacing any prior state for the same repository.
func (s *Store) Put(ctx context.Context, info *models.RepositoryInfo) error {
	hashes, err := json.Marshal(info.FileHashes)
	if err != nil {
		return fmt.Errorf("encoding file hashes: %w", err)
	}
	counts, err := json.Marshal(info.ChunkCounts)
	if err != nil {
		return fmt.Errorf("encoding chunk counts: %w", err)
	}

	var lastIndexed any
	if info.LastIndexed != nil {
		lastIndexed = info.LastIndexed.UTC()
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO repositories
			(full_name, owner, name, url, commit_hash, file_hashes,
			 chunk_counts, num_files, num_chunks, download_ok, chunk_ok,
			 embed_ok, last_indexed, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(full_name) DO UPDATE SET
			url          = excluded.url,
			commit_hash  = excluded.commit_hash,
			file_hashes  = excluded.file_hashes,
			chunk_counts = excluded.chunk_counts,
			num_files    = excluded.num_files,
			num_chunks   = excluded.num_chunks,
			download_ok  = excluded.download_ok,
			chunk_ok     = excluded.chunk_ok,
			embed_ok     = excluded.embed_ok,
			last_indexed = excluded.last_indexed,
			updated_at   = excluded.updated_at`,
		info.FullName(), info.Owner, info.Name, info.URL, info.CommitHash,
		string(hashes), string(counts), info.NumFiles, info.NumChunks,
		info.DownloadOK, info.ChunkOK, info.EmbedOK,
		lastIndexed, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("saving state for %s: %w", info.FullName(), err)
	}
	return nil
}

// List returns all stored repositories ordered by full name.
func (s *Store) List(ctx context.Context) ([]*models.RepositoryInfo, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT owner, name, url, commit_hash, file_hashes, chunk_counts,
		       num_files, num_chunks, download_ok, chunk_ok, embed_ok, last_indexed
		FROM repositories ORDER BY full_name`)
	if err != nil {
		return nil, fmt.Errorf("listing repositories: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*models.RepositoryInfo
	for rows.Next() {
		info, err := scanRepository(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning repository row: %w", err)
		}
		out = append(out, info)
	}
	return out, rows.Err()
}

// Delete removes the state for fullName. Deleting an unknown repository is
// not an error.
func (s *Store) Delete(ctx context.Context, fullName string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM repositories WHERE full_name = ?`, fullName)
	if err != nil {
		return fmt.Errorf("deleting state for %s: %w", fullName, err)
	}
	return nil
}

// Clear removes all stored repository state.
func (s *Store) Clear(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM repositories`)
	if err != nil {
		return fmt.Errorf("clearing state: %w", err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRepository(row scanner) (*models.RepositoryInfo, error) {
	var (
		info        models.RepositoryInfo
		hashesJSON  string
		countsJSON  string
		lastIndexed sql.NullTime
	)
	err := row.Scan(&info.Owner, &info.Name, &info.URL, &info.CommitHash,
		&hashesJSON, &countsJSON, &info.NumFiles, &info.NumChunks,
		&info.DownloadOK, &info.ChunkOK, &info.EmbedOK, &lastIndexed)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(hashesJSON), &info.FileHashes); err != nil {
		return nil, fmt.Errorf("decoding file hashes: %w", err)
	}
	if info.FileHashes == nil {
		info.FileHashes = map[string]string{}
	}
	if err := json.Unmarshal([]byte(countsJSON), &info.ChunkCounts); err != nil {
		return nil, fmt.Errorf("decoding chunk counts: %w", err)
	}
	if lastIndexed.Valid {
		t := lastIndexed.Time
		info.LastIndexed = &t
	}
	return &info, nil
}
