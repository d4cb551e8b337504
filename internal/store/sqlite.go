// Copyright 2025 ByteDance Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package store

import (
	"context"
	"database/sql"
	"time"

	_ "github.com/glebarez/go-sqlite"
	"github.com/pkg/errors"

	"github.com/cloudwego/captioner/internal/pipeline"
)

// SQLiteStore keeps every state document in one table of a SQLite file. The
// overall status is a column of its own so it can be queried without decoding.
type SQLiteStore struct {
	DB *sql.DB
}

func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", path)
	}
	// writes are serialized by SQLite anyway
	db.SetMaxOpenConns(1)
	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS pipeline_states (
		item_key TEXT PRIMARY KEY,
		overall_status TEXT NOT NULL,
		document TEXT NOT NULL,
		updated_at DATETIME NOT NULL
	);`)
	if err != nil {
		db.Close()
		return nil, errors.Wrap(err, "create pipeline_states")
	}
	return &SQLiteStore{DB: db}, nil
}

func (s *SQLiteStore) Load(ctx context.Context, key string) (*pipeline.PipelineState, error) {
	var doc string
	err := s.DB.QueryRowContext(ctx, `SELECT document FROM pipeline_states WHERE item_key = ?`, key).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "query state %s", key)
	}
	return pipeline.UnmarshalState([]byte(doc))
}

func (s *SQLiteStore) Save(ctx context.Context, key string, st *pipeline.PipelineState) error {
	st.UpdatedAt = time.Now()
	raw, err := pipeline.MarshalState(st)
	if err != nil {
		return err
	}
	_, err = s.DB.ExecContext(ctx, `INSERT INTO pipeline_states (item_key, overall_status, document, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(item_key) DO UPDATE SET
			overall_status = excluded.overall_status,
			document = excluded.document,
			updated_at = excluded.updated_at`,
		key, string(st.OverallStatus), string(raw), st.UpdatedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return errors.Wrapf(err, "save state %s", key)
	}
	return nil
}

// CountByStatus returns the number of items per overall status.
func (s *SQLiteStore) CountByStatus(ctx context.Context) (map[pipeline.Status]int, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT overall_status, COUNT(*) FROM pipeline_states GROUP BY overall_status`)
	if err != nil {
		return nil, errors.Wrap(err, "count states")
	}
	defer rows.Close()
	out := make(map[pipeline.Status]int)
	for rows.Next() {
		var (
			status string
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		out[pipeline.Status(status)] = n
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Close() error {
	return s.DB.Close()
}
