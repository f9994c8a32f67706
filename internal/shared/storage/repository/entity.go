package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"pilot-runtime/internal/shared/model"
	"pilot-runtime/internal/shared/storage"
	"pilot-runtime/internal/shared/storage/dbutil"
)

// SaveEntities 在一个事务内批量 UPSERT
//
// 冲突时只在新快照的历史不短于已存记录时覆盖。
func (s *Store) SaveEntities(ctx context.Context, entities []*model.Entity) error {
	if len(entities) == 0 {
		return nil
	}

	query := s.rebind(`
		INSERT INTO entities (uid, type, state, pilot_uid, clone_of, history_len, doc, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, ` + s.now() + `)
		` + s.dialect.UpsertConflict("uid", []string{
		"type = EXCLUDED.type",
		"state = EXCLUDED.state",
		"pilot_uid = EXCLUDED.pilot_uid",
		"clone_of = EXCLUDED.clone_of",
		"history_len = EXCLUDED.history_len",
		"doc = EXCLUDED.doc",
		"updated_at = EXCLUDED.updated_at",
	}, "entities.history_len <= EXCLUDED.history_len"))

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		return fmt.Errorf("prepare upsert: %w", err)
	}
	defer stmt.Close()

	for _, e := range entities {
		doc, err := e.Marshal()
		if err != nil {
			return err
		}
		if _, err := stmt.ExecContext(ctx,
			e.UID, string(e.Type), string(e.State),
			nullString(e.PilotUID), nullString(e.CloneOf),
			len(e.StateHistory), string(doc),
		); err != nil {
			return fmt.Errorf("upsert %s: %w", e.UID, err)
		}
	}
	return tx.Commit()
}

// GetEntity 按 UID 读取
func (s *Store) GetEntity(ctx context.Context, uid string) (*model.Entity, error) {
	var doc string
	err := s.db.QueryRowContext(ctx, s.rebind(`SELECT doc FROM entities WHERE uid = $1`), uid).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return model.UnmarshalEntity([]byte(doc))
}

// ListEntities 按条件列出
func (s *Store) ListEntities(ctx context.Context, filter storage.EntityFilter) ([]*model.Entity, error) {
	var conditions []string
	var args []interface{}
	add := func(col, val string) {
		args = append(args, val)
		conditions = append(conditions, fmt.Sprintf("%s = $%d", col, len(args)))
	}
	if filter.Type != "" {
		add("type", string(filter.Type))
	}
	if filter.State != "" {
		add("state", string(filter.State))
	}
	if filter.PilotUID != "" {
		add("pilot_uid", filter.PilotUID)
	}

	query, args := dbutil.BuildDynamicQuery(s.dialect, `SELECT doc FROM entities`, conditions, args)
	query += " ORDER BY uid"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*model.Entity
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, err
		}
		e, err := model.UnmarshalEntity([]byte(doc))
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// CountByState 按状态统计
func (s *Store) CountByState(ctx context.Context) (map[model.State]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT state, COUNT(*) FROM entities GROUP BY state`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[model.State]int)
	for rows.Next() {
		var state string
		var n int
		if err := rows.Scan(&state, &n); err != nil {
			return nil, err
		}
		counts[model.State(state)] = n
	}
	return counts, rows.Err()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
