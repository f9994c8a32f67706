// Package sqlite SQLite 数据库驱动
//
// 提供 SQLite 连接管理、方言实现和自动 Schema 迁移。
// 适用于开发、测试和单机运行。
package sqlite

import (
	"database/sql"
	"fmt"

	"pilot-runtime/internal/shared/storage/dbutil"

	_ "modernc.org/sqlite"
)

// Dialect SQLite 方言实现
type Dialect struct{}

var _ dbutil.Dialect = (*Dialect)(nil)

func (d *Dialect) DriverType() dbutil.DriverType {
	return dbutil.DriverSQLite
}

func (d *Dialect) Rebind(query string) string {
	return dbutil.StripPgCasts(dbutil.RebindToQuestion(query))
}

func (d *Dialect) CurrentTimestamp() string {
	return "datetime('now')"
}

func (d *Dialect) UpsertConflict(conflictColumn string, updateExprs []string, where string) string {
	return dbutil.OnConflict(conflictColumn, updateExprs, where)
}

func (d *Dialect) AutoMigrate(db *sql.DB) error {
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("sqlite auto-migrate failed: %w", err)
	}
	return nil
}

// Open 创建 SQLite 数据库连接
//
// dsn 示例：
//   - "file:/var/lib/pilot/state.db?cache=shared&mode=rwc"
//   - ":memory:"（测试用）
func Open(dsn string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}

	// SQLite 单写者
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set pragma %q: %w", p, err)
		}
	}
	return db, nil
}

const schema = `
CREATE TABLE IF NOT EXISTS entities (
    uid VARCHAR(128) PRIMARY KEY,
    type VARCHAR(16) NOT NULL,
    state VARCHAR(32) NOT NULL,
    pilot_uid VARCHAR(128),
    clone_of VARCHAR(128),
    history_len INTEGER NOT NULL DEFAULT 0,
    doc TEXT NOT NULL,
    updated_at DATETIME NOT NULL DEFAULT (datetime('now'))
);
CREATE INDEX IF NOT EXISTS idx_entities_state ON entities(state);
CREATE INDEX IF NOT EXISTS idx_entities_type ON entities(type);
`
