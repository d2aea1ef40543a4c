package cache

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

const sqliteDSNExtras = "?_busy_timeout=2000&mode=rwc"

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS tiles (
	key     TEXT PRIMARY KEY,
	value   BLOB NOT NULL,
	updated INTEGER NOT NULL
);`

const sqliteUpsert = `
INSERT INTO tiles(key, value, updated) VALUES(?, ?, ?)
ON CONFLICT(key) DO UPDATE SET value=excluded.value, updated=excluded.updated;`

// SQLiteStore 基于 SQLite 的持久化存储
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLiteStore 打开（必要时创建）数据库文件并初始化表结构
func OpenSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, err
	}
	db, err := sqliteRecoverIfNeeded(dbPath)
	if err != nil {
		return nil, err
	}
	db.SetConnMaxLifetime(0)
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	// WAL 模式在某些文件系统上不可用，失败时沿用默认日志模式
	_, _ = db.Exec("PRAGMA journal_mode=WAL;")
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, err
	}
	return &SQLiteStore{db: db}, nil
}

// sqliteRecoverIfNeeded 检测并在必要时尝试修复(或重新创建)损坏的 sqlite 数据库
func sqliteRecoverIfNeeded(dbPath string) (*sql.DB, error) {
	dsn := "file:" + dbPath + sqliteDSNExtras
	if _, err := os.Stat(dbPath); errors.Is(err, os.ErrNotExist) {
		return sql.Open("sqlite3", dsn)
	}
	db, err := sql.Open("sqlite3", dsn)
	if err == nil {
		if errPing := db.Ping(); errPing == nil {
			return db, nil
		}
		_ = db.Close()
	}
	backupPath := dbPath + ".corrupt." + time.Now().Format("20060102_150405")
	_ = os.Rename(dbPath, backupPath)
	return sql.Open("sqlite3", dsn)
}

func (s *SQLiteStore) Get(ctx context.Context, key string) ([]byte, error) {
	var val []byte
	err := s.db.QueryRowContext(ctx, "SELECT value FROM tiles WHERE key = ?", key).Scan(&val)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return val, nil
}

func (s *SQLiteStore) Put(ctx context.Context, key string, value []byte) error {
	_, err := s.db.ExecContext(ctx, sqliteUpsert, key, value, time.Now().Unix())
	return err
}

// PutBatch 在单个事务中写入所有数据
func (s *SQLiteStore) PutBatch(ctx context.Context, records map[string][]byte) error {
	if len(records) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	stmt, err := tx.PrepareContext(ctx, sqliteUpsert)
	if err != nil {
		tx.Rollback()
		return err
	}
	defer stmt.Close()

	now := time.Now().Unix()
	for k, v := range records {
		if _, err := stmt.ExecContext(ctx, k, v, now); err != nil {
			tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

func (s *SQLiteStore) Delete(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM tiles WHERE key = ?", key)
	return err
}

func (s *SQLiteStore) Close() error { return s.db.Close() }
