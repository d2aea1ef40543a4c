package cache

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"
)

// DefaultBucket bbolt 默认桶名
const DefaultBucket = "tiles"

// BoltStore 基于 bbolt 的持久化存储
type BoltStore struct {
	db     *bolt.DB
	bucket []byte
}

// OpenBoltStore 打开（必要时创建）数据库文件，文件损坏时备份后重建
func OpenBoltStore(dbPath, bucket string) (*BoltStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, err
	}
	db, err := bboltRecoverIfNeeded(dbPath, &bolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, err
	}
	if bucket == "" {
		bucket = DefaultBucket
	}
	s := &BoltStore{db: db, bucket: []byte(bucket)}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(s.bucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// bboltRecoverIfNeeded 检测并在必要时尝试修复(或重新创建)损坏的 bbolt 数据库
func bboltRecoverIfNeeded(dbPath string, opts *bolt.Options) (*bolt.DB, error) {
	if _, err := os.Stat(dbPath); errors.Is(err, os.ErrNotExist) {
		return bolt.Open(dbPath, 0o600, opts)
	}
	db, err := bolt.Open(dbPath, 0o600, opts)
	if err == nil {
		return db, nil
	}
	// 打开失败视为损坏：先备份原文件，再新建
	backupPath := dbPath + ".corrupt." + time.Now().Format("20060102_150405")
	_ = os.Rename(dbPath, backupPath)
	return bolt.Open(dbPath, 0o600, opts)
}

func (s *BoltStore) Get(_ context.Context, key string) ([]byte, error) {
	var val []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(s.bucket).Get([]byte(key))
		if v == nil {
			return ErrNotFound
		}
		// bbolt 返回的切片只在事务内有效
		val = append([]byte(nil), v...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return val, nil
}

func (s *BoltStore) Put(_ context.Context, key string, value []byte) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(s.bucket).Put([]byte(key), value)
	})
}

// PutBatch 在单个事务中写入所有数据
func (s *BoltStore) PutBatch(_ context.Context, records map[string][]byte) error {
	if len(records) == 0 {
		return nil
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(s.bucket)
		for k, v := range records {
			if err := b.Put([]byte(k), v); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *BoltStore) Delete(_ context.Context, key string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(s.bucket).Delete([]byte(key))
	})
}

func (s *BoltStore) Close() error { return s.db.Close() }
