package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/devfeed/internal/database"
)

// PostgresStore はrecordsテーブルにJSONBとしてドキュメントを保存するストア。
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore はPostgresStoreを生成する。
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// OpenPostgres はDB接続を開いて疎通を確認し、PostgresStoreを返す。
// migrateがtrueの場合は未適用のマイグレーションを適用する。
func OpenPostgres(ctx context.Context, databaseURL string, migrate bool) (*PostgresStore, error) {
	db, err := database.Connect(ctx, databaseURL, database.DefaultPoolConfig())
	if err != nil {
		return nil, err
	}
	if migrate {
		if err := database.RunMigrations(databaseURL); err != nil {
			db.Close()
			return nil, err
		}
	}
	return NewPostgresStore(db), nil
}

// DB は内部のDB接続を返す。保持期間ジョブが利用する。
func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Get(ctx context.Context, collection, key string) (Document, error) {
	var raw []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT doc FROM records WHERE collection = $1 AND key = $2`,
		collection, key,
	).Scan(&raw)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("記録の取得に失敗しました: %w", err)
	}
	return decodeDocument(raw)
}

func (s *PostgresStore) Set(ctx context.Context, collection, key string, doc Document, merge bool) error {
	data, err := encodeDocument(doc)
	if err != nil {
		return err
	}

	var expiresAt sql.NullTime
	if t, ok := expiresAtOf(doc); ok {
		expiresAt = sql.NullTime{Time: t, Valid: true}
	}

	query := `INSERT INTO records (collection, key, doc, expires_at, updated_at)
		 VALUES ($1, $2, $3::jsonb, $4, now())
		 ON CONFLICT (collection, key) DO UPDATE SET
		   doc = EXCLUDED.doc,
		   expires_at = EXCLUDED.expires_at,
		   updated_at = now()`
	if merge {
		query = `INSERT INTO records (collection, key, doc, expires_at, updated_at)
		 VALUES ($1, $2, $3::jsonb, $4, now())
		 ON CONFLICT (collection, key) DO UPDATE SET
		   doc = records.doc || EXCLUDED.doc,
		   expires_at = COALESCE(EXCLUDED.expires_at, records.expires_at),
		   updated_at = now()`
	}

	if _, err := s.db.ExecContext(ctx, query, collection, key, string(data), expiresAt); err != nil {
		return fmt.Errorf("記録の保存に失敗しました: %w", err)
	}
	return nil
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}
