package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"campaignfund/internal/blobstore"
)

const blobSchema = `
CREATE TABLE IF NOT EXISTS blobs (
	store      TEXT        NOT NULL,
	key        TEXT        NOT NULL,
	value      BYTEA       NOT NULL,
	metadata   JSONB       NOT NULL DEFAULT '{}'::jsonb,
	version    BIGINT      NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (store, key)
)`

// BlobRepository implements blobstore.Backend on a single blobs table. The
// version column is the compare-and-swap token; conditional writes check
// RowsAffected the same way every optimistic-lock update here does.
type BlobRepository struct {
	db    DBTX
	close func()
}

// NewBlobRepository wraps db. closeFn, if non-nil, is called by Close (pass
// pool.Close when the repository owns the pool).
func NewBlobRepository(db DBTX, closeFn func()) *BlobRepository {
	return &BlobRepository{db: db, close: closeFn}
}

// EnsureSchema creates the blobs table if it does not exist.
func (r *BlobRepository) EnsureSchema(ctx context.Context) error {
	if _, err := r.db.Exec(ctx, blobSchema); err != nil {
		return fmt.Errorf("creating blobs table: %w", err)
	}
	return nil
}

func (r *BlobRepository) Namespace(name string) blobstore.Store {
	return &pgBlobStore{db: r.db, ns: name}
}

func (r *BlobRepository) Ping(ctx context.Context) error {
	var one int
	return r.db.QueryRow(ctx, `SELECT 1`).Scan(&one)
}

func (r *BlobRepository) Close() {
	if r.close != nil {
		r.close()
	}
}

type pgBlobStore struct {
	db DBTX
	ns string
}

func (s *pgBlobStore) Get(ctx context.Context, key string) (*blobstore.Blob, error) {
	var (
		value     []byte
		metaRaw   []byte
		version   int64
		updatedAt time.Time
	)
	err := s.db.QueryRow(ctx,
		`SELECT value, metadata, version, updated_at FROM blobs WHERE store = $1 AND key = $2`,
		s.ns, key,
	).Scan(&value, &metaRaw, &version, &updatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, blobstore.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("postgres get %s/%s: %w", s.ns, key, err)
	}

	var meta map[string]string
	if len(metaRaw) > 0 {
		if err := json.Unmarshal(metaRaw, &meta); err != nil {
			return nil, fmt.Errorf("postgres decode metadata %s/%s: %w", s.ns, key, err)
		}
	}
	if len(meta) == 0 {
		meta = nil
	}

	return &blobstore.Blob{
		Key:       key,
		Data:      value,
		Version:   version,
		Metadata:  meta,
		UpdatedAt: updatedAt,
	}, nil
}

func (s *pgBlobStore) Put(ctx context.Context, key string, data []byte, meta map[string]string) (int64, error) {
	metaJSON, err := encodeMeta(meta)
	if err != nil {
		return 0, err
	}

	var version int64
	err = s.db.QueryRow(ctx,
		`INSERT INTO blobs (store, key, value, metadata, version, updated_at)
		 VALUES ($1, $2, $3, $4, 1, now())
		 ON CONFLICT (store, key) DO UPDATE
		 SET value = EXCLUDED.value,
		     metadata = EXCLUDED.metadata,
		     version = blobs.version + 1,
		     updated_at = now()
		 RETURNING version`,
		s.ns, key, data, metaJSON,
	).Scan(&version)
	if err != nil {
		return 0, fmt.Errorf("postgres put %s/%s: %w", s.ns, key, err)
	}
	return version, nil
}

func (s *pgBlobStore) PutIf(ctx context.Context, key string, data []byte, meta map[string]string, expected int64) (int64, error) {
	metaJSON, err := encodeMeta(meta)
	if err != nil {
		return 0, err
	}

	if expected == 0 {
		var version int64
		err := s.db.QueryRow(ctx,
			`INSERT INTO blobs (store, key, value, metadata, version, updated_at)
			 VALUES ($1, $2, $3, $4, 1, now())
			 ON CONFLICT (store, key) DO NOTHING
			 RETURNING version`,
			s.ns, key, data, metaJSON,
		).Scan(&version)
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, blobstore.ErrConflict
		}
		if err != nil {
			return 0, fmt.Errorf("postgres create %s/%s: %w", s.ns, key, err)
		}
		return version, nil
	}

	tag, err := s.db.Exec(ctx,
		`UPDATE blobs
		 SET value = $3, metadata = $4, version = version + 1, updated_at = now()
		 WHERE store = $1 AND key = $2 AND version = $5`,
		s.ns, key, data, metaJSON, expected,
	)
	if err != nil {
		return 0, fmt.Errorf("postgres conditional put %s/%s: %w", s.ns, key, err)
	}
	if tag.RowsAffected() == 0 {
		return 0, blobstore.ErrConflict
	}
	return expected + 1, nil
}

func (s *pgBlobStore) List(ctx context.Context, prefix string) ([]string, error) {
	rows, err := s.db.Query(ctx,
		`SELECT key FROM blobs WHERE store = $1 AND starts_with(key, $2) ORDER BY key COLLATE "C"`,
		s.ns, prefix,
	)
	if err != nil {
		return nil, fmt.Errorf("postgres list %s/%s*: %w", s.ns, prefix, err)
	}

	keys, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("postgres list %s/%s*: %w", s.ns, prefix, err)
	}
	return keys, nil
}

func encodeMeta(meta map[string]string) ([]byte, error) {
	if meta == nil {
		meta = map[string]string{}
	}
	b, err := json.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("encoding metadata: %w", err)
	}
	return b, nil
}
