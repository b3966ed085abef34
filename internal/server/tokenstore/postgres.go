package tokenstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"iter"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/dmitrijs2005/stravasync/internal/common"
	"github.com/dmitrijs2005/stravasync/internal/server/migrations"
	"github.com/dmitrijs2005/stravasync/internal/server/models"
)

// DBTX is the subset of database/sql used by PostgresStore.
// Both *sql.DB and *sql.Tx satisfy it.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// PostgresStore keeps one row per user in strava_tokens.
type PostgresStore struct {
	db DBTX
}

func NewPostgresStore(db DBTX) *PostgresStore {
	return &PostgresStore{db: db}
}

// OpenPostgres opens a pgx-backed *sql.DB and checks connectivity.
func OpenPostgres(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("db open error: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("db ping error: %w", err)
	}
	return db, nil
}

// gooseUpContext is a seam for testing goose.UpContext.
var gooseUpContext = func(ctx context.Context, db *sql.DB, dir string, opts ...goose.OptionsFunc) error {
	return goose.UpContext(ctx, db, dir, opts...)
}

// RunMigrations applies the embedded migrations.
func RunMigrations(ctx context.Context, db *sql.DB) error {
	goose.SetBaseFS(migrations.Migrations)
	if err := goose.SetDialect("pgx"); err != nil {
		return err
	}
	if err := gooseUpContext(ctx, db, "."); err != nil {
		return fmt.Errorf("migration error: %w", err)
	}
	return nil
}

// insufficient_privilege
const pgPermissionDenied = "42501"

func pgStorageError(op string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgPermissionDenied {
		err = fmt.Errorf("%w: %w", common.ErrPermissionDenied, err)
	}
	return common.StorageError(op, fmt.Errorf("db error: %w", err))
}

func (s *PostgresStore) Get(ctx context.Context, userID string) (*models.TokenRecord, error) {
	query := `
		SELECT user_id, access_token, refresh_token, expires_at
		FROM strava_tokens
		WHERE user_id = $1
	`
	rec := &models.TokenRecord{}
	err := s.db.QueryRowContext(ctx, query, userID).
		Scan(&rec.UserID, &rec.AccessToken, &rec.RefreshToken, &rec.ExpiresAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, pgStorageError("get token", err)
	}
	return rec, nil
}

// Put upserts the record; every column is replaced.
func (s *PostgresStore) Put(ctx context.Context, rec *models.TokenRecord) error {
	if err := checkUserID(rec.UserID); err != nil {
		return err
	}

	query := `
		INSERT INTO strava_tokens (user_id, access_token, refresh_token, expires_at, updated_at)
		VALUES ($1, $2, $3, $4, now())
		ON CONFLICT (user_id)
		DO UPDATE SET
			access_token = EXCLUDED.access_token,
			refresh_token = EXCLUDED.refresh_token,
			expires_at = EXCLUDED.expires_at,
			updated_at = EXCLUDED.updated_at
	`
	if _, err := s.db.ExecContext(ctx, query, rec.UserID, rec.AccessToken, rec.RefreshToken, rec.ExpiresAt); err != nil {
		return pgStorageError("put token", err)
	}
	return nil
}

// All streams rows from a single query; the cursor stays open while the
// caller iterates.
func (s *PostgresStore) All(ctx context.Context) iter.Seq2[*models.TokenRecord, error] {
	return func(yield func(*models.TokenRecord, error) bool) {
		query := `
			SELECT user_id, access_token, refresh_token, expires_at
			FROM strava_tokens
		`
		rows, err := s.db.QueryContext(ctx, query)
		if err != nil {
			yield(nil, pgStorageError("list tokens", err))
			return
		}
		defer rows.Close()

		for rows.Next() {
			rec := &models.TokenRecord{}
			if err := rows.Scan(&rec.UserID, &rec.AccessToken, &rec.RefreshToken, &rec.ExpiresAt); err != nil {
				yield(nil, pgStorageError("scan token", err))
				return
			}
			if !yield(rec, nil) {
				return
			}
		}
		if err := rows.Err(); err != nil {
			yield(nil, pgStorageError("list tokens", err))
		}
	}
}
