package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"golang.org/x/crypto/blake2b"

	"petition/api/internal/remote"
	"petition/api/internal/signature"
)

var (
	ErrCaptchaReused = fmt.Errorf("%w: captcha token already used", remote.ErrRejected)
	ErrHandleTaken   = fmt.Errorf("%w: handle already signed", remote.ErrRejected)
	ErrTokenRequired = fmt.Errorf("%w: captcha token required", remote.ErrRejected)
	ErrRowRejected   = fmt.Errorf("%w: signature rejected by schema", remote.ErrRejected)
)

const (
	uniqueViolation = "23505"
	checkViolation  = "23514"
)

// PostgresStore writes signatures straight to Postgres. Submit records the
// captcha token fingerprint and inserts the row in one transaction, and the
// created row comes back from INSERT ... RETURNING.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

const signatureColumns = `id::text, handle, comment, location, created_at`

func (s *PostgresStore) FetchAll(ctx context.Context) ([]signature.Signature, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+signatureColumns+` FROM signatures ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("query signatures: %w", err)
	}
	defer rows.Close()

	list := make([]signature.Signature, 0)
	for rows.Next() {
		sig, err := scanSignature(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, sig)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate signatures: %w", err)
	}
	return list, nil
}

func (s *PostgresStore) Submit(ctx context.Context, sub remote.Submission) (*signature.Signature, error) {
	if sub.CaptchaToken == "" {
		return nil, ErrTokenRequired
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin signature tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	fingerprint := tokenFingerprint(sub.CaptchaToken)
	res, err := tx.ExecContext(ctx, `
		INSERT INTO captcha_redemptions (token_hash)
		VALUES ($1)
		ON CONFLICT (token_hash) DO NOTHING
	`, fingerprint)
	if err != nil {
		return nil, fmt.Errorf("record captcha redemption: %w", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return nil, fmt.Errorf("record captcha redemption: %w", err)
	} else if n == 0 {
		return nil, ErrCaptchaReused
	}

	var comment sql.NullString
	if sub.Comment != nil && *sub.Comment != "" {
		comment = sql.NullString{String: *sub.Comment, Valid: true}
	}
	row := tx.QueryRowContext(ctx, `
		INSERT INTO signatures (handle, comment, location)
		VALUES ($1, $2, NULLIF($3, ''))
		RETURNING `+signatureColumns,
		sub.Handle, comment, sub.Location,
	)
	created, err := scanSignature(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			switch pgErr.Code {
			case uniqueViolation:
				return nil, ErrHandleTaken
			case checkViolation:
				return nil, fmt.Errorf("%w (%s)", ErrRowRejected, pgErr.ConstraintName)
			}
		}
		return nil, err
	}

	if _, err := tx.ExecContext(ctx, `UPDATE captcha_redemptions SET signature_id = $1 WHERE token_hash = $2`, created.ID, fingerprint); err != nil {
		return nil, fmt.Errorf("link captcha redemption: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit signature: %w", err)
	}
	return &created, nil
}

func (s *PostgresStore) Count(ctx context.Context) (int, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM signatures`).Scan(&count); err != nil {
		return 0, fmt.Errorf("count signatures: %w", err)
	}
	return count, nil
}

func (s *PostgresStore) LatestByHandle(ctx context.Context, handle string) (*signature.Signature, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+signatureColumns+`
		FROM signatures
		WHERE handle = $1
		ORDER BY created_at DESC
		LIMIT 1
	`, handle)
	sig, err := scanSignature(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, remote.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &sig, nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSignature(row rowScanner) (signature.Signature, error) {
	var (
		sig      signature.Signature
		comment  sql.NullString
		location sql.NullString
	)
	if err := row.Scan(&sig.ID, &sig.Handle, &comment, &location, &sig.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return signature.Signature{}, err
		}
		return signature.Signature{}, fmt.Errorf("scan signature: %w", err)
	}
	sig.Comment = comment.String
	sig.Location = location.String
	return sig, nil
}

// tokenFingerprint keeps raw captcha tokens out of the database.
func tokenFingerprint(token string) []byte {
	sum := blake2b.Sum256([]byte(token))
	return sum[:]
}
