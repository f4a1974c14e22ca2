package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jmerrifield20/senderauth/internal/domainauth/model"
)

const selectColumns = `id, account_id, domain, status, verifying_email, known_mailboxes,
	otp_hash, otp_expires_at, otp_attempts, provider, recheck_attempts, auth_started_at, last_checked_at,
	version, created_at, updated_at`

// PostgresRepository stores DomainAuth rows in the domain_auth table.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository creates a PostgresRepository.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Create inserts d. It sets ID (when unset), Version, CreatedAt and UpdatedAt.
func (r *PostgresRepository) Create(ctx context.Context, d *model.DomainAuth) error {
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	now := time.Now().UTC()
	d.CreatedAt = now
	d.UpdatedAt = now
	d.Version = 1

	provider, err := encodeProvider(d.Provider)
	if err != nil {
		return err
	}

	_, err = r.db.Exec(ctx,
		`INSERT INTO domain_auth (id, account_id, domain, status, verifying_email, known_mailboxes,
			otp_hash, otp_expires_at, otp_attempts, provider, recheck_attempts, auth_started_at, last_checked_at,
			version, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`,
		d.ID, d.AccountID, d.Domain, string(d.Status), d.VerifyingEmail, mailboxes(d),
		nullString(d.OTPHash), d.OTPExpiresAt, d.OTPAttempts, provider, d.RecheckAttempts, d.AuthStartedAt, d.LastCheckedAt,
		d.Version, d.CreatedAt, d.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrDuplicate
		}
		return fmt.Errorf("insert domain auth: %w", err)
	}
	return nil
}

// Get returns the entity with id owned by accountID.
func (r *PostgresRepository) Get(ctx context.Context, accountID string, id uuid.UUID) (*model.DomainAuth, error) {
	return r.scanOne(ctx,
		`SELECT `+selectColumns+` FROM domain_auth WHERE account_id = $1 AND id = $2`,
		accountID, id,
	)
}

// GetByDomain returns the account's entity for domain.
func (r *PostgresRepository) GetByDomain(ctx context.Context, accountID, domain string) (*model.DomainAuth, error) {
	return r.scanOne(ctx,
		`SELECT `+selectColumns+` FROM domain_auth WHERE account_id = $1 AND domain = $2`,
		accountID, domain,
	)
}

// List returns every entity owned by accountID, newest first.
func (r *PostgresRepository) List(ctx context.Context, accountID string) ([]*model.DomainAuth, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+selectColumns+` FROM domain_auth WHERE account_id = $1 ORDER BY created_at DESC, domain`,
		accountID,
	)
	if err != nil {
		return nil, fmt.Errorf("list domain auth: %w", err)
	}
	defer rows.Close()

	var out []*model.DomainAuth
	for rows.Next() {
		d, err := scanDomainAuth(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list domain auth: %w", err)
	}
	return out, nil
}

// Update writes d if the stored version still equals d.Version. On success
// d.Version and d.UpdatedAt are advanced.
func (r *PostgresRepository) Update(ctx context.Context, d *model.DomainAuth) error {
	provider, err := encodeProvider(d.Provider)
	if err != nil {
		return err
	}
	now := time.Now().UTC()

	tag, err := r.db.Exec(ctx,
		`UPDATE domain_auth SET
			status = $4, verifying_email = $5, known_mailboxes = $6,
			otp_hash = $7, otp_expires_at = $8, otp_attempts = $9, provider = $10,
			recheck_attempts = $11, auth_started_at = $12, last_checked_at = $13,
			version = version + 1, updated_at = $14
		 WHERE account_id = $1 AND id = $2 AND version = $3`,
		d.AccountID, d.ID, d.Version,
		string(d.Status), d.VerifyingEmail, mailboxes(d),
		nullString(d.OTPHash), d.OTPExpiresAt, d.OTPAttempts, provider,
		d.RecheckAttempts, d.AuthStartedAt, d.LastCheckedAt,
		now,
	)
	if err != nil {
		return fmt.Errorf("update domain auth: %w", err)
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := r.db.QueryRow(ctx,
			`SELECT EXISTS(SELECT 1 FROM domain_auth WHERE account_id = $1 AND id = $2)`,
			d.AccountID, d.ID,
		).Scan(&exists); err != nil {
			return fmt.Errorf("update domain auth: %w", err)
		}
		if !exists {
			return ErrNotFound
		}
		return ErrVersionConflict
	}
	d.Version++
	d.UpdatedAt = now
	return nil
}

// Delete removes the entity with id owned by accountID.
func (r *PostgresRepository) Delete(ctx context.Context, accountID string, id uuid.UUID) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM domain_auth WHERE account_id = $1 AND id = $2`, accountID, id)
	if err != nil {
		return fmt.Errorf("delete domain auth: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PostgresRepository) scanOne(ctx context.Context, q string, args ...any) (*model.DomainAuth, error) {
	d, err := scanDomainAuth(r.db.QueryRow(ctx, q, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return d, nil
}

func scanDomainAuth(row pgx.Row) (*model.DomainAuth, error) {
	var (
		d        model.DomainAuth
		status   string
		otpHash  *string
		provider []byte
	)
	err := row.Scan(
		&d.ID, &d.AccountID, &d.Domain, &status, &d.VerifyingEmail, &d.KnownMailboxes,
		&otpHash, &d.OTPExpiresAt, &d.OTPAttempts, &provider, &d.RecheckAttempts, &d.AuthStartedAt, &d.LastCheckedAt,
		&d.Version, &d.CreatedAt, &d.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan domain auth: %w", err)
	}
	d.Status = model.Status(status)
	if otpHash != nil {
		d.OTPHash = *otpHash
	}
	if len(provider) > 0 {
		var p model.ProviderMeta
		if err := json.Unmarshal(provider, &p); err != nil {
			return nil, fmt.Errorf("decode provider meta: %w", err)
		}
		d.Provider = &p
	}
	return &d, nil
}

func encodeProvider(p *model.ProviderMeta) (any, error) {
	if p == nil {
		return nil, nil
	}
	b, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("encode provider meta: %w", err)
	}
	return string(b), nil
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func mailboxes(d *model.DomainAuth) []string {
	if d.KnownMailboxes == nil {
		return []string{}
	}
	return d.KnownMailboxes
}
