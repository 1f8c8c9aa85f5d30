/**
 * @description
 * This file provides the PostgreSQL implementation of the `Repository` interface:
 * connection plumbing, the unit-of-work helper and the user/profile queries. Account,
 * transaction, merchant and budget queries live in sibling files.
 *
 * @dependencies
 * - github.com/jackc/pgx/v5: The PostgreSQL driver for database operations.
 * - internal/domain: Contains the domain models used for data transfer.
 */

package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kudokuapp/kudoku-server/internal/domain"
)

// querier is the subset of pgx shared by *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresRepository is a concrete implementation of the Repository interface for PostgreSQL.
type PostgresRepository struct {
	pool *pgxpool.Pool
	db   querier
}

// NewPostgresRepository creates a new instance of PostgresRepository.
func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool, db: pool}
}

// WithTx runs fn inside a database transaction. Nested calls reuse the outer transaction.
func (r *PostgresRepository) WithTx(ctx context.Context, fn func(repo Repository) error) error {
	if r.pool == nil {
		return fn(r)
	}
	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(&PostgresRepository{db: tx})
	})
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// manualAccountNameIndex keeps cash and e-money account names unique per user and type.
const manualAccountNameIndex = "accounts_manual_name_key"

func isUniqueViolationOn(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505" && pgErr.ConstraintName == constraint
}

func marshalJSONB(value any) (string, error) {
	if value == nil {
		return "null", nil
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return "", fmt.Errorf("encode jsonb: %w", err)
	}
	return string(raw), nil
}

func marshalBreakdown(items []domain.NameAmount) (string, error) {
	if items == nil {
		items = []domain.NameAmount{}
	}
	return marshalJSONB(items)
}

func unmarshalBreakdown(raw []byte) ([]domain.NameAmount, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var items []domain.NameAmount
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, fmt.Errorf("decode breakdown: %w", err)
	}
	if len(items) == 0 {
		return nil, nil
	}
	return items, nil
}

// CreateUser inserts a new user; username/email clashes map to ErrDuplicateUser.
func (r *PostgresRepository) CreateUser(ctx context.Context, user *domain.User) error {
	query := `
		INSERT INTO users (id, username, email, phone_number, password_hash, first_name, last_name)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at, updated_at
	`
	err := r.db.QueryRow(ctx, query,
		user.ID,
		user.Username,
		user.Email,
		user.PhoneNumber,
		user.PasswordHash,
		user.FirstName,
		user.LastName,
	).Scan(&user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateUser
		}
		return err
	}
	return nil
}

const userColumns = `id, username, email, phone_number, password_hash, first_name, last_name, brick_user_id, created_at, updated_at`

func scanUser(row pgx.Row) (*domain.User, error) {
	var user domain.User
	err := row.Scan(
		&user.ID,
		&user.Username,
		&user.Email,
		&user.PhoneNumber,
		&user.PasswordHash,
		&user.FirstName,
		&user.LastName,
		&user.BrickUserID,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return &user, nil
}

// FindUserByID retrieves a user from the database by their ID.
func (r *PostgresRepository) FindUserByID(ctx context.Context, userID uuid.UUID) (*domain.User, error) {
	return scanUser(r.db.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, userID))
}

// FindUserByLogin matches either the username or the email, case-insensitively.
func (r *PostgresRepository) FindUserByLogin(ctx context.Context, login string) (*domain.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE lower(username) = lower($1) OR lower(email) = lower($1) LIMIT 1`
	return scanUser(r.db.QueryRow(ctx, query, strings.TrimSpace(login)))
}

// UpdateUserBrickID stores the Brick user reference returned at first bank login.
func (r *PostgresRepository) UpdateUserBrickID(ctx context.Context, userID uuid.UUID, brickUserID string) error {
	result, err := r.db.Exec(ctx, `UPDATE users SET brick_user_id = $1, updated_at = NOW() WHERE id = $2`, brickUserID, userID)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return ErrUserNotFound
	}
	return nil
}

// CreateProfile inserts the profile row created alongside a user.
func (r *PostgresRepository) CreateProfile(ctx context.Context, profile *domain.Profile) error {
	query := `
		INSERT INTO profiles (user_id, display_name, bio, profile_picture_url, birthday)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING updated_at
	`
	return r.db.QueryRow(ctx, query,
		profile.UserID,
		profile.DisplayName,
		profile.Bio,
		profile.ProfilePictureURL,
		profile.Birthday,
	).Scan(&profile.UpdatedAt)
}

// FindProfileByUserID retrieves the profile of a user.
func (r *PostgresRepository) FindProfileByUserID(ctx context.Context, userID uuid.UUID) (*domain.Profile, error) {
	var profile domain.Profile
	query := `SELECT user_id, display_name, bio, profile_picture_url, birthday, updated_at FROM profiles WHERE user_id = $1`
	err := r.db.QueryRow(ctx, query, userID).Scan(
		&profile.UserID,
		&profile.DisplayName,
		&profile.Bio,
		&profile.ProfilePictureURL,
		&profile.Birthday,
		&profile.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrProfileNotFound
		}
		return nil, err
	}
	return &profile, nil
}

// UpdateProfile overwrites the mutable profile columns.
func (r *PostgresRepository) UpdateProfile(ctx context.Context, profile *domain.Profile) error {
	query := `
		UPDATE profiles
		SET display_name = $2, bio = $3, profile_picture_url = $4, birthday = $5, updated_at = NOW()
		WHERE user_id = $1
		RETURNING updated_at
	`
	err := r.db.QueryRow(ctx, query,
		profile.UserID,
		profile.DisplayName,
		profile.Bio,
		profile.ProfilePictureURL,
		profile.Birthday,
	).Scan(&profile.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrProfileNotFound
		}
		return err
	}
	return nil
}
