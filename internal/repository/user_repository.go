package repository

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"

	"github.com/rfichi/borrowed-book-api/internal/domain"
	"github.com/rfichi/borrowed-book-api/pkg/database"
)

const userColumns = "id, name, email, created_at"

// PostgresUserRepository implements domain.UserRepository using PostgreSQL
type PostgresUserRepository struct {
	pool   *database.ConnectionPool
	logger *slog.Logger
}

// NewPostgresUserRepository creates a new user repository
func NewPostgresUserRepository(pool *database.ConnectionPool, logger *slog.Logger) *PostgresUserRepository {
	if logger == nil {
		logger = slog.Default()
	}

	return &PostgresUserRepository{
		pool:   pool,
		logger: logger,
	}
}

// CreateWithCredential inserts the user and its credential in one transaction
func (r *PostgresUserRepository) CreateWithCredential(ctx context.Context, user *domain.User, passwordHash string) error {
	err := r.pool.InTx(ctx, func(tx *sqlx.Tx) error {
		query, args, err := psql.Insert("users").
			Columns("name", "email").
			Values(user.Name, user.Email).
			Suffix("RETURNING id, created_at").
			ToSql()
		if err != nil {
			return err
		}
		if err := tx.QueryRowxContext(ctx, query, args...).Scan(&user.ID, &user.CreatedAt); err != nil {
			return err
		}

		query, args, err = psql.Insert("credentials").
			Columns("user_id", "email", "password_hash").
			Values(user.ID, user.Email, passwordHash).
			ToSql()
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, query, args...)
		return err
	})
	if err != nil {
		if pgCode(err) == pgUniqueViolation {
			return domain.ErrEmailTaken
		}
		r.logger.Error("failed to create user",
			slog.String("email", user.Email),
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("failed to create user: %w", err)
	}

	return nil
}

// GetByID retrieves a user by ID
func (r *PostgresUserRepository) GetByID(ctx context.Context, id int64) (*domain.User, error) {
	return r.getOne(ctx, "id", id)
}

// GetByEmail retrieves a user by email
func (r *PostgresUserRepository) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	return r.getOne(ctx, "email", email)
}

func (r *PostgresUserRepository) getOne(ctx context.Context, column string, value any) (*domain.User, error) {
	query, args, err := psql.Select(userColumns).From("users").
		Where(squirrel.Eq{column: value}).
		ToSql()
	if err != nil {
		return nil, err
	}

	user := &domain.User{}
	if err := r.pool.GetDB().GetContext(ctx, user, query, args...); err != nil {
		if isNoRows(err) {
			return nil, domain.ErrUserNotFound
		}
		r.logger.Error("failed to get user",
			slog.String(column, fmt.Sprint(value)),
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return user, nil
}

// GetCredentialByEmail retrieves the auth account for an email
func (r *PostgresUserRepository) GetCredentialByEmail(ctx context.Context, email string) (*domain.Credential, error) {
	query, args, err := psql.Select("id", "user_id", "email", "password_hash").
		From("credentials").
		Where(squirrel.Eq{"email": email}).
		ToSql()
	if err != nil {
		return nil, err
	}

	cred := &domain.Credential{}
	if err := r.pool.GetDB().GetContext(ctx, cred, query, args...); err != nil {
		if isNoRows(err) {
			return nil, domain.ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to get credential: %w", err)
	}
	return cred, nil
}

// EmailExists checks whether an email is already registered
func (r *PostgresUserRepository) EmailExists(ctx context.Context, email string) (bool, error) {
	var exists bool
	err := r.pool.GetDB().QueryRowxContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM users WHERE email = $1)`, email,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check email: %w", err)
	}
	return exists, nil
}

// List returns one page of users ordered by id and the total count
func (r *PostgresUserRepository) List(ctx context.Context, page domain.Page) ([]*domain.User, int, error) {
	var total int
	if err := r.pool.GetDB().GetContext(ctx, &total, `SELECT COUNT(*) FROM users`); err != nil {
		return nil, 0, fmt.Errorf("failed to count users: %w", err)
	}

	query, args, err := psql.Select(userColumns).From("users").
		OrderBy("id ASC").
		Limit(uint64(page.Size)).
		Offset(uint64(page.Offset())).
		ToSql()
	if err != nil {
		return nil, 0, err
	}

	users := []*domain.User{}
	if err := r.pool.GetDB().SelectContext(ctx, &users, query, args...); err != nil {
		r.logger.Error("failed to list users", slog.String("error", err.Error()))
		return nil, 0, fmt.Errorf("failed to list users: %w", err)
	}
	return users, total, nil
}
