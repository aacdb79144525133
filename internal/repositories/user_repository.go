package repositories

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"

	"messenger-service/internal/models"
)

var ErrUserNotFound = errors.New("user not found")

// UserRepository abstracts user persistence. The presence layer uses it
// to durably record status transitions; handlers use it for lookups.
type UserRepository interface {
	GetUser(ctx context.Context, userID int) (models.User, error)
	UpdateStatus(ctx context.Context, userID int, status string, lastSeen time.Time) error
}

// UserRepo is a sqlx implementation of UserRepository.
type UserRepo struct {
	db *sqlx.DB
}

// NewUserRepo constructs a UserRepo.
func NewUserRepo(db *sqlx.DB) *UserRepo {
	return &UserRepo{db: db}
}

// GetUser fetches a user by id.
func (r *UserRepo) GetUser(ctx context.Context, userID int) (models.User, error) {
	var user models.User
	err := r.db.GetContext(ctx, &user, `SELECT id, username, status, last_seen, created_at FROM users WHERE id=$1`, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.User{}, ErrUserNotFound
	}
	return user, err
}

// UpdateStatus records a presence status and last-seen timestamp.
func (r *UserRepo) UpdateStatus(ctx context.Context, userID int, status string, lastSeen time.Time) error {
	res, err := r.db.ExecContext(ctx, `UPDATE users SET status=$2, last_seen=$3 WHERE id=$1`, userID, status, lastSeen)
	if err != nil {
		return err
	}
	count, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if count == 0 {
		return ErrUserNotFound
	}
	return nil
}
