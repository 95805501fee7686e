package repositories

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"messenger-service/internal/models"
)

var (
	ErrUserNotFound = errors.New("user not found")
	ErrEmailTaken   = errors.New("email already registered")
)

// UserRepository abstracts user persistence.
type UserRepository interface {
	Create(ctx context.Context, u *models.User) error
	GetByID(ctx context.Context, id int64) (models.User, error)
	GetByEmail(ctx context.Context, email string) (models.User, error)
	ListContacts(ctx context.Context, excludeID int64) ([]models.Contact, error)
	UpdateProfile(ctx context.Context, id int64, name, avatar string) (models.User, error)
}

// UserRepo is a sqlx implementation of UserRepository.
type UserRepo struct {
	db *sqlx.DB
}

// NewUserRepo constructs a UserRepo.
func NewUserRepo(db *sqlx.DB) *UserRepo {
	return &UserRepo{db: db}
}

// Create inserts a user. A duplicate email maps to ErrEmailTaken.
func (r *UserRepo) Create(ctx context.Context, u *models.User) error {
	err := r.db.QueryRowxContext(ctx,
		`INSERT INTO users (name, email, hashed_password, avatar)
         VALUES ($1, $2, $3, $4)
         RETURNING id, created_at, updated_at`,
		u.Name, u.Email, u.HashedPassword, u.Avatar).
		Scan(&u.ID, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return ErrEmailTaken
		}
		return err
	}
	return nil
}

// GetByID fetches a user by id.
func (r *UserRepo) GetByID(ctx context.Context, id int64) (models.User, error) {
	var u models.User
	err := r.db.GetContext(ctx, &u,
		`SELECT id, name, email, hashed_password, avatar, created_at, updated_at
         FROM users WHERE id=$1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return models.User{}, ErrUserNotFound
	}
	return u, err
}

// GetByEmail fetches a user by email.
func (r *UserRepo) GetByEmail(ctx context.Context, email string) (models.User, error) {
	var u models.User
	err := r.db.GetContext(ctx, &u,
		`SELECT id, name, email, hashed_password, avatar, created_at, updated_at
         FROM users WHERE email=$1`, email)
	if errors.Is(err, sql.ErrNoRows) {
		return models.User{}, ErrUserNotFound
	}
	return u, err
}

// ListContacts returns every user except the given one. Credential fields
// never leave the query.
func (r *UserRepo) ListContacts(ctx context.Context, excludeID int64) ([]models.Contact, error) {
	contacts := []models.Contact{}
	err := r.db.SelectContext(ctx, &contacts,
		`SELECT id, name, email, avatar FROM users WHERE id<>$1 ORDER BY name`, excludeID)
	return contacts, err
}

// UpdateProfile mutates name and avatar; an empty value leaves the column
// untouched.
func (r *UserRepo) UpdateProfile(ctx context.Context, id int64, name, avatar string) (models.User, error) {
	var u models.User
	err := r.db.QueryRowxContext(ctx,
		`UPDATE users
         SET name = CASE WHEN $2 <> '' THEN $2 ELSE name END,
             avatar = CASE WHEN $3 <> '' THEN $3 ELSE avatar END,
             updated_at = NOW()
         WHERE id=$1
         RETURNING id, name, email, hashed_password, avatar, created_at, updated_at`,
		id, name, avatar).
		Scan(&u.ID, &u.Name, &u.Email, &u.HashedPassword, &u.Avatar, &u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return models.User{}, ErrUserNotFound
	}
	return u, err
}
