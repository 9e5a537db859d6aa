package repository

import (
	"database/sql"
	"errors"

	"github.com/google/uuid"

	"curbspot/internal/db"
	apperr "curbspot/internal/errors"
)

type UserRepository struct {
	DB *sql.DB
}

func NewUserRepository(database *sql.DB) *UserRepository {
	return &UserRepository{DB: database}
}

func (r *UserRepository) CreateUser(u *db.User) error {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	query := `
		INSERT INTO users (id, email, phone, name, password_hash, role)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at`
	err := r.DB.QueryRow(query, u.ID, u.Email, u.Phone, u.Name, u.PasswordHash, u.Role).Scan(&u.CreatedAt)
	if err != nil {
		return apperr.Wrap(apperr.KindDatastoreUnavailable, "error creating user", err)
	}
	return nil
}

func (r *UserRepository) GetUser(id string) (*db.User, error) {
	return r.getUser(`SELECT id, email, phone, name, password_hash, role, balance, created_at FROM users WHERE id = $1`, id)
}

func (r *UserRepository) GetUserByEmail(email string) (*db.User, error) {
	return r.getUser(`SELECT id, email, phone, name, password_hash, role, balance, created_at FROM users WHERE email = $1`, email)
}

func (r *UserRepository) getUser(query string, arg interface{}) (*db.User, error) {
	var u db.User
	err := r.DB.QueryRow(query, arg).Scan(
		&u.ID, &u.Email, &u.Phone, &u.Name, &u.PasswordHash, &u.Role, &u.Balance, &u.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperr.New(apperr.KindNotFound, "user not found")
		}
		return nil, apperr.Wrap(apperr.KindDatastoreUnavailable, "error querying user", err)
	}
	return &u, nil
}
