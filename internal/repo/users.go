package repo

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/google/uuid"

	"invoicer/internal/domain"
)

// NormalizeEmail lowercases and trims an address for lookup.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// UpsertUser stores a user keyed by email. PasswordHash must already be hashed.
func (r Repo) UpsertUser(ctx context.Context, u domain.User) (domain.User, error) {
	u.Email = NormalizeEmail(u.Email)
	if u.Email == "" {
		return domain.User{}, errors.New("email required")
	}
	if u.PasswordHash == "" {
		return domain.User{}, errors.New("password hash required")
	}
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	_, err := r.DB.ExecContext(ctx, r.q(`INSERT INTO users(id,name,email,password) VALUES (?,?,?,?)
ON CONFLICT(email) DO UPDATE SET name=excluded.name, password=excluded.password`),
		u.ID, u.Name, u.Email, u.PasswordHash)
	if err != nil {
		return domain.User{}, err
	}
	return r.GetUserByEmail(ctx, u.Email)
}

func (r Repo) GetUserByEmail(ctx context.Context, email string) (domain.User, error) {
	var u domain.User
	err := r.DB.QueryRowContext(ctx, r.q(`SELECT id,name,email,password FROM users WHERE email=? LIMIT 1`), NormalizeEmail(email)).
		Scan(&u.ID, &u.Name, &u.Email, &u.PasswordHash)
	if err == sql.ErrNoRows {
		return domain.User{}, ErrNotFound
	}
	if err != nil {
		return domain.User{}, err
	}
	return u, nil
}
