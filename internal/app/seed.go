package app

import (
	"context"
	"fmt"

	"invoicer/internal/auth"
	"invoicer/internal/config"
	"invoicer/internal/domain"
)

type SeedResult struct {
	Customers int `json:"customers"`
	Users     int `json:"users"`
}

// Seed upserts the customers and users listed in the config. Passwords are
// bcrypt-hashed before storage; re-running replaces them.
func (a *App) Seed(ctx context.Context, seed config.Seed) (SeedResult, error) {
	var res SeedResult
	for _, c := range seed.Customers {
		if err := a.Repo.UpsertCustomer(ctx, domain.Customer{
			ID:       c.ID,
			Name:     c.Name,
			Email:    c.Email,
			ImageURL: c.ImageURL,
		}); err != nil {
			return res, fmt.Errorf("seed customer %s: %w", c.ID, err)
		}
		res.Customers++
	}
	for _, u := range seed.Users {
		if _, err := a.AddUser(ctx, u); err != nil {
			return res, err
		}
		res.Users++
	}
	if res.Customers+res.Users > 0 {
		a.Log.Info("seeded workspace", "customers", res.Customers, "users", res.Users)
	}
	return res, nil
}

// AddUser hashes the password and upserts the user by email.
func (a *App) AddUser(ctx context.Context, u config.SeedUser) (domain.User, error) {
	hash, err := auth.HashPassword(u.Password)
	if err != nil {
		return domain.User{}, fmt.Errorf("seed user %s: %w", u.Email, err)
	}
	user, err := a.Repo.UpsertUser(ctx, domain.User{
		ID:           u.ID,
		Name:         u.Name,
		Email:        u.Email,
		PasswordHash: hash,
	})
	if err != nil {
		return domain.User{}, fmt.Errorf("seed user %s: %w", u.Email, err)
	}
	return user, nil
}
