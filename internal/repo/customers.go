package repo

import (
	"context"
	"database/sql"

	"invoicer/internal/domain"
)

func (r Repo) UpsertCustomer(ctx context.Context, c domain.Customer) error {
	_, err := r.DB.ExecContext(ctx, r.q(`INSERT INTO customers(id,name,email,image_url) VALUES (?,?,?,?)
ON CONFLICT(id) DO UPDATE SET name=excluded.name, email=excluded.email, image_url=excluded.image_url`),
		c.ID, c.Name, c.Email, nullable(c.ImageURL))
	return err
}

func (r Repo) GetCustomer(ctx context.Context, id string) (domain.Customer, error) {
	var c domain.Customer
	err := r.DB.QueryRowContext(ctx, r.q(`SELECT id,name,email,COALESCE(image_url,'') FROM customers WHERE id=?`), id).
		Scan(&c.ID, &c.Name, &c.Email, &c.ImageURL)
	if err == sql.ErrNoRows {
		return c, ErrNotFound
	}
	return c, err
}

func (r Repo) ListCustomers(ctx context.Context) ([]domain.Customer, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,name,email,COALESCE(image_url,'') FROM customers ORDER BY name ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Customer
	for rows.Next() {
		var c domain.Customer
		if err := rows.Scan(&c.ID, &c.Name, &c.Email, &c.ImageURL); err != nil {
			return nil, err
		}
		res = append(res, c)
	}
	return res, rows.Err()
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
