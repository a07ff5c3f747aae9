package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"invoicer/internal/db"
	"invoicer/internal/domain"
	"invoicer/internal/events"
)

type Repo struct {
	DB      *sql.DB
	Dialect db.Dialect
	Events  events.Writer
}

var ErrNotFound = errors.New("not found")

func New(conn *sql.DB, dialect db.Dialect) Repo {
	return Repo{
		DB:      conn,
		Dialect: dialect,
		Events:  events.Writer{Dialect: dialect, Now: time.Now},
	}
}

func (r Repo) q(query string) string {
	return db.Rebind(r.Dialect, query)
}

// InsertInvoice stores a new invoice and returns its id. An empty ID is
// replaced by a fresh UUID.
func (r Repo) InsertInvoice(ctx context.Context, inv domain.Invoice) (string, error) {
	if inv.ID == "" {
		inv.ID = uuid.NewString()
	}
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return "", err
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, r.q(`INSERT INTO invoices(id,customer_id,amount,status,date) VALUES (?,?,?,?,?)`),
		inv.ID, inv.CustomerID, inv.AmountCents, inv.Status, inv.Date); err != nil {
		return "", fmt.Errorf("insert invoice: %w", err)
	}
	if err := r.Events.Append(ctx, tx, "invoice.created", "invoice", inv.ID, events.EventPayload{
		"customer_id": inv.CustomerID,
		"amount":      inv.AmountCents,
		"status":      inv.Status,
		"date":        inv.Date,
	}); err != nil {
		return "", err
	}
	if err := tx.Commit(); err != nil {
		return "", err
	}
	return inv.ID, nil
}

// UpdateInvoice overwrites customer, amount and status of an existing invoice.
func (r Repo) UpdateInvoice(ctx context.Context, id, customerID, status string, amountCents int64) error {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	res, err := tx.ExecContext(ctx, r.q(`UPDATE invoices SET customer_id=?, amount=?, status=? WHERE id=?`),
		customerID, amountCents, status, id)
	if err != nil {
		return fmt.Errorf("update invoice: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	if err := r.Events.Append(ctx, tx, "invoice.updated", "invoice", id, events.EventPayload{
		"customer_id": customerID,
		"amount":      amountCents,
		"status":      status,
	}); err != nil {
		return err
	}
	return tx.Commit()
}

func (r Repo) DeleteInvoice(ctx context.Context, id string) error {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	res, err := tx.ExecContext(ctx, r.q(`DELETE FROM invoices WHERE id=?`), id)
	if err != nil {
		return fmt.Errorf("delete invoice: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	if err := r.Events.Append(ctx, tx, "invoice.deleted", "invoice", id, nil); err != nil {
		return err
	}
	return tx.Commit()
}

func (r Repo) GetInvoice(ctx context.Context, id string) (domain.Invoice, error) {
	var inv domain.Invoice
	err := r.DB.QueryRowContext(ctx, r.q(`SELECT id,customer_id,amount,status,date FROM invoices WHERE id=?`), id).
		Scan(&inv.ID, &inv.CustomerID, &inv.AmountCents, &inv.Status, &inv.Date)
	if err == sql.ErrNoRows {
		return inv, ErrNotFound
	}
	return inv, err
}

// ListInvoices returns invoices joined with their customers, newest first.
// A non-empty query filters on customer name/email, amount, date or status.
func (r Repo) ListInvoices(ctx context.Context, query string, limit, offset int) ([]domain.InvoiceRow, error) {
	var (
		clauses []string
		args    []any
	)
	if q := strings.TrimSpace(query); q != "" {
		like := "%" + strings.ToLower(q) + "%"
		clauses = append(clauses, `(LOWER(c.name) LIKE ? OR LOWER(c.email) LIKE ? OR CAST(i.amount AS TEXT) LIKE ? OR i.date LIKE ? OR i.status LIKE ?)`)
		args = append(args, like, like, like, like, like)
	}
	stmt := `SELECT i.id,i.customer_id,i.amount,i.status,i.date,c.name,c.email,COALESCE(c.image_url,'')
FROM invoices i JOIN customers c ON c.id=i.customer_id`
	if len(clauses) > 0 {
		stmt += " WHERE " + strings.Join(clauses, " AND ")
	}
	stmt += ` ORDER BY i.date DESC, i.id DESC`
	if limit > 0 {
		stmt += ` LIMIT ? OFFSET ?`
		args = append(args, limit, offset)
	}
	rows, err := r.DB.QueryContext(ctx, r.q(stmt), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.InvoiceRow
	for rows.Next() {
		var row domain.InvoiceRow
		if err := rows.Scan(&row.ID, &row.CustomerID, &row.AmountCents, &row.Status, &row.Date,
			&row.CustomerName, &row.CustomerEmail, &row.ImageURL); err != nil {
			return nil, err
		}
		res = append(res, row)
	}
	return res, rows.Err()
}
