package invoicersdk

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"invoicer/internal/app"
	"invoicer/internal/config"
)

func newTestAPI(t *testing.T) *httptest.Server {
	t.Helper()
	cfg := config.Default()
	cfg.Database.Workspace = t.TempDir()
	cfg.Auth.JWTSecret = "sdk-secret"
	a, err := app.Open(context.Background(), cfg, nil)
	if err != nil {
		t.Fatalf("open app: %v", err)
	}
	seed := config.Seed{
		Customers: []config.SeedCustomer{{ID: "c1", Name: "Evil Rabbit", Email: "evil@rabbit.com"}},
		Users:     []config.SeedUser{{Name: "User", Email: "user@nextmail.com", Password: "123456"}},
	}
	if _, err := a.Seed(context.Background(), seed); err != nil {
		t.Fatalf("seed: %v", err)
	}
	handler, err := a.Handler()
	if err != nil {
		t.Fatalf("handler: %v", err)
	}
	srv := httptest.NewServer(handler)
	t.Cleanup(func() {
		srv.Close()
		a.Close()
	})
	return srv
}

func TestClientRoundTrip(t *testing.T) {
	srv := newTestAPI(t)
	ctx := context.Background()
	c := New(srv.URL)

	_, err := c.Login(ctx, "user@nextmail.com", "not-the-password")
	var signIn *SignInError
	if !errors.As(err, &signIn) || signIn.Message != "Invalid credentials." {
		t.Fatalf("expected sign-in error, got %v", err)
	}
	if _, err := c.Login(ctx, "user@nextmail.com", "123456"); err != nil {
		t.Fatalf("login: %v", err)
	}

	err = c.CreateInvoice(ctx, InvoiceInput{CustomerID: "c1", Amount: "0", Status: "paid"})
	var stateErr *StateError
	if !errors.As(err, &stateErr) || stateErr.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("expected validation state, got %v", err)
	}
	if len(stateErr.State.Errors["amount"]) != 1 {
		t.Fatalf("expected amount error, got %+v", stateErr.State)
	}

	if err := c.CreateInvoice(ctx, InvoiceInput{CustomerID: "c1", Amount: "19.99", Status: "pending"}); err != nil {
		t.Fatalf("create: %v", err)
	}
	page, err := c.ListInvoices(ctx, "rabbit", 1)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(page.Invoices) != 1 || page.Invoices[0].Amount != 1999 {
		t.Fatalf("unexpected page %+v", page)
	}
	id := page.Invoices[0].ID
	if err := c.UpdateInvoice(ctx, id, InvoiceInput{CustomerID: "c1", Amount: "20", Status: "paid"}); err != nil {
		t.Fatalf("update: %v", err)
	}
	if err := c.DeleteInvoice(ctx, id); err != nil {
		t.Fatalf("delete: %v", err)
	}
	err = c.DeleteInvoice(ctx, id)
	if !errors.As(err, &stateErr) || stateErr.StatusCode != http.StatusInternalServerError {
		t.Fatalf("expected persistence state on second delete, got %v", err)
	}
	customers, err := c.ListCustomers(ctx)
	if err != nil || len(customers) != 1 {
		t.Fatalf("customers: %v %v", customers, err)
	}
}

func TestClientUnauthenticated(t *testing.T) {
	srv := newTestAPI(t)
	_, err := New(srv.URL).ListInvoices(context.Background(), "", 0)
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %v", err)
	}
}
