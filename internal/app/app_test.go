package app

import (
	"context"
	"net/url"
	"testing"

	"invoicer/internal/config"
	"invoicer/internal/engine"
	"invoicer/internal/events"
)

func openTestApp(t *testing.T) *App {
	t.Helper()
	cfg := config.Default()
	cfg.Database.Workspace = t.TempDir()
	cfg.Auth.JWTSecret = "test-secret"
	cfg.Seed = config.Seed{
		Customers: []config.SeedCustomer{{ID: "c1", Name: "Evil Rabbit", Email: "evil@rabbit.com"}},
		Users:     []config.SeedUser{{Name: "User", Email: "User@NextMail.com", Password: "123456"}},
	}
	a, err := Open(context.Background(), cfg, nil)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { a.Close() })
	return a
}

func TestSeedIsIdempotent(t *testing.T) {
	a := openTestApp(t)
	ctx := context.Background()
	for i := 0; i < 2; i++ {
		res, err := a.Seed(ctx, a.Config.Seed)
		if err != nil {
			t.Fatalf("seed %d: %v", i, err)
		}
		if res.Customers != 1 || res.Users != 1 {
			t.Fatalf("unexpected result %+v", res)
		}
	}
	customers, err := a.Repo.ListCustomers(ctx)
	if err != nil || len(customers) != 1 {
		t.Fatalf("expected one customer, got %v %v", customers, err)
	}
	u, err := a.Repo.GetUserByEmail(ctx, "user@nextmail.com")
	if err != nil {
		t.Fatalf("get user: %v", err)
	}
	if u.PasswordHash == "123456" || u.PasswordHash == "" {
		t.Fatalf("password not hashed")
	}
}

func TestAddUserRejectsShortPassword(t *testing.T) {
	a := openTestApp(t)
	if _, err := a.AddUser(context.Background(), config.SeedUser{Email: "a@b.co", Password: "123"}); err == nil {
		t.Fatalf("expected error for short password")
	}
}

func TestEngineWiredEndToEnd(t *testing.T) {
	a := openTestApp(t)
	ctx := events.WithActor(context.Background(), "cli")
	if _, err := a.Seed(ctx, a.Config.Seed); err != nil {
		t.Fatalf("seed: %v", err)
	}
	sess, msg, err := a.Engine.Authenticate(ctx, url.Values{"email": {"user@nextmail.com"}, "password": {"123456"}})
	if err != nil || msg != "" || sess.Token == "" {
		t.Fatalf("authenticate: %+v %q %v", sess, msg, err)
	}
	out := a.Engine.CreateInvoice(ctx, url.Values{"customerId": {"c1"}, "amount": {"12.34"}, "status": {"paid"}})
	if out != (engine.Redirect{Path: engine.InvoicesPath}) {
		t.Fatalf("unexpected outcome %#v", out)
	}
	if a.Registry.Generation(engine.InvoicesPath) != 1 {
		t.Fatalf("registry not revalidated")
	}
	if err := a.FollowRevalidations(ctx); err != nil {
		t.Fatalf("follow without redis: %v", err)
	}
	rows, err := a.Repo.ListInvoices(ctx, "", 0, 0)
	if err != nil || len(rows) != 1 || rows[0].AmountCents != 1234 {
		t.Fatalf("unexpected rows %v %v", rows, err)
	}
}
