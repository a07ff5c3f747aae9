package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"net/url"
	"strings"
	"testing"
	"time"

	"invoicer/internal/auth"
	"invoicer/internal/db"
	"invoicer/internal/domain"
	"invoicer/internal/engine"
	"invoicer/internal/migrate"
	"invoicer/internal/notify"
	"invoicer/internal/repo"
)

const (
	testEmail    = "user@nextmail.com"
	testPassword = "123456"
)

type testServer struct {
	URL      string
	client   *http.Client
	repo     repo.Repo
	registry *notify.Registry
	userID   string
	close    func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func newTestServer(t *testing.T) (*testServer, func()) {
	t.Helper()
	workspace := t.TempDir()
	if _, err := db.EnsureWorkspace(workspace); err != nil {
		t.Fatalf("ensure workspace: %v", err)
	}
	conn, dialect, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn, dialect); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	r := repo.New(conn, dialect)
	ctx := context.Background()
	for _, c := range []domain.Customer{
		{ID: "c1", Name: "Evil Rabbit", Email: "evil@rabbit.com"},
		{ID: "c2", Name: "Delba de Oliveira", Email: "delba@oliveira.com"},
	} {
		if err := r.UpsertCustomer(ctx, c); err != nil {
			t.Fatalf("seed customer: %v", err)
		}
	}
	hash, err := auth.HashPassword(testPassword)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	user, err := r.UpsertUser(ctx, domain.User{Name: "User", Email: testEmail, PasswordHash: hash})
	if err != nil {
		t.Fatalf("seed user: %v", err)
	}
	sessions := auth.Sessions{Secret: "test-secret", TTL: time.Hour}
	registry := notify.NewRegistry()
	svc := auth.Service{
		Providers: map[string]auth.Provider{auth.ProviderCredentials: auth.Credentials{Users: r}},
		Sessions:  sessions,
	}
	e := engine.New(r, registry, svc, nil)
	handler, err := New(Config{
		Engine:     e,
		Queries:    r,
		Sessions:   sessions,
		CookieName: "session",
		Registry:   registry,
	})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	testSrv := &testServer{
		URL: "http://" + ln.Addr().String(),
		client: &http.Client{CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		}},
		repo:     r,
		registry: registry,
		userID:   user.ID,
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	return testSrv, func() { testSrv.Close() }
}

func do(t *testing.T, client *http.Client, method, url, contentType string, body []byte, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequest(method, url, bytes.NewReader(body))
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

func postForm(t *testing.T, srv *testServer, path string, form url.Values, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	return do(t, srv.Client(), http.MethodPost, srv.URL+path, "application/x-www-form-urlencoded", []byte(form.Encode()), headers)
}

func login(t *testing.T, srv *testServer) map[string]string {
	t.Helper()
	res, data := postForm(t, srv, "/login", url.Values{"email": {testEmail}, "password": {testPassword}}, nil)
	if res.StatusCode != http.StatusSeeOther {
		t.Fatalf("login status %d: %s", res.StatusCode, data)
	}
	for _, c := range res.Cookies() {
		if c.Name == "session" && c.Value != "" {
			return map[string]string{"Cookie": "session=" + c.Value}
		}
	}
	t.Fatalf("no session cookie in %v", res.Header)
	return nil
}

func listInvoices(t *testing.T, srv *testServer, headers map[string]string) InvoiceList {
	t.Helper()
	res, data := do(t, srv.Client(), http.MethodGet, srv.URL+"/dashboard/invoices", "", nil, headers)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("list status %d: %s", res.StatusCode, data)
	}
	var list InvoiceList
	if err := json.Unmarshal(data, &list); err != nil {
		t.Fatalf("unmarshal list: %v", err)
	}
	return list
}

func TestHealthAndDocs(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	res, data := do(t, srv.Client(), http.MethodGet, srv.URL+"/health", "", nil, nil)
	if res.StatusCode != http.StatusOK || !strings.Contains(string(data), "ok") {
		t.Fatalf("health %d: %s", res.StatusCode, data)
	}
	res, data = do(t, srv.Client(), http.MethodGet, srv.URL+"/openapi.json", "", nil, nil)
	if res.StatusCode != http.StatusOK || !strings.Contains(string(data), "create-invoice") {
		t.Fatalf("openapi %d", res.StatusCode)
	}
	if !strings.Contains(string(data), "application/x-www-form-urlencoded") {
		t.Fatalf("form bodies not documented")
	}
}

func TestDashboardRequiresSession(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	for _, headers := range []map[string]string{
		nil,
		{"Authorization": "Bearer not-a-token"},
		{"Cookie": "session=garbage"},
	} {
		res, data := do(t, srv.Client(), http.MethodGet, srv.URL+"/dashboard/invoices", "", nil, headers)
		if res.StatusCode != http.StatusUnauthorized {
			t.Fatalf("expected 401, got %d: %s", res.StatusCode, data)
		}
		var env apiError
		if err := json.Unmarshal(data, &env); err != nil || env.Body.Code == "" {
			t.Fatalf("expected error envelope, got %s", data)
		}
	}
}

func TestLogin(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	res, data := postForm(t, srv, "/login", url.Values{"email": {testEmail}, "password": {"wrong-password"}}, nil)
	if res.StatusCode != http.StatusUnauthorized || string(data) != `"Invalid credentials."` {
		t.Fatalf("wrong password: %d %s", res.StatusCode, data)
	}
	res, data = postForm(t, srv, "/login", url.Values{"email": {"nobody@nextmail.com"}, "password": {testPassword}}, nil)
	if res.StatusCode != http.StatusUnauthorized || string(data) != `"Invalid credentials."` {
		t.Fatalf("unknown user: %d %s", res.StatusCode, data)
	}

	res, _ = postForm(t, srv, "/login", url.Values{"email": {testEmail}, "password": {testPassword}}, nil)
	if res.StatusCode != http.StatusSeeOther || res.Header.Get("Location") != "/dashboard" {
		t.Fatalf("login: %d %s", res.StatusCode, res.Header.Get("Location"))
	}
	res, _ = postForm(t, srv, "/login", url.Values{
		"email": {testEmail}, "password": {testPassword}, "redirectTo": {"//evil.example"},
	}, nil)
	if res.Header.Get("Location") != "/dashboard" {
		t.Fatalf("open redirect allowed: %s", res.Header.Get("Location"))
	}

	res, _ = postForm(t, srv, "/logout", nil, nil)
	if res.StatusCode != http.StatusSeeOther || res.Header.Get("Location") != "/login" {
		t.Fatalf("logout: %d", res.StatusCode)
	}
}

func TestBearerTokenAccepted(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	cookie := login(t, srv)
	token := strings.TrimPrefix(cookie["Cookie"], "session=")
	list := listInvoices(t, srv, map[string]string{"Authorization": "Bearer " + token})
	if len(list.Invoices) != 0 {
		t.Fatalf("expected empty listing, got %v", list.Invoices)
	}
}

func TestCreateUpdateDeleteInvoice(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	headers := login(t, srv)

	res, data := postForm(t, srv, "/dashboard/invoices", url.Values{
		"customerId": {"c1"}, "amount": {"50"}, "status": {"pending"},
	}, headers)
	if res.StatusCode != http.StatusSeeOther || res.Header.Get("Location") != "/dashboard/invoices" {
		t.Fatalf("create: %d %s", res.StatusCode, data)
	}
	list := listInvoices(t, srv, headers)
	if len(list.Invoices) != 1 {
		t.Fatalf("expected one invoice, got %v", list.Invoices)
	}
	inv := list.Invoices[0]
	today := time.Now().UTC().Format(time.DateOnly)
	if inv.AmountCents != 5000 || inv.Status != "pending" || inv.CustomerName != "Evil Rabbit" || inv.Date != today {
		t.Fatalf("unexpected invoice %+v", inv)
	}
	if list.Generation != 1 || srv.registry.Generation(engine.InvoicesPath) != 1 {
		t.Fatalf("expected one revalidation, got %d", list.Generation)
	}

	body, _ := json.Marshal(map[string]any{"customerId": "c2", "amount": 19.99, "status": "paid"})
	res, data = do(t, srv.Client(), http.MethodPut, srv.URL+"/dashboard/invoices/"+inv.ID, "application/json", body, headers)
	if res.StatusCode != http.StatusSeeOther {
		t.Fatalf("update: %d %s", res.StatusCode, data)
	}
	got, err := srv.repo.GetInvoice(context.Background(), inv.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.CustomerID != "c2" || got.AmountCents != 1999 || got.Status != "paid" || got.Date != today {
		t.Fatalf("unexpected update %+v", got)
	}

	res, data = postForm(t, srv, "/dashboard/invoices/"+inv.ID+"/edit", url.Values{
		"customerId": {"c2"}, "amount": {"20"}, "status": {"paid"},
	}, headers)
	if res.StatusCode != http.StatusSeeOther {
		t.Fatalf("form update: %d %s", res.StatusCode, data)
	}

	res, data = do(t, srv.Client(), http.MethodDelete, srv.URL+"/dashboard/invoices/"+inv.ID, "", nil, headers)
	if res.StatusCode != http.StatusNoContent {
		t.Fatalf("delete: %d %s", res.StatusCode, data)
	}
	if srv.registry.Generation(engine.InvoicesPath) != 4 {
		t.Fatalf("expected four revalidations, got %d", srv.registry.Generation(engine.InvoicesPath))
	}

	evts, err := srv.repo.TailEvents(context.Background(), 10)
	if err != nil {
		t.Fatalf("tail: %v", err)
	}
	if len(evts) != 4 {
		t.Fatalf("expected four events, got %d", len(evts))
	}
	for _, ev := range evts {
		if ev.ActorID != srv.userID {
			t.Fatalf("event %s has actor %q, want %q", ev.Type, ev.ActorID, srv.userID)
		}
	}
}

func TestCreateInvoiceFailures(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	headers := login(t, srv)

	res, data := postForm(t, srv, "/dashboard/invoices", url.Values{
		"customerId": {"c1"}, "amount": {"0"}, "status": {"pending"},
	}, headers)
	if res.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d: %s", res.StatusCode, data)
	}
	var state engine.State
	if err := json.Unmarshal(data, &state); err != nil {
		t.Fatalf("unmarshal state: %v", err)
	}
	if state.Message != engine.MsgCreateMissingFields || len(state.Errors["amount"]) != 1 {
		t.Fatalf("unexpected state %+v", state)
	}

	res, data = postForm(t, srv, "/dashboard/invoices", url.Values{
		"customerId": {"missing"}, "amount": {"5"}, "status": {"paid"},
	}, headers)
	if res.StatusCode != http.StatusInternalServerError || !strings.Contains(string(data), engine.MsgCreateDatabase) {
		t.Fatalf("expected database error, got %d: %s", res.StatusCode, data)
	}

	res, _ = do(t, srv.Client(), http.MethodPost, srv.URL+"/dashboard/invoices", "text/plain", []byte("hello"), headers)
	if res.StatusCode != http.StatusUnsupportedMediaType {
		t.Fatalf("expected 415, got %d", res.StatusCode)
	}

	if n := len(listInvoices(t, srv, headers).Invoices); n != 0 {
		t.Fatalf("failed creates must not insert, got %d", n)
	}
	if srv.registry.Generation(engine.InvoicesPath) != 0 {
		t.Fatalf("failed creates must not revalidate")
	}
}

func TestCreateInvoiceMultipart(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	headers := login(t, srv)

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	w.WriteField("customerId", "c2")
	w.WriteField("amount", "19.99")
	w.WriteField("status", "paid")
	w.Close()
	res, data := do(t, srv.Client(), http.MethodPost, srv.URL+"/dashboard/invoices", w.FormDataContentType(), buf.Bytes(), headers)
	if res.StatusCode != http.StatusSeeOther || res.Header.Get("Location") != "/dashboard/invoices" {
		t.Fatalf("multipart create: %d %s", res.StatusCode, data)
	}
	list := listInvoices(t, srv, headers)
	if len(list.Invoices) != 1 || list.Invoices[0].AmountCents != 1999 || list.Invoices[0].CustomerID != "c2" {
		t.Fatalf("unexpected listing %+v", list.Invoices)
	}
}

func TestOversizedFormRejected(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	headers := login(t, srv)
	body := "customerId=c1&amount=5&status=paid&pad=" + strings.Repeat("x", maxFormBytes)
	res, data := do(t, srv.Client(), http.MethodPost, srv.URL+"/dashboard/invoices", "application/x-www-form-urlencoded", []byte(body), headers)
	if res.StatusCode != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413, got %d: %s", res.StatusCode, data)
	}
	var env apiError
	if err := json.Unmarshal(data, &env); err != nil || env.Body.Code != "payload_too_large" {
		t.Fatalf("unexpected envelope %s", data)
	}
	if n := len(listInvoices(t, srv, headers).Invoices); n != 0 {
		t.Fatalf("oversized form must not insert, got %d", n)
	}
}

func TestDeleteInvoiceFormRedirects(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	headers := login(t, srv)
	res, data := postForm(t, srv, "/dashboard/invoices", url.Values{
		"customerId": {"c1"}, "amount": {"5"}, "status": {"paid"},
	}, headers)
	if res.StatusCode != http.StatusSeeOther {
		t.Fatalf("create: %d %s", res.StatusCode, data)
	}
	id := listInvoices(t, srv, headers).Invoices[0].ID
	res, data = postForm(t, srv, "/dashboard/invoices/"+id+"/delete", nil, headers)
	if res.StatusCode != http.StatusSeeOther || res.Header.Get("Location") != "/dashboard/invoices" {
		t.Fatalf("form delete: %d %s", res.StatusCode, data)
	}
	if n := len(listInvoices(t, srv, headers).Invoices); n != 0 {
		t.Fatalf("invoice not deleted")
	}
}

func TestDeleteUnknownInvoice(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	headers := login(t, srv)
	res, data := postForm(t, srv, "/dashboard/invoices/does-not-exist/delete", nil, headers)
	if res.StatusCode != http.StatusInternalServerError || !strings.Contains(string(data), engine.MsgDeleteDatabase) {
		t.Fatalf("expected database error, got %d: %s", res.StatusCode, data)
	}
}

func TestListCustomers(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	headers := login(t, srv)
	res, data := do(t, srv.Client(), http.MethodGet, srv.URL+"/dashboard/customers", "", nil, headers)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("customers %d: %s", res.StatusCode, data)
	}
	var list CustomerList
	if err := json.Unmarshal(data, &list); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(list.Customers) != 2 {
		t.Fatalf("expected two customers, got %v", list.Customers)
	}
}
