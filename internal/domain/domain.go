package domain

const (
	StatusPending = "pending"
	StatusPaid    = "paid"
)

type Invoice struct {
	ID          string `json:"id"`
	CustomerID  string `json:"customer_id"`
	AmountCents int64  `json:"amount"`
	Status      string `json:"status" enum:"pending,paid"`
	Date        string `json:"date" format:"date"`
}

// InvoiceRow is an invoice joined with the customer it bills.
type InvoiceRow struct {
	Invoice
	CustomerName  string `json:"name"`
	CustomerEmail string `json:"email"`
	ImageURL      string `json:"image_url,omitempty"`
}

type Customer struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Email    string `json:"email"`
	ImageURL string `json:"image_url,omitempty"`
}

type User struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Email        string `json:"email"`
	PasswordHash string `json:"-"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}
