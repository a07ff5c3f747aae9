package engine

import (
	"context"
	"net/url"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"invoicer/internal/auth"
	"invoicer/internal/domain"
	"invoicer/internal/invoice"
	"invoicer/internal/logger"
	"invoicer/internal/notify"
)

// InvoicesPath is the listing every invoice mutation invalidates.
const InvoicesPath = "/dashboard/invoices"

const (
	MsgCreateMissingFields = "Missing Fields. Failed to Create Invoice."
	MsgUpdateMissingFields = "Missing Fields. Failed to Update Invoice."
	MsgCreateDatabase      = "Database Error: Failed to Create Invoice."
	MsgUpdateDatabase      = "Database Error: Failed to Update Invoice."
	MsgDeleteDatabase      = "Database Error: Failed to Delete Invoice."
)

// Store is the persistence boundary. Each call is atomic.
type Store interface {
	InsertInvoice(ctx context.Context, inv domain.Invoice) (string, error)
	UpdateInvoice(ctx context.Context, id, customerID, status string, amountCents int64) error
	DeleteInvoice(ctx context.Context, id string) error
}

// Authenticator verifies sign-in forms for a named provider.
type Authenticator interface {
	SignIn(ctx context.Context, provider string, form url.Values) (auth.Session, error)
}

type Engine struct {
	Store       Store
	Revalidator notify.Revalidator
	Auth        Authenticator
	Log         *logger.Logger
	Tracer      trace.Tracer
	Now         func() time.Time
}

func New(store Store, revalidator notify.Revalidator, authenticator Authenticator, log *logger.Logger) Engine {
	if log == nil {
		log = logger.Nop()
	}
	return Engine{
		Store:       store,
		Revalidator: revalidator,
		Auth:        authenticator,
		Log:         log.With("service", "InvoiceEngine"),
		Tracer:      otel.Tracer("invoicer/engine"),
		Now:         time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) log() *logger.Logger {
	if e.Log != nil {
		return e.Log
	}
	return logger.Nop()
}

func (e Engine) start(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	tracer := e.Tracer
	if tracer == nil {
		tracer = otel.Tracer("invoicer/engine")
	}
	return tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

func (e Engine) revalidate(ctx context.Context, path string) {
	if e.Revalidator != nil {
		e.Revalidator.Revalidate(ctx, path)
	}
}

// CreateInvoice validates the form, inserts the invoice dated today (UTC)
// and redirects to the invoice listing.
func (e Engine) CreateInvoice(ctx context.Context, form url.Values) Outcome {
	ctx, span := e.start(ctx, "engine.CreateInvoice")
	defer span.End()

	v, err := invoice.Validate(invoice.DraftFromForm(form))
	if err != nil {
		return validationFailed(span, err, MsgCreateMissingFields)
	}
	inv := domain.Invoice{
		CustomerID:  v.CustomerID,
		AmountCents: v.AmountCents,
		Status:      v.Status,
		Date:        e.now().UTC().Format(time.DateOnly),
	}
	// once persisting starts the request context no longer governs the
	// write or its revalidation
	ctx = context.WithoutCancel(ctx)
	id, err := e.Store.InsertInvoice(ctx, inv)
	if err != nil {
		e.log().Error("create invoice failed", "customer_id", inv.CustomerID, "error", err)
		return persistenceFailed(span, err, MsgCreateDatabase)
	}
	span.SetAttributes(attribute.String("invoice.id", id))
	e.log().Info("invoice created", "invoice_id", id, "amount", inv.AmountCents, "status", inv.Status)
	e.revalidate(ctx, InvoicesPath)
	return Redirect{Path: InvoicesPath}
}

// UpdateInvoice overwrites customer, amount and status of invoice id. The
// form goes through the same validation as CreateInvoice.
func (e Engine) UpdateInvoice(ctx context.Context, id string, form url.Values) Outcome {
	ctx, span := e.start(ctx, "engine.UpdateInvoice", attribute.String("invoice.id", id))
	defer span.End()

	v, err := invoice.Validate(invoice.DraftFromForm(form))
	if err != nil {
		return validationFailed(span, err, MsgUpdateMissingFields)
	}
	ctx = context.WithoutCancel(ctx)
	if err := e.Store.UpdateInvoice(ctx, id, v.CustomerID, v.Status, v.AmountCents); err != nil {
		e.log().Error("update invoice failed", "invoice_id", id, "error", err)
		return persistenceFailed(span, err, MsgUpdateDatabase)
	}
	e.log().Info("invoice updated", "invoice_id", id, "amount", v.AmountCents, "status", v.Status)
	e.revalidate(ctx, InvoicesPath)
	return Redirect{Path: InvoicesPath}
}

// DeleteInvoice removes invoice id. Success invalidates the listing but does
// not navigate; a missing id is a persistence failure.
func (e Engine) DeleteInvoice(ctx context.Context, id string) Outcome {
	ctx, span := e.start(ctx, "engine.DeleteInvoice", attribute.String("invoice.id", id))
	defer span.End()

	ctx = context.WithoutCancel(ctx)
	if err := e.Store.DeleteInvoice(ctx, id); err != nil {
		e.log().Error("delete invoice failed", "invoice_id", id, "error", err)
		return persistenceFailed(span, err, MsgDeleteDatabase)
	}
	e.log().Info("invoice deleted", "invoice_id", id)
	e.revalidate(ctx, InvoicesPath)
	return StateUpdate{}
}

func validationFailed(span trace.Span, err error, msg string) Outcome {
	span.SetStatus(codes.Error, "validation failed")
	state := State{Message: msg}
	if fe, ok := fieldErrorsOf(err); ok {
		state.Errors = fe
	}
	return StateUpdate{State: state, Failure: FailureValidation}
}

func persistenceFailed(span trace.Span, err error, msg string) Outcome {
	span.RecordError(err)
	span.SetStatus(codes.Error, "persistence failed")
	return StateUpdate{State: State{Message: msg}, Failure: FailurePersistence}
}
