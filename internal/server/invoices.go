package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/danielgtaylor/huma/v2"

	"invoicer/internal/domain"
	"invoicer/internal/engine"
	"invoicer/internal/invoice"
)

// PageSize is the number of invoices per listing page.
const PageSize = 6

type InvoiceList struct {
	Invoices   []domain.InvoiceRow `json:"invoices"`
	Page       int                 `json:"page"`
	Generation uint64              `json:"generation,omitempty" doc:"Revalidation generation of the listing at read time"`
}

type CustomerList struct {
	Customers []domain.Customer `json:"customers"`
}

// formBodies documents the form payload of each operation that decodes its
// own body through formFromContext. They are only added to the published
// document: declared on the operation, huma would try to decode the body
// itself and reject urlencoded and multipart submissions.
var formBodies = map[string]func() *huma.Schema{
	"login":               loginFormSchema,
	"create-invoice":      invoiceFormSchema,
	"update-invoice":      invoiceFormSchema,
	"update-invoice-form": invoiceFormSchema,
}

func documentFormBodies(oas *huma.OpenAPI) {
	if oas == nil {
		return
	}
	for _, item := range oas.Paths {
		for _, op := range []*huma.Operation{item.Post, item.Put} {
			if op == nil {
				continue
			}
			if schema, ok := formBodies[op.OperationID]; ok {
				op.RequestBody = formRequestBody(schema())
			}
		}
	}
}

func formRequestBody(schema *huma.Schema) *huma.RequestBody {
	return &huma.RequestBody{
		Required: false,
		Content: map[string]*huma.MediaType{
			"application/x-www-form-urlencoded": {Schema: schema},
			"multipart/form-data":               {Schema: schema},
			"application/json":                  {Schema: schema},
		},
	}
}

func invoiceFormSchema() *huma.Schema {
	return &huma.Schema{
		Type: huma.TypeObject,
		Properties: map[string]*huma.Schema{
			invoice.FieldCustomerID: {Type: huma.TypeString},
			invoice.FieldAmount:     {Type: huma.TypeString, Description: "Amount in dollars, e.g. 19.99"},
			invoice.FieldStatus:     {Type: huma.TypeString, Enum: []any{domain.StatusPending, domain.StatusPaid}},
		},
	}
}

func loginFormSchema() *huma.Schema {
	return &huma.Schema{
		Type: huma.TypeObject,
		Properties: map[string]*huma.Schema{
			"email":      {Type: huma.TypeString, Format: "email"},
			"password":   {Type: huma.TypeString, MinLength: intPtr(6)},
			"redirectTo": {Type: huma.TypeString},
		},
	}
}

func intPtr(v int) *int { return &v }

// writeOutcome performs an engine outcome: redirects become 303, failed
// states 422 or 500 with the state as body, an empty state 204.
func writeOutcome(basePath string, out engine.Outcome) *huma.StreamResponse {
	return &huma.StreamResponse{Body: func(hctx huma.Context) {
		switch o := out.(type) {
		case engine.Redirect:
			hctx.SetHeader("Location", basePath+o.Path)
			hctx.SetStatus(http.StatusSeeOther)
		case engine.StateUpdate:
			status := http.StatusOK
			switch o.Failure {
			case engine.FailureValidation:
				status = http.StatusUnprocessableEntity
			case engine.FailurePersistence:
				status = http.StatusInternalServerError
			default:
				if o.State.Empty() {
					hctx.SetStatus(http.StatusNoContent)
					return
				}
			}
			body, _ := json.Marshal(o.State)
			hctx.SetHeader("Content-Type", "application/json")
			hctx.SetStatus(status)
			hctx.BodyWriter().Write(body)
		}
	}}
}

func registerInvoices(api huma.API, cfg Config) {
	e := cfg.Engine
	type listInput struct {
		Query string `query:"query" doc:"Filter on customer, amount, date or status"`
		Page  int    `query:"page" minimum:"1" default:"1"`
	}
	huma.Register(api, huma.Operation{
		OperationID: "list-invoices",
		Method:      http.MethodGet,
		Path:        "/dashboard/invoices",
		Summary:     "List invoices",
		Errors:      []int{http.StatusUnauthorized, http.StatusInternalServerError},
	}, func(ctx context.Context, input *listInput) (*struct {
		Generation string `header:"X-Revalidate-Generation"`
		Body       InvoiceList
	}, error) {
		page := input.Page
		if page < 1 {
			page = 1
		}
		rows, err := cfg.Queries.ListInvoices(ctx, input.Query, PageSize, (page-1)*PageSize)
		if err != nil {
			return nil, handleError(err)
		}
		if rows == nil {
			rows = []domain.InvoiceRow{}
		}
		out := &struct {
			Generation string `header:"X-Revalidate-Generation"`
			Body       InvoiceList
		}{Body: InvoiceList{Invoices: rows, Page: page}}
		if cfg.Registry != nil {
			gen := cfg.Registry.Generation(engine.InvoicesPath)
			out.Body.Generation = gen
			out.Generation = strconv.FormatUint(gen, 10)
		}
		return out, nil
	})

	type idPath struct {
		ID string `path:"id"`
	}
	mutationErrors := []int{
		http.StatusUnauthorized,
		http.StatusRequestEntityTooLarge,
		http.StatusUnsupportedMediaType,
		http.StatusUnprocessableEntity,
		http.StatusInternalServerError,
	}

	huma.Register(api, huma.Operation{
		OperationID:   "create-invoice",
		Method:        http.MethodPost,
		Path:          "/dashboard/invoices",
		Summary:       "Create invoice",
		DefaultStatus: http.StatusSeeOther,
		Errors:        mutationErrors,
	}, func(ctx context.Context, _ *struct{}) (*huma.StreamResponse, error) {
		form, err := formFromContext(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return writeOutcome(cfg.BasePath, e.CreateInvoice(ctx, form)), nil
	})

	update := func(ctx context.Context, input *idPath) (*huma.StreamResponse, error) {
		form, err := formFromContext(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return writeOutcome(cfg.BasePath, e.UpdateInvoice(ctx, input.ID, form)), nil
	}
	huma.Register(api, huma.Operation{
		OperationID:   "update-invoice",
		Method:        http.MethodPut,
		Path:          "/dashboard/invoices/{id}",
		Summary:       "Update invoice",
		DefaultStatus: http.StatusSeeOther,
		Errors:        mutationErrors,
	}, update)
	huma.Register(api, huma.Operation{
		OperationID:   "update-invoice-form",
		Method:        http.MethodPost,
		Path:          "/dashboard/invoices/{id}/edit",
		Summary:       "Update invoice from an HTML form",
		DefaultStatus: http.StatusSeeOther,
		Errors:        mutationErrors,
	}, update)

	huma.Register(api, huma.Operation{
		OperationID:   "delete-invoice",
		Method:        http.MethodDelete,
		Path:          "/dashboard/invoices/{id}",
		Summary:       "Delete invoice",
		DefaultStatus: http.StatusNoContent,
		Errors:        []int{http.StatusUnauthorized, http.StatusInternalServerError},
	}, func(ctx context.Context, input *idPath) (*huma.StreamResponse, error) {
		return writeOutcome(cfg.BasePath, e.DeleteInvoice(ctx, input.ID)), nil
	})
	huma.Register(api, huma.Operation{
		OperationID:   "delete-invoice-form",
		Method:        http.MethodPost,
		Path:          "/dashboard/invoices/{id}/delete",
		Summary:       "Delete invoice from an HTML form",
		Description:   "Redirects back to the invoice listing on success.",
		DefaultStatus: http.StatusSeeOther,
		Errors:        []int{http.StatusUnauthorized, http.StatusInternalServerError},
	}, func(ctx context.Context, input *idPath) (*huma.StreamResponse, error) {
		out := e.DeleteInvoice(ctx, input.ID)
		if su, ok := out.(engine.StateUpdate); ok && su.Failure == engine.FailureNone {
			out = engine.Redirect{Path: engine.InvoicesPath}
		}
		return writeOutcome(cfg.BasePath, out), nil
	})
}

func registerCustomers(api huma.API, cfg Config) {
	huma.Register(api, huma.Operation{
		OperationID: "list-customers",
		Method:      http.MethodGet,
		Path:        "/dashboard/customers",
		Summary:     "List customers",
		Errors:      []int{http.StatusUnauthorized, http.StatusInternalServerError},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body CustomerList
	}, error) {
		customers, err := cfg.Queries.ListCustomers(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		if customers == nil {
			customers = []domain.Customer{}
		}
		return &struct {
			Body CustomerList
		}{Body: CustomerList{Customers: customers}}, nil
	})
}
