package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
)

const maxFormBytes = 1 << 20

var (
	errUnsupportedForm = errors.New("unsupported form content type")
	errFormTooLarge    = errors.New("form too large")
)

type formError struct {
	err error
}

func (e formError) Error() string { return e.err.Error() }
func (e formError) Unwrap() error { return e.err }

func isFormError(err error) bool {
	var fe formError
	return errors.As(err, &fe)
}

// formFromContext decodes the buffered request body into form values.
func formFromContext(ctx context.Context) (url.Values, error) {
	req, _ := ctx.Value(requestKey{}).(*http.Request)
	body, _ := ctx.Value(bodyBytesKey{}).([]byte)
	contentType := ""
	if req != nil {
		contentType = req.Header.Get("Content-Type")
	}
	return parseForm(contentType, body)
}

// parseForm accepts urlencoded, multipart and flat JSON object bodies. JSON
// values are stringified so every encoding feeds the same validation.
func parseForm(contentType string, body []byte) (url.Values, error) {
	if len(body) > maxFormBytes {
		return nil, formError{fmt.Errorf("%w: larger than %d bytes", errFormTooLarge, maxFormBytes)}
	}
	if contentType == "" {
		return parseURLEncoded(body)
	}
	mediaType, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		return nil, formError{fmt.Errorf("%w: %v", errUnsupportedForm, err)}
	}
	switch mediaType {
	case "application/x-www-form-urlencoded":
		return parseURLEncoded(body)
	case "multipart/form-data":
		return parseMultipart(body, params["boundary"])
	case "application/json":
		return parseJSONObject(body)
	default:
		return nil, formError{fmt.Errorf("%w: %s", errUnsupportedForm, mediaType)}
	}
}

func parseURLEncoded(body []byte) (url.Values, error) {
	values, err := url.ParseQuery(string(body))
	if err != nil {
		return nil, formError{fmt.Errorf("invalid urlencoded form: %w", err)}
	}
	return values, nil
}

func parseMultipart(body []byte, boundary string) (url.Values, error) {
	if boundary == "" {
		return nil, formError{errors.New("multipart form missing boundary")}
	}
	form, err := multipart.NewReader(bytes.NewReader(body), boundary).ReadForm(maxFormBytes)
	if err != nil {
		return nil, formError{fmt.Errorf("invalid multipart form: %w", err)}
	}
	defer form.RemoveAll()
	values := url.Values{}
	for k, vs := range form.Value {
		values[k] = append([]string(nil), vs...)
	}
	return values, nil
}

func parseJSONObject(body []byte) (url.Values, error) {
	values := url.Values{}
	if len(bytes.TrimSpace(body)) == 0 {
		return values, nil
	}
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var obj map[string]any
	if err := dec.Decode(&obj); err != nil {
		return nil, formError{fmt.Errorf("invalid json form: %w", err)}
	}
	for k, v := range obj {
		switch tv := v.(type) {
		case []any:
			for _, item := range tv {
				if s, ok := jsonScalar(item); ok {
					values.Add(k, s)
				}
			}
		default:
			if s, ok := jsonScalar(tv); ok {
				values.Add(k, s)
			}
		}
	}
	return values, nil
}

func jsonScalar(v any) (string, bool) {
	switch tv := v.(type) {
	case string:
		return tv, true
	case json.Number:
		return tv.String(), true
	case bool:
		return strconv.FormatBool(tv), true
	default:
		return "", false
	}
}
