/*
Package req provides helper functions for HTTP request parsing and data binding.

Browsers post the login and profile forms URL-encoded while API clients send JSON, so
Bind accepts both and fills the same destination struct. Form fields are matched by the
`form` struct tag; JSON uses the regular `json` tag.
*/
package req

import (
	"encoding/json"
	"mime"
	"net/http"
	"reflect"
	"strings"

	"fnchat/internal/pkg/errs"
)

// MaxBodyBytes limits every bound request body (64 KB).
const MaxBodyBytes int64 = 64 << 10

// Bind decodes the request body into dst according to its Content-Type.
func Bind(w http.ResponseWriter, r *http.Request, dst any) *errs.CustomError {
	if IsJSON(r) {
		return BindJSON(w, r, dst)
	}

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	switch mediaType {
	case "application/x-www-form-urlencoded", "multipart/form-data":
		return BindForm(w, r, dst)
	default:
		return errs.NewError(errs.ErrUnsupportedMediaType)
	}
}

// IsJSON reports whether the request body is declared as JSON.
func IsJSON(r *http.Request) bool {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	return mediaType == "application/json"
}

// BindJSON attempts to bind the JSON data from the HTTP request body to the destination struct dst.
func BindJSON(w http.ResponseWriter, r *http.Request, dst any) *errs.CustomError {
	contentType := r.Header.Get("Content-Type")
	if !strings.HasPrefix(contentType, "application/json") {
		return errs.NewError(errs.ErrUnsupportedMediaType)
	}

	r.Body = http.MaxBytesReader(w, r.Body, MaxBodyBytes)

	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()

	if err := decoder.Decode(dst); err != nil {
		return errs.NewError(errs.ErrInvalidJSONFormat)
	}

	if decoder.More() {
		return errs.NewError(errs.ErrExtraContentInBody)
	}

	return nil
}

// BindForm parses URL-encoded or multipart form data and copies the values into the
// string fields of dst (a pointer to struct) that carry a `form` tag.
func BindForm(w http.ResponseWriter, r *http.Request, dst any) *errs.CustomError {
	r.Body = http.MaxBytesReader(w, r.Body, MaxBodyBytes)

	var err error
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		err = r.ParseMultipartForm(MaxBodyBytes)
	} else {
		err = r.ParseForm()
	}
	if err != nil {
		return errs.NewError(errs.ErrFormParseFailed)
	}

	v := reflect.ValueOf(dst)
	if v.Kind() != reflect.Pointer || v.Elem().Kind() != reflect.Struct {
		return errs.NewError(errs.ErrUnknown)
	}
	v = v.Elem()
	t := v.Type()

	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		key := field.Tag.Get("form")
		if key == "" || field.Type.Kind() != reflect.String {
			continue
		}
		if values, ok := r.PostForm[key]; ok && len(values) > 0 {
			v.Field(i).SetString(values[0])
		}
	}

	return nil
}
