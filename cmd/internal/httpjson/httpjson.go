// Package httpjson is the JSON envelope shared by the hub's HTTP surfaces.
//
// Every error body has the shape {"error":{"code":...,"message":...}}.
package httpjson

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
)

var (
	ErrEmptyBody    = errors.New("empty body")
	ErrTrailingData = errors.New("extra data after JSON object")
)

// Error is the body of a failed response. RedirectTo is set when the client
// should navigate elsewhere (the login entry point).
type Error struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	RedirectTo string `json:"redirect_to,omitempty"`
}

// ErrorBody wraps Error under the "error" key.
type ErrorBody struct {
	Error Error `json:"error"`
}

// Write encodes v as the response body. Responses are never cached.
func Write(w http.ResponseWriter, status int, v any) {
	h := w.Header()
	h.Set("Content-Type", "application/json; charset=utf-8")
	h.Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func WriteError(w http.ResponseWriter, status int, code, msg string) {
	Write(w, status, ErrorBody{Error: Error{Code: code, Message: msg}})
}

func WriteErrorBody(w http.ResponseWriter, status int, e Error) {
	Write(w, status, ErrorBody{Error: e})
}

// Decode reads exactly one JSON value of at most maxBytes into dst.
// Unknown fields and trailing data are rejected.
func Decode(w http.ResponseWriter, r *http.Request, maxBytes int64, dst any) error {
	if r.Body == nil {
		return ErrEmptyBody
	}
	defer func() { _ = r.Body.Close() }()

	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return ErrEmptyBody
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return ErrTrailingData
	}
	return nil
}
