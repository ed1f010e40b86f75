package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrMissingField means a successful response lacked the payload field the caller asked for.
var ErrMissingField = errors.New("response field missing")

// Blob is a non-JSON success body, handed back untouched.
type Blob struct {
	ContentType string
	Filename    string
	Data        []byte
}

// Result is the outcome of one gateway call: either a success (Body or Blob) or Err.
type Result struct {
	Status int
	Body   json.RawMessage
	Blob   *Blob
	Err    *Error
}

func (r Result) OK() bool { return r.Err == nil }

// Failure returns the failure as an error value, or nil.
func (r Result) Failure() error {
	if r.Err == nil {
		return nil
	}
	return r.Err
}

func failure(err *Error) Result {
	return Result{Status: err.Status, Err: err}
}

// Decode extracts a payload field (e.g. "users") from a successful JSON result.
// An empty field decodes the whole body; a named field that is absent is ErrMissingField.
func Decode[T any](r Result, field string) (T, error) {
	var out T
	if r.Err != nil {
		return out, r.Err
	}
	if r.Blob != nil {
		return out, fmt.Errorf("decode %q: response is %s, not JSON", field, r.Blob.ContentType)
	}
	if len(r.Body) == 0 {
		if field != "" {
			return out, fmt.Errorf("decode %q: %w", field, ErrMissingField)
		}
		return out, nil
	}
	raw := r.Body
	if field != "" {
		var envelope map[string]json.RawMessage
		if err := json.Unmarshal(r.Body, &envelope); err != nil {
			return out, fmt.Errorf("decode response envelope: %w", err)
		}
		value, ok := envelope[field]
		if !ok {
			return out, fmt.Errorf("decode %q: %w", field, ErrMissingField)
		}
		raw = value
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, fmt.Errorf("decode %q: %w", field, err)
	}
	return out, nil
}
