package httpx

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// DefaultMaxBody caps JSON request bodies.
const DefaultMaxBody = 64 * 1024

var (
	ErrEmptyBody    = errors.New("request body is required")
	ErrBodyTooLarge = errors.New("request body too large")
)

// DecodeJSON reads at most limit bytes into dst and rejects unknown fields.
// An empty body is allowed when allowEmpty is set.
func DecodeJSON(r *http.Request, dst any, limit int64, allowEmpty bool) error {
	if limit <= 0 {
		limit = DefaultMaxBody
	}
	if r.Body == nil {
		if allowEmpty {
			return nil
		}
		return ErrEmptyBody
	}
	data, err := io.ReadAll(io.LimitReader(r.Body, limit+1))
	if err != nil {
		return fmt.Errorf("read body: %w", err)
	}
	if int64(len(data)) > limit {
		return ErrBodyTooLarge
	}
	if strings.TrimSpace(string(data)) == "" {
		if allowEmpty {
			return nil
		}
		return ErrEmptyBody
	}
	dec := json.NewDecoder(strings.NewReader(string(data)))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("request body must be valid JSON: %w", err)
	}
	return nil
}

// DecodeError maps a DecodeJSON failure onto the error envelope.
func DecodeError(err error) Error {
	if errors.Is(err, ErrBodyTooLarge) {
		return NewError("invalid_request", err.Error(), http.StatusRequestEntityTooLarge)
	}
	return NewError("invalid_request", err.Error(), http.StatusBadRequest)
}
