// Package vehicles wraps the registration lookup service used to build quotes.
package vehicles

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/motorshield/warranty-api/internal/domain"
)

const (
	defaultTimeout     = 8 * time.Second
	maxResponseBytes   = 1 << 20
	apiKeyHeader       = "x-api-key"
	reasonTooOld       = "too_old"
	reasonNotFound     = "not_found"
	reasonUnsupported  = "unsupported"
	reasonExportMarker = "exported"
)

var (
	// ErrNotConfigured is returned when no lookup endpoint is configured.
	ErrNotConfigured = errors.New("vehicles: lookup endpoint not configured")
	// ErrUnavailable wraps transport failures and unexpected responses. Callers may retry.
	ErrUnavailable = errors.New("vehicles: lookup unavailable")
	// ErrInvalidRegistration is returned for empty registrations.
	ErrInvalidRegistration = errors.New("vehicles: registration is required")
)

// Result is the lookup outcome. Found=false with a Reason is a hard ineligibility.
type Result struct {
	Found   bool
	Vehicle domain.VehicleProfile
	Reason  string
	Message string
}

// Ineligible reports whether the lookup refused the vehicle for an eligibility reason.
func (r Result) Ineligible() bool {
	return !r.Found && r.Reason != "" && r.Reason != reasonNotFound
}

// Config configures the lookup client.
type Config struct {
	Endpoint   string
	APIKey     string
	Timeout    time.Duration
	HTTPClient *http.Client
	Logger     func(ctx context.Context, event string, fields map[string]any)
}

// Client calls the registration lookup API.
type Client struct {
	endpoint string
	apiKey   string
	http     *http.Client
	logger   func(ctx context.Context, event string, fields map[string]any)
}

// NewClient builds a lookup client. The default HTTP client is traced with otelhttp.
func NewClient(cfg Config) (*Client, error) {
	endpoint := strings.TrimRight(strings.TrimSpace(cfg.Endpoint), "/")
	if endpoint == "" {
		return nil, ErrNotConfigured
	}
	if _, err := url.ParseRequestURI(endpoint); err != nil {
		return nil, fmt.Errorf("vehicles: invalid endpoint: %w", err)
	}
	client := cfg.HTTPClient
	if client == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		client = &http.Client{Timeout: timeout, Transport: otelhttp.NewTransport(http.DefaultTransport)}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &Client{endpoint: endpoint, apiKey: strings.TrimSpace(cfg.APIKey), http: client, logger: logger}, nil
}

type lookupResponse struct {
	Found        bool   `json:"found"`
	Registration string `json:"registration"`
	Make         string `json:"make"`
	Model        string `json:"model"`
	Year         int    `json:"year"`
	FuelType     string `json:"fuelType"`
	VehicleClass string `json:"vehicleClass"`
	BodyType     string `json:"bodyType"`
	Error        *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// Lookup resolves a registration. Mileage is supplied by the customer and copied onto the profile.
func (c *Client) Lookup(ctx context.Context, registration string, mileage int) (Result, error) {
	reg := domain.NormalizeRegistration(registration)
	if reg == "" {
		return Result{}, ErrInvalidRegistration
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint+"/vehicles/"+url.PathEscape(reg), nil)
	if err != nil {
		return Result{}, fmt.Errorf("vehicles: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set(apiKeyHeader, c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Result{}, ctxErr
		}
		return Result{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return Result{}, fmt.Errorf("%w: read body: %v", ErrUnavailable, err)
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return Result{Found: false, Reason: reasonNotFound, Message: "We could not find that registration"}, nil
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		c.logger(ctx, "vehicles.lookup_unavailable", map[string]any{"status": resp.StatusCode})
		return Result{}, fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	case resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusUnprocessableEntity:
		return Result{}, fmt.Errorf("%w: unexpected status %d", ErrUnavailable, resp.StatusCode)
	}

	var payload lookupResponse
	if err := json.Unmarshal(body, &payload); err != nil {
		return Result{}, fmt.Errorf("%w: decode body: %v", ErrUnavailable, err)
	}
	if !payload.Found {
		result := Result{Found: false, Reason: reasonNotFound, Message: "We could not find that registration"}
		if payload.Error != nil {
			result.Reason = normaliseReason(payload.Error.Code)
			if msg := strings.TrimSpace(payload.Error.Message); msg != "" {
				result.Message = msg
			}
		}
		return result, nil
	}

	class := payload.VehicleClass
	if strings.TrimSpace(class) == "" {
		class = payload.BodyType
	}
	vehicle := domain.VehicleProfile{
		RegNumber: firstNonEmpty(domain.NormalizeRegistration(payload.Registration), reg),
		Mileage:   mileage,
		Make:      strings.TrimSpace(payload.Make),
		Model:     strings.TrimSpace(payload.Model),
		Year:      payload.Year,
		FuelType:  strings.TrimSpace(payload.FuelType),
		Class:     domain.ClassifyVehicle(class),
	}
	return Result{Found: true, Vehicle: vehicle}, nil
}

func normaliseReason(code string) string {
	code = strings.ToLower(strings.TrimSpace(code))
	switch {
	case code == "":
		return reasonNotFound
	case strings.Contains(code, "old") || strings.Contains(code, "age"):
		return reasonTooOld
	case strings.Contains(code, "export"):
		return reasonExportMarker
	case strings.Contains(code, "not_found") || code == "notfound":
		return reasonNotFound
	default:
		return reasonUnsupported
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
