package payments

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	domain "github.com/motorshield/warranty-api/internal/domain"
)

const (
	installmentStatusApproved = "approved"
	installmentStatusReferred = "referred"
	installmentStatusDeclined = "declined"
	installmentStatusFallback = "fallback"

	defaultInstallmentTimeout = 15 * time.Second
	maxInstallmentResponse    = 1 << 20
)

// InstallmentProviderConfig configures the monthly credit provider client.
type InstallmentProviderConfig struct {
	Endpoint   string
	APIKey     string
	MerchantID string
	HTTPClient *http.Client
	Logger     func(ctx context.Context, event string, fields map[string]any)
	Clock      func() time.Time
}

// InstallmentProvider submits finance applications to a hosted credit provider.
type InstallmentProvider struct {
	endpoint   string
	apiKey     string
	merchantID string
	client     *http.Client
	logger     func(ctx context.Context, event string, fields map[string]any)
	clock      func() time.Time
}

// NewInstallmentProvider builds the provider. Missing credentials are not an error: Submit reports
// them as a fallback so checkout can offer card payment instead.
func NewInstallmentProvider(cfg InstallmentProviderConfig) *InstallmentProvider {
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: defaultInstallmentTimeout}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &InstallmentProvider{
		endpoint:   strings.TrimRight(strings.TrimSpace(cfg.Endpoint), "/"),
		apiKey:     strings.TrimSpace(cfg.APIKey),
		merchantID: strings.TrimSpace(cfg.MerchantID),
		client:     client,
		logger:     logger,
		clock: func() time.Time {
			return clock().UTC()
		},
	}
}

type installmentApplication struct {
	Reference   string                `json:"reference"`
	MerchantID  string                `json:"merchant_id,omitempty"`
	AmountPence int64                 `json:"amount_pence"`
	Discount    string                `json:"discount_code,omitempty"`
	SuccessURL  string                `json:"success_url"`
	CancelURL   string                `json:"cancel_url"`
	Customer    installmentCustomer   `json:"customer"`
	Items       []installmentLineItem `json:"items"`
	Metadata    map[string]string     `json:"metadata,omitempty"`
}

type installmentCustomer struct {
	Title     string `json:"title,omitempty"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Email     string `json:"email"`
	Phone     string `json:"phone,omitempty"`
	Address1  string `json:"address_line1"`
	Address2  string `json:"address_line2,omitempty"`
	Town      string `json:"town,omitempty"`
	Postcode  string `json:"postcode"`
}

type installmentLineItem struct {
	Reference    string `json:"reference"`
	Description  string `json:"description"`
	Registration string `json:"registration,omitempty"`
	AmountPence  int64  `json:"amount_pence"`
}

type installmentResponse struct {
	Status         string `json:"status"`
	ApplicationID  string `json:"application_id"`
	RedirectURL    string `json:"redirect_url"`
	FallbackReason string `json:"fallback_reason"`
	Message        string `json:"message"`
}

// Submit posts a finance application and maps the response onto a redirect or fallback.
func (p *InstallmentProvider) Submit(ctx context.Context, req SubmitRequest) (SubmitResult, error) {
	if p == nil {
		return SubmitResult{}, errors.New("installments: provider is nil")
	}
	if p.endpoint == "" || p.apiKey == "" {
		p.logger(ctx, "payments.installments.fallback", map[string]any{
			"orderReference": req.OrderReference,
			"reason":         domain.FallbackMissingCredentials,
		})
		return FallbackTo(domain.FallbackMissingCredentials, "installment provider credentials not configured"), nil
	}
	if !hasApplicantData(req.Customer) {
		return FallbackTo(domain.FallbackNoCustomerData, "customer name, email and postcode are required"), nil
	}

	body, err := json.Marshal(buildInstallmentApplication(p.merchantID, req))
	if err != nil {
		return SubmitResult{}, fmt.Errorf("installments: encode application: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint+"/applications", bytes.NewReader(body))
	if err != nil {
		return SubmitResult{}, fmt.Errorf("installments: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)
	if key := strings.TrimSpace(req.IdempotencyKey); key != "" {
		httpReq.Header.Set("Idempotency-Key", key)
	}

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return SubmitResult{}, fmt.Errorf("%w: installments: %v", ErrProviderUnavailable, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxInstallmentResponse))
	if err != nil {
		return SubmitResult{}, fmt.Errorf("%w: installments: read response: %v", ErrProviderUnavailable, err)
	}

	var decoded installmentResponse
	if len(bytes.TrimSpace(raw)) > 0 {
		if err := json.Unmarshal(raw, &decoded); err != nil && resp.StatusCode < http.StatusInternalServerError {
			return SubmitResult{}, fmt.Errorf("%w: installments: decode response: %v", ErrProviderUnavailable, err)
		}
	}

	result := p.interpret(resp.StatusCode, decoded)
	fields := map[string]any{
		"orderReference": req.OrderReference,
		"status":         resp.StatusCode,
		"applicationId":  decoded.ApplicationID,
	}
	if result.Fallback != nil {
		fields["reason"] = result.Fallback.Reason
		p.logger(ctx, "payments.installments.fallback", fields)
	} else {
		p.logger(ctx, "payments.installments.application.created", fields)
	}
	return result, nil
}

func (p *InstallmentProvider) interpret(status int, resp installmentResponse) SubmitResult {
	if status >= http.StatusInternalServerError {
		return FallbackTo(domain.FallbackError, fmt.Sprintf("provider returned status %d", status))
	}
	switch strings.ToLower(strings.TrimSpace(resp.Status)) {
	case installmentStatusApproved, installmentStatusReferred:
		if strings.TrimSpace(resp.RedirectURL) == "" {
			return FallbackTo(domain.FallbackError, "provider approved without a redirect url")
		}
		return RedirectTo(resp.RedirectURL, resp.ApplicationID, p.clock().Add(time.Hour))
	case installmentStatusDeclined:
		return FallbackTo(domain.FallbackCreditCheckFailed, resp.Message)
	case installmentStatusFallback:
		return FallbackTo(NormalizeFallbackReason(resp.FallbackReason), resp.Message)
	}
	if status == http.StatusUnauthorized || status == http.StatusForbidden {
		return FallbackTo(domain.FallbackMissingCredentials, resp.Message)
	}
	return FallbackTo(domain.FallbackError, firstNonBlank(resp.Message, fmt.Sprintf("unexpected status %d", status)))
}

type installmentCallback struct {
	Event         string `json:"event"`
	Reference     string `json:"reference"`
	ApplicationID string `json:"application_id"`
	SessionID     string `json:"checkout_session_id"`
	Status        string `json:"status"`
	AmountPence   int64  `json:"amount_pence"`
}

// ParseCompletion decodes a finance provider callback. The signature is verified upstream by the
// HMAC middleware guarding the webhook route.
func (p *InstallmentProvider) ParseCompletion(ctx context.Context, payload []byte, _ string) (Completion, error) {
	var cb installmentCallback
	if err := json.Unmarshal(payload, &cb); err != nil {
		return Completion{}, fmt.Errorf("%w: decode callback: %v", ErrInvalidCompletion, err)
	}
	ref := strings.TrimSpace(cb.Reference)
	if ref == "" {
		return Completion{}, fmt.Errorf("%w: callback has no reference", ErrInvalidCompletion)
	}
	status := strings.ToLower(strings.TrimSpace(cb.Status))
	p.logger(ctx, "payments.installments.callback", map[string]any{
		"orderReference": ref,
		"applicationId":  cb.ApplicationID,
		"status":         status,
	})
	return Completion{
		OrderReference: ref,
		SessionID:      strings.TrimSpace(cb.SessionID),
		ProviderRef:    cb.ApplicationID,
		Paid:           status == "signed" || status == "completed" || status == "approved",
		AmountPence:    cb.AmountPence,
	}, nil
}

func buildInstallmentApplication(merchantID string, req SubmitRequest) installmentApplication {
	items := make([]installmentLineItem, 0, len(req.Items))
	for _, item := range req.Items {
		items = append(items, installmentLineItem{
			Reference:    item.ID,
			Description:  firstNonBlank(item.Name, item.Description),
			Registration: item.Registration,
			AmountPence:  item.Amount * 100,
		})
	}
	c := req.Customer
	return installmentApplication{
		Reference:   req.OrderReference,
		MerchantID:  merchantID,
		AmountPence: req.FinalAmount * 100,
		Discount:    req.DiscountCode,
		SuccessURL:  req.SuccessURL,
		CancelURL:   req.CancelURL,
		Customer: installmentCustomer{
			Title:     c.Title,
			FirstName: c.FirstName,
			LastName:  c.LastName,
			Email:     c.Email,
			Phone:     c.Phone,
			Address1:  c.AddressLine1,
			Address2:  c.AddressLine2,
			Town:      c.Town,
			Postcode:  c.Postcode,
		},
		Items:    items,
		Metadata: req.Metadata,
	}
}

func hasApplicantData(c domain.Customer) bool {
	for _, v := range []string{c.FirstName, c.LastName, c.Email, c.Postcode} {
		if strings.TrimSpace(v) == "" {
			return false
		}
	}
	return true
}

func firstNonBlank(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}
