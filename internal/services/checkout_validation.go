package services

import (
	"html"
	"net/mail"
	"regexp"
	"strings"

	"github.com/microcosm-cc/bluemonday"

	"github.com/motorshield/warranty-api/internal/domain"
)

var (
	textPolicy   = bluemonday.StrictPolicy()
	ukPostcode   = regexp.MustCompile(`^[A-Z]{1,2}[0-9][A-Z0-9]? ?[0-9][A-Z]{2}$`)
	phoneAllowed = regexp.MustCompile(`^\+?[0-9 ()-]{7,20}$`)
)

const maxFieldRunes = 120

// SanitiseCustomer strips markup and surrounding whitespace from free-text fields and normalises
// the email and postcode.
func SanitiseCustomer(c domain.Customer) domain.Customer {
	clean := func(v string) string {
		v = html.UnescapeString(textPolicy.Sanitize(v))
		v = strings.Join(strings.Fields(v), " ")
		if r := []rune(v); len(r) > maxFieldRunes {
			v = string(r[:maxFieldRunes])
		}
		return v
	}
	return domain.Customer{
		Title:        clean(c.Title),
		FirstName:    clean(c.FirstName),
		LastName:     clean(c.LastName),
		Email:        strings.ToLower(strings.TrimSpace(c.Email)),
		Phone:        strings.TrimSpace(c.Phone),
		AddressLine1: clean(c.AddressLine1),
		AddressLine2: clean(c.AddressLine2),
		Town:         clean(c.Town),
		Postcode:     strings.ToUpper(clean(c.Postcode)),
	}
}

// ValidateCustomer returns field level errors for missing or malformed contact details. It makes
// no network calls.
func ValidateCustomer(c domain.Customer) map[string]string {
	fields := make(map[string]string)
	required := []struct {
		name  string
		value string
		label string
	}{
		{"firstName", c.FirstName, "First name"},
		{"lastName", c.LastName, "Last name"},
		{"email", c.Email, "Email address"},
		{"phone", c.Phone, "Phone number"},
		{"addressLine1", c.AddressLine1, "Address"},
		{"town", c.Town, "Town"},
		{"postcode", c.Postcode, "Postcode"},
	}
	for _, field := range required {
		if strings.TrimSpace(field.value) == "" {
			fields[field.name] = field.label + " is required"
		}
	}
	if _, missing := fields["email"]; !missing {
		if addr, err := mail.ParseAddress(c.Email); err != nil || addr.Address != c.Email {
			fields["email"] = "Enter a valid email address"
		}
	}
	if _, missing := fields["postcode"]; !missing && !ukPostcode.MatchString(c.Postcode) {
		fields["postcode"] = "Enter a valid UK postcode"
	}
	if _, missing := fields["phone"]; !missing && !phoneAllowed.MatchString(c.Phone) {
		fields["phone"] = "Enter a valid phone number"
	}
	if len(fields) == 0 {
		return nil
	}
	return fields
}
