package storage

import (
	"fmt"
	"strings"
)

// PolicyWordingParams identify one policy wording document.
type PolicyWordingParams struct {
	Category string
	Version  string
	FileName string
}

const defaultPolicyFileName = "policy-wording.pdf"

// PolicyWordingPath resolves the object key for a policy wording document,
// e.g. policies/electric/2026-01/policy-wording.pdf.
func PolicyWordingPath(params PolicyWordingParams) (string, error) {
	category, err := validateSegment("category", params.Category)
	if err != nil {
		return "", err
	}
	version, err := validateSegment("version", params.Version)
	if err != nil {
		return "", err
	}
	name := strings.TrimSpace(params.FileName)
	if name == "" {
		name = defaultPolicyFileName
	}
	fileName, err := validateFileName(name)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("policies/%s/%s/%s", category, version, fileName), nil
}

func validateSegment(name, value string) (string, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return "", fmt.Errorf("storage: %s is required", name)
	}
	if strings.ContainsAny(value, "/\\") {
		return "", fmt.Errorf("storage: %s contains invalid path characters", name)
	}
	if strings.Contains(value, "..") {
		return "", fmt.Errorf("storage: %s contains invalid traversal sequence", name)
	}
	return value, nil
}

func validateFileName(value string) (string, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return "", fmt.Errorf("storage: fileName is required")
	}
	if strings.ContainsAny(value, "/\\") {
		return "", fmt.Errorf("storage: fileName contains invalid path characters")
	}
	if strings.Contains(value, "..") {
		return "", fmt.Errorf("storage: fileName contains invalid traversal sequence")
	}
	return value, nil
}
