package utils

import (
	"fmt"
	"net/url"
	"strings"
)

// ValidatePercent checks that a progress percentage is within 0-100
func ValidatePercent(percent int) error {
	if percent < 0 || percent > 100 {
		return fmt.Errorf("percent must be between 0 and 100, got %d", percent)
	}
	return nil
}

// ParseAnswers turns repeated "question=answer" flag values into a map.
// Returns nil for no values.
func ParseAnswers(values []string) (map[string]string, error) {
	if len(values) == 0 {
		return nil, nil
	}

	answers := make(map[string]string, len(values))
	for _, v := range values {
		q, a, ok := strings.Cut(v, "=")
		q = strings.TrimSpace(q)
		if !ok || q == "" {
			return nil, fmt.Errorf("invalid answer '%s': expected question=answer", v)
		}
		answers[q] = strings.TrimSpace(a)
	}
	return answers, nil
}

// ValidateServerURL checks that a progress server URL is absolute http(s)
func ValidateServerURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid server URL '%s': %w", raw, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("server URL '%s' must use http or https", raw)
	}
	if u.Host == "" {
		return fmt.Errorf("server URL '%s' has no host", raw)
	}
	return nil
}
