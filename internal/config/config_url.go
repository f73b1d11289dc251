// Taxiflow - Partitioned Taxi Trip Ingestion and Materialization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/taxiflow

package config

import (
	"fmt"
	"net/url"
	"strings"
)

// validateHTTPURL validates that a URL is properly formatted for HTTP/HTTPS services.
func validateHTTPURL(rawURL, fieldName string) error {
	parsedURL, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("%s failed to parse URL: %w", fieldName, err)
	}

	if parsedURL.Scheme != "http" && parsedURL.Scheme != "https" {
		return fmt.Errorf("%s scheme must be http or https, got: %s", fieldName, parsedURL.Scheme)
	}

	if parsedURL.Host == "" {
		return fmt.Errorf("%s host is required", fieldName)
	}

	return nil
}

// validateURLTemplate validates a partitioned download URL. The template must
// reference the partition key, otherwise every partition would download the
// same file.
func validateURLTemplate(tmpl, fieldName string) error {
	if !strings.Contains(tmpl, "{{.Key}}") {
		return fmt.Errorf("%s must contain {{.Key}}", fieldName)
	}
	return validateHTTPURL(strings.ReplaceAll(tmpl, "{{.Key}}", "2023-01"), fieldName)
}
