// naming.go: Property and configuration key naming rules for propbind
//
// Copyright (c) 2025 AGILira
// Series: AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package propbind

import (
	"strings"
	"unicode"
)

// ToDashedForm converts a property name into its dashed (kebab-case) form as used
// in configuration keys. Underscores become dashes, an upper-case rune starts a new
// word unless it continues an initialism run, and the result is lower-cased.
//
//	ToDashedForm("maxRetries")  // "max-retries"
//	ToDashedForm("url")         // "url"
//	ToDashedForm("httpURLPath") // "http-url-path"
func ToDashedForm(name string) string {
	if name == "" {
		return ""
	}

	runes := []rune(name)
	var b strings.Builder
	b.Grow(len(name) + 4)

	lastDash := true // suppresses a leading dash
	for i, r := range runes {
		if r == '_' || r == '-' {
			if !lastDash {
				b.WriteByte('-')
				lastDash = true
			}
			continue
		}

		if unicode.IsUpper(r) && i > 0 && !lastDash {
			prev := runes[i-1]
			nextLower := i+1 < len(runes) && unicode.IsLower(runes[i+1])
			if unicode.IsLower(prev) || unicode.IsDigit(prev) || (unicode.IsUpper(prev) && nextLower) {
				b.WriteByte('-')
			}
		}

		b.WriteRune(unicode.ToLower(r))
		lastDash = false
	}

	return strings.TrimSuffix(b.String(), "-")
}

// propertyNameFromField derives the bean property name of an exported struct field
// by lower-casing its leading initialism: MaxRetries -> maxRetries, URL -> url,
// APIKey -> apiKey.
func propertyNameFromField(field string) string {
	runes := []rune(field)
	upper := 0
	for upper < len(runes) && unicode.IsUpper(runes[upper]) {
		upper++
	}

	switch {
	case upper == 0:
		return field
	case upper == 1 || upper == len(runes):
		// single capital or an all-caps name
	case unicode.IsLower(runes[upper]):
		// keep the capital that starts the next word: HTTPServer -> httpServer
		upper--
	}

	for i := 0; i < upper; i++ {
		runes[i] = unicode.ToLower(runes[i])
	}
	return string(runes)
}

// adaptElement relaxes a single key element so that camelCase, snake_case and
// kebab-case spellings resolve to the same canonical element.
func adaptElement(element string) string {
	return ToDashedForm(strings.TrimSpace(element))
}

// envVariableNames returns the environment variable names that may carry the given
// configuration key, in lookup order: the dash-free form first (APP_MAXRETRIES),
// then the legacy underscore form (APP_MAX_RETRIES).
func envVariableNames(key string) []string {
	upper := strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
	compact := strings.ReplaceAll(upper, "-", "")
	legacy := strings.ReplaceAll(upper, "-", "_")
	if compact == legacy {
		return []string{compact}
	}
	return []string{compact, legacy}
}
