// line_validation.go: Syntax checks for the line-based INI and properties parsers
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package propbind

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/agilira/go-errors"
)

// validateINISection validates an INI section header of the form [section].
func validateINISection(line string, lineNum int) error {
	trimmed := strings.TrimSpace(line)
	if !strings.HasPrefix(trimmed, "[") || !strings.HasSuffix(trimmed, "]") {
		return errors.New(ErrCodeSourceFailed,
			fmt.Sprintf("invalid INI section at line %d: malformed brackets", lineNum))
	}

	content := trimmed[1 : len(trimmed)-1]
	if strings.ContainsAny(content, "[]") {
		return errors.New(ErrCodeSourceFailed,
			fmt.Sprintf("invalid INI section at line %d: nested brackets not supported", lineNum))
	}
	if strings.TrimSpace(content) == "" {
		return errors.New(ErrCodeSourceFailed,
			fmt.Sprintf("invalid INI section at line %d: empty section name", lineNum))
	}
	return nil
}

// validateLineKey checks a key read by a line-based parser. format names the
// file format in error messages ("INI", "Properties").
func validateLineKey(format, key string, lineNum int) error {
	if key == "" {
		return errors.New(ErrCodeSourceFailed,
			fmt.Sprintf("invalid %s key at line %d: key cannot be empty", format, lineNum))
	}

	for _, char := range key {
		if char == '\x00' {
			return errors.New(ErrCodeSourceFailed,
				fmt.Sprintf("invalid %s key at line %d: null byte not allowed in keys", format, lineNum))
		}
		if !unicode.IsPrint(char) {
			return errors.New(ErrCodeSourceFailed,
				fmt.Sprintf("invalid %s key at line %d: non-printable character not allowed in keys", format, lineNum))
		}
	}

	if strings.ContainsFunc(key, unicode.IsSpace) {
		return errors.New(ErrCodeSourceFailed,
			fmt.Sprintf("invalid %s key at line %d: key contains whitespace", format, lineNum))
	}
	return nil
}
