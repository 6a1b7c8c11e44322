// source_file.go: File-backed property sources for propbind
//
// This file contains the file source and the parsers it uses:
// - JSON via koanf's JSON parser
// - YAML via go.yaml.in/yaml/v3
// - INI files (with sections) and Java Properties files via line parsers
//
// Every format is loaded into a koanf tree so that nested sections and flat
// dotted keys resolve the same way.
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package propbind

import (
	"bufio"
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/agilira/go-errors"
	"github.com/knadh/koanf/maps"
	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
	"go.yaml.in/yaml/v3"
)

// ConfigFormat represents supported configuration file formats
type ConfigFormat int

const (
	FormatUnknown ConfigFormat = iota
	FormatJSON
	FormatYAML
	FormatINI
	FormatProperties
)

// String returns the string representation of the config format
func (cf ConfigFormat) String() string {
	switch cf {
	case FormatJSON:
		return "JSON"
	case FormatYAML:
		return "YAML"
	case FormatINI:
		return "INI"
	case FormatProperties:
		return "Properties"
	default:
		return "Unknown"
	}
}

// DetectFormat detects the configuration format from the file extension
func DetectFormat(filePath string) ConfigFormat {
	switch strings.ToLower(filepath.Ext(filePath)) {
	case ".json":
		return FormatJSON
	case ".yaml", ".yml":
		return FormatYAML
	case ".ini", ".cfg", ".conf", ".config":
		return FormatINI
	case ".properties":
		return FormatProperties
	default:
		return FormatUnknown
	}
}

// parserFor returns the koanf parser of a format.
func parserFor(format ConfigFormat) (koanf.Parser, error) {
	switch format {
	case FormatJSON:
		return json.Parser(), nil
	case FormatYAML:
		return yamlParser{}, nil
	case FormatINI:
		return lineParser{parse: parseINI}, nil
	case FormatProperties:
		return lineParser{parse: parseProperties}, nil
	default:
		return nil, errors.New(ErrCodeUnsupportedFormat, "unsupported configuration format").
			WithContext("format", format.String())
	}
}

// ParseConfig parses configuration data into a nested map.
func ParseConfig(data []byte, format ConfigFormat) (map[string]interface{}, error) {
	k, err := loadKoanf(data, format)
	if err != nil {
		return nil, err
	}
	return k.Raw(), nil
}

func loadKoanf(data []byte, format ConfigFormat) (*koanf.Koanf, error) {
	parser, err := parserFor(format)
	if err != nil {
		return nil, err
	}
	k := koanf.New(".")
	if len(bytes.TrimSpace(data)) == 0 {
		return k, nil
	}
	if err := k.Load(rawbytes.Provider(data), parser); err != nil {
		return nil, errors.Wrap(err, ErrCodeSourceFailed, "failed to parse configuration").
			WithContext("format", format.String())
	}
	return k, nil
}

// yamlParser implements koanf.Parser with go.yaml.in/yaml/v3.
type yamlParser struct{}

func (yamlParser) Unmarshal(data []byte) (map[string]interface{}, error) {
	var out map[string]interface{}
	if err := yaml.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	if out == nil {
		out = make(map[string]interface{})
	}
	return out, nil
}

func (yamlParser) Marshal(m map[string]interface{}) ([]byte, error) {
	return yaml.Marshal(m)
}

// lineParser adapts a flat key=value parser to koanf.Parser.
type lineParser struct {
	parse func(data []byte) (map[string]interface{}, error)
}

func (p lineParser) Unmarshal(data []byte) (map[string]interface{}, error) {
	flat, err := p.parse(data)
	if err != nil {
		return nil, err
	}
	return maps.Unflatten(flat, "."), nil
}

func (p lineParser) Marshal(map[string]interface{}) ([]byte, error) {
	return nil, errors.New(ErrCodeUnsupportedFormat, "writing line-based formats is not supported")
}

// parseINI parses INI files with section support.
// Section names are prefixed to keys with dot notation (e.g., "database.host").
// Supports both ; and # comment styles. Malformed lines are errors.
func parseINI(data []byte) (map[string]interface{}, error) {
	config := make(map[string]interface{})
	currentSection := ""

	scanner := bufio.NewScanner(bytes.NewReader(data))
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, ";") || strings.HasPrefix(line, "#") {
			continue
		}

		if strings.HasPrefix(line, "[") {
			if err := validateINISection(line, lineNum); err != nil {
				return nil, err
			}
			currentSection = strings.TrimSpace(line[1 : len(line)-1])
			continue
		}

		key, value, ok := strings.Cut(line, "=")
		if !ok {
			return nil, errors.New(ErrCodeSourceFailed,
				fmt.Sprintf("invalid INI line %d: expected key = value", lineNum))
		}
		key = strings.TrimSpace(key)
		if err := validateLineKey("INI", key, lineNum); err != nil {
			return nil, err
		}
		if currentSection != "" {
			key = currentSection + "." + key
		}
		config[key] = parseValue(unquote(strings.TrimSpace(value)))
	}
	return config, scanner.Err()
}

// parseProperties parses Java-style properties files.
// Supports key=value and key: value with # and ! comments.
func parseProperties(data []byte) (map[string]interface{}, error) {
	config := make(map[string]interface{})

	scanner := bufio.NewScanner(bytes.NewReader(data))
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, "!") {
			continue
		}

		sep := strings.IndexAny(line, "=:")
		if sep < 0 {
			return nil, errors.New(ErrCodeSourceFailed,
				fmt.Sprintf("invalid Properties line %d: expected key=value or key: value", lineNum))
		}
		key := strings.TrimSpace(line[:sep])
		if err := validateLineKey("Properties", key, lineNum); err != nil {
			return nil, err
		}
		config[key] = parseValue(strings.TrimSpace(line[sep+1:]))
	}
	return config, scanner.Err()
}

func unquote(value string) string {
	if len(value) >= 2 && value[0] == '"' && value[len(value)-1] == '"' {
		return value[1 : len(value)-1]
	}
	return value
}

// parseValue detects booleans, integers and floats in line-based formats.
func parseValue(value string) interface{} {
	switch strings.ToLower(value) {
	case "true":
		return true
	case "false":
		return false
	}
	if intVal, err := strconv.Atoi(value); err == nil {
		return intVal
	}
	if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
		return floatVal
	}
	return value
}

// FileSource serves values from a configuration file. The format is detected
// from the extension unless given explicitly.
type FileSource struct {
	path   string
	format ConfigFormat

	mu    sync.RWMutex
	index *keyIndex
}

// NewFileSource reads and parses path.
func NewFileSource(path string) (*FileSource, error) {
	return NewFileSourceWithFormat(path, DetectFormat(path))
}

// NewFileSourceWithFormat reads and parses path with an explicit format.
func NewFileSourceWithFormat(path string, format ConfigFormat) (*FileSource, error) {
	if format == FormatUnknown {
		return nil, errors.New(ErrCodeUnsupportedFormat, "cannot detect configuration format").
			WithContext("path", path)
	}
	s := &FileSource{path: path, format: format}
	if err := s.Reload(); err != nil {
		return nil, err
	}
	return s, nil
}

// Name implements PropertySource.
func (s *FileSource) Name() string { return "file:" + s.path }

// Path returns the file path.
func (s *FileSource) Path() string { return s.path }

// Format returns the configuration format.
func (s *FileSource) Format() ConfigFormat { return s.format }

// Reload re-reads the file. On failure the previous content is kept.
func (s *FileSource) Reload() error {
	data, err := os.ReadFile(s.path) // #nosec G304 - the caller chooses which configuration file to read
	if err != nil {
		return errors.Wrap(err, ErrCodeFileNotFound, "failed to read configuration file").
			WithContext("path", s.path)
	}
	k, err := loadKoanf(data, s.format)
	if err != nil {
		return errors.Wrap(err, ErrCodeSourceFailed, "failed to load configuration file").
			WithContext("path", s.path)
	}
	ix := newKeyIndex(k)

	s.mu.Lock()
	s.index = ix
	s.mu.Unlock()
	return nil
}

// Lookup implements PropertySource.
func (s *FileSource) Lookup(name ConfigurationPropertyName) (ConfigurationProperty, bool) {
	s.mu.RLock()
	ix := s.index
	s.mu.RUnlock()

	value, _, ok := ix.lookup(name)
	if !ok {
		return ConfigurationProperty{}, false
	}
	return ConfigurationProperty{Name: name, Value: value, Origin: s.Name()}, true
}

// Names returns the canonical leaf names found in the file.
func (s *FileSource) Names() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.index.leaves...)
}
