package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/fleetpulse/alertcore/internal/alert"
	"github.com/fleetpulse/alertcore/internal/alerting"
	"github.com/fleetpulse/alertcore/internal/errors"
	"github.com/fleetpulse/alertcore/internal/mqtt"
	"github.com/fleetpulse/alertcore/internal/rules"
)

// maxInputFileSize guards against loading huge files into memory.
const maxInputFileSize = 50 * 1024 * 1024

// ruleDocument is the export format written by the API.
type ruleDocument struct {
	Version int               `json:"version"`
	Rules   []json.RawMessage `json:"rules"`
}

// readDocument returns the file content as JSON. YAML files are converted.
func readDocument(path string) ([]byte, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat %s: %w", path, err)
	}
	if info.Size() > maxInputFileSize {
		return nil, fmt.Errorf("%s exceeds %d bytes", path, maxInputFileSize)
	}

	//nolint:gosec // G304: path is an operator-supplied input file
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		var doc any
		if err := yaml.Unmarshal(raw, &doc); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", path, err)
		}
		out, err := json.Marshal(doc)
		if err != nil {
			return nil, fmt.Errorf("failed to convert %s: %w", path, err)
		}
		return out, nil
	default:
		return raw, nil
	}
}

// splitDocument returns the JSON values of doc: the elements of a top-level
// array, or every value of a newline-delimited stream.
func splitDocument(doc []byte) ([]json.RawMessage, error) {
	trimmed := bytes.TrimSpace(doc)
	if len(trimmed) == 0 {
		return nil, nil
	}
	if trimmed[0] == '[' {
		var items []json.RawMessage
		if err := json.Unmarshal(trimmed, &items); err != nil {
			return nil, err
		}
		return items, nil
	}

	var items []json.RawMessage
	dec := json.NewDecoder(bytes.NewReader(trimmed))
	for {
		var item json.RawMessage
		if err := dec.Decode(&item); err != nil {
			if errors.Is(err, io.EOF) {
				return items, nil
			}
			return nil, err
		}
		items = append(items, item)
	}
}

// readRules loads rules from an array, an export document or a single rule.
// Rules that fail to decode are returned as errors alongside the others.
func readRules(path string) ([]rules.Rule, []error, error) {
	doc, err := readDocument(path)
	if err != nil {
		return nil, nil, err
	}

	var items []json.RawMessage
	var export ruleDocument
	if err := json.Unmarshal(doc, &export); err == nil && export.Rules != nil {
		items = export.Rules
	} else if items, err = splitDocument(doc); err != nil {
		return nil, nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}

	out := make([]rules.Rule, 0, len(items))
	var decodeErrs []error
	for i, item := range items {
		var r rules.Rule
		if err := json.Unmarshal(item, &r); err != nil {
			decodeErrs = append(decodeErrs, fmt.Errorf("%s: rule %d: %w", path, i+1, err))
			continue
		}
		out = append(out, r)
	}
	return out, decodeErrs, nil
}

// readEvents loads events. Objects without a "data" field are treated as
// the event data itself.
func readEvents(path string) ([]alerting.Event, error) {
	doc, err := readDocument(path)
	if err != nil {
		return nil, err
	}
	items, err := splitDocument(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}

	events := make([]alerting.Event, 0, len(items))
	for i, item := range items {
		ev, err := mqtt.DecodeEvent(item)
		if err != nil {
			return nil, fmt.Errorf("%s: event %d: %w", path, i+1, err)
		}
		events = append(events, ev)
	}
	return events, nil
}

// readAlerts loads alerts from an array or a newline-delimited stream.
func readAlerts(path string) ([]alert.Alert, error) {
	doc, err := readDocument(path)
	if err != nil {
		return nil, err
	}
	items, err := splitDocument(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}

	alerts := make([]alert.Alert, 0, len(items))
	for i, item := range items {
		var a alert.Alert
		if err := json.Unmarshal(item, &a); err != nil {
			return nil, fmt.Errorf("%s: alert %d: %w", path, i+1, err)
		}
		alerts = append(alerts, a)
	}
	return alerts, nil
}
