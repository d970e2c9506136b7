package config

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// Filters holds the rules for mail that should never reach the classifier.
type Filters struct {
	IgnoreSenders           []string `json:"ignoreSenders"`
	IgnoreKeywordsInSubject []string `json:"ignoreKeywordsInSubject"`
	IgnoreKeywordsInBody    []string `json:"ignoreKeywordsInBody"`
}

// FilterManager loads filter rules from a JSON file and matches messages
// against them.
type FilterManager struct {
	filePath string
	filters  *Filters
	mu       sync.RWMutex
}

// NewFilterManager creates a manager for filePath. A missing file is created
// with empty rules.
func NewFilterManager(filePath string) (*FilterManager, error) {
	m := &FilterManager{
		filePath: filePath,
		filters:  &Filters{},
	}
	if err := m.Load(); err != nil {
		return nil, err
	}
	return m, nil
}

// Load (re)reads the rules file.
func (m *FilterManager) Load() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	data, err := os.ReadFile(m.filePath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			m.filters = &Filters{
				IgnoreSenders:           []string{},
				IgnoreKeywordsInSubject: []string{},
				IgnoreKeywordsInBody:    []string{},
			}
			return m.save()
		}
		return err
	}

	var filters Filters
	if err := json.Unmarshal(data, &filters); err != nil {
		return err
	}
	m.filters = &filters
	return nil
}

func (m *FilterManager) save() error {
	if dir := filepath.Dir(m.filePath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	data, err := json.MarshalIndent(m.filters, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(m.filePath, data, 0o644)
}

// Filters returns a copy of the current rules.
func (m *FilterManager) Filters() Filters {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return Filters{
		IgnoreSenders:           append([]string(nil), m.filters.IgnoreSenders...),
		IgnoreKeywordsInSubject: append([]string(nil), m.filters.IgnoreKeywordsInSubject...),
		IgnoreKeywordsInBody:    append([]string(nil), m.filters.IgnoreKeywordsInBody...),
	}
}

// Match reports whether a message is covered by an ignore rule, and which
// one. Comparisons are case-insensitive substring matches.
func (m *FilterManager) Match(from, subject, body string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	from, subject, body = strings.ToLower(from), strings.ToLower(subject), strings.ToLower(body)
	for _, sender := range m.filters.IgnoreSenders {
		if sender != "" && strings.Contains(from, strings.ToLower(sender)) {
			return "sender:" + sender, true
		}
	}
	for _, keyword := range m.filters.IgnoreKeywordsInSubject {
		if keyword != "" && strings.Contains(subject, strings.ToLower(keyword)) {
			return "subject:" + keyword, true
		}
	}
	for _, keyword := range m.filters.IgnoreKeywordsInBody {
		if keyword != "" && strings.Contains(body, strings.ToLower(keyword)) {
			return "body:" + keyword, true
		}
	}
	return "", false
}
