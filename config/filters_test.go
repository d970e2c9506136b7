package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/nalgeon/be"
)

func TestFilterManagerCreatesMissingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "filters.json")

	m, err := NewFilterManager(path)
	be.Err(t, err, nil)

	_, err = os.Stat(path)
	be.Err(t, err, nil)

	_, matched := m.Match("someone@example.com", "hello", "body")
	be.True(t, !matched)
}

func TestFilterManagerMatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "filters.json")
	rules := `{
		"ignoreSenders": ["newsletter@shop.example"],
		"ignoreKeywordsInSubject": ["Weekly Digest"],
		"ignoreKeywordsInBody": ["unsubscribe here"]
	}`
	be.Err(t, os.WriteFile(path, []byte(rules), 0o644), nil)

	m, err := NewFilterManager(path)
	be.Err(t, err, nil)

	rule, matched := m.Match("Shop <NEWSLETTER@shop.example>", "Sale", "")
	be.True(t, matched)
	be.Equal(t, rule, "sender:newsletter@shop.example")

	rule, matched = m.Match("a@b.c", "Your weekly digest", "")
	be.True(t, matched)
	be.Equal(t, rule, "subject:Weekly Digest")

	rule, matched = m.Match("a@b.c", "Hi", "click UNSUBSCRIBE HERE to stop")
	be.True(t, matched)
	be.Equal(t, rule, "body:unsubscribe here")

	_, matched = m.Match("recruiter@corp.example", "Interview", "See you Monday")
	be.True(t, !matched)

	be.Equal(t, len(m.Filters().IgnoreSenders), 1)
}

func TestFilterManagerBadJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "filters.json")
	be.Err(t, os.WriteFile(path, []byte("{"), 0o644), nil)

	_, err := NewFilterManager(path)
	be.True(t, err != nil)
}
