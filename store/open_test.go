package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/nalgeon/be"
	"go.uber.org/zap"
)

func TestParseURI(t *testing.T) {
	tests := []struct {
		uri     string
		backend string
		target  string
	}{
		{"mongodb://localhost:27017", backendMongo, "mongodb://localhost:27017"},
		{"mongodb+srv://user:pw@cluster.example.net/", backendMongo, "mongodb+srv://user:pw@cluster.example.net/"},
		{"datastore://my-project", backendDatastore, "my-project"},
		{"sqlite://data/mailpilot.db", backendSQLite, "data/mailpilot.db"},
		{"sqlite://:memory:", backendSQLite, ":memory:"},
		{"mailpilot.db", backendSQLite, "mailpilot.db"},
	}
	for _, tt := range tests {
		t.Run(tt.uri, func(t *testing.T) {
			backend, target, err := parseURI(tt.uri)
			be.Err(t, err, nil)
			be.Equal(t, backend, tt.backend)
			be.Equal(t, target, tt.target)
		})
	}
}

func TestParseURIRejects(t *testing.T) {
	for _, uri := range []string{"", "postgres://localhost/db", "datastore://", "sqlite://"} {
		_, _, err := parseURI(uri)
		be.Err(t, err, ErrUnsupportedURI)
	}
}

func TestOpenSQLitePath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mailpilot.db")

	s, err := Open(context.Background(), "sqlite://"+path, zap.NewNop())
	be.Err(t, err, nil)
	be.Err(t, s.MarkProcessed(context.Background(), "m1"), nil)
	be.Err(t, s.Close(), nil)

	reopened, err := Open(context.Background(), path, zap.NewNop())
	be.Err(t, err, nil)
	defer reopened.Close()

	ok, err := reopened.IsProcessed(context.Background(), "m1")
	be.Err(t, err, nil)
	be.Equal(t, ok, true)
}
