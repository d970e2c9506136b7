package store

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/bassamadnan/mailpilot/logger"
)

const (
	backendSQLite    = "sqlite"
	backendMongo     = "mongo"
	backendDatastore = "datastore"
)

// Open connects to the backend named by uri:
//
//	mongodb://... or mongodb+srv://...   MongoDB
//	datastore://<project-id>             Cloud Datastore
//	sqlite://<path> or a bare path       SQLite
//
// A connection failure is returned; callers treat it as fatal.
func Open(ctx context.Context, uri string, log *zap.Logger) (Store, error) {
	log = logger.OrDefault(log)
	backend, target, err := parseURI(uri)
	if err != nil {
		return nil, err
	}
	log.Info("opening store", zap.String("backend", backend))

	switch backend {
	case backendMongo:
		return NewMongoStore(ctx, target, log)
	case backendDatastore:
		return NewDatastoreStore(ctx, target, log)
	default:
		return NewSQLiteStore(target)
	}
}

func parseURI(uri string) (backend, target string, err error) {
	uri = strings.TrimSpace(uri)
	switch {
	case uri == "":
		return "", "", fmt.Errorf("%w: empty", ErrUnsupportedURI)
	case strings.HasPrefix(uri, "mongodb://"), strings.HasPrefix(uri, "mongodb+srv://"):
		return backendMongo, uri, nil
	}
	if project, ok := strings.CutPrefix(uri, "datastore://"); ok {
		project = strings.Trim(project, "/")
		if project == "" {
			return "", "", fmt.Errorf("%w: datastore URI needs a project id", ErrUnsupportedURI)
		}
		return backendDatastore, project, nil
	}
	if path, ok := strings.CutPrefix(uri, "sqlite://"); ok {
		if path == "" {
			return "", "", fmt.Errorf("%w: sqlite URI needs a path", ErrUnsupportedURI)
		}
		return backendSQLite, path, nil
	}
	if strings.Contains(uri, "://") {
		return "", "", fmt.Errorf("%w: %s", ErrUnsupportedURI, uri[:strings.Index(uri, "://")])
	}
	return backendSQLite, uri, nil
}
