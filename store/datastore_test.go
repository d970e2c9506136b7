package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"cloud.google.com/go/datastore"
	"github.com/nalgeon/be"
)

type fakeGetter struct {
	err error
	key *datastore.Key
}

func (f *fakeGetter) Get(_ context.Context, key *datastore.Key, _ interface{}) error {
	f.key = key
	return f.err
}

func TestPingDatastore(t *testing.T) {
	t.Run("missing entity is reachable", func(t *testing.T) {
		g := &fakeGetter{err: datastore.ErrNoSuchEntity}
		be.Err(t, pingDatastore(context.Background(), g), nil)
		be.Equal(t, g.key.Kind, kindProcessed)
		be.Equal(t, g.key.Name, pingKey)
	})
	t.Run("found entity is reachable", func(t *testing.T) {
		be.Err(t, pingDatastore(context.Background(), &fakeGetter{}), nil)
	})
	t.Run("service failure is fatal", func(t *testing.T) {
		down := errors.New("rpc error: code = PermissionDenied")
		err := pingDatastore(context.Background(), &fakeGetter{err: down})
		be.Err(t, err, down)
	})
}

func TestNewDatastoreStoreFailsWhenUnreachable(t *testing.T) {
	// Point the client at an emulator address nothing listens on.
	t.Setenv("DATASTORE_EMULATOR_HOST", "127.0.0.1:1")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	s, err := NewDatastoreStore(ctx, "mailpilot-test", nil)
	be.True(t, err != nil)
	be.True(t, s == nil)
}
