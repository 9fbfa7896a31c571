package testutil

import (
	"context"
	"os"
	"path/filepath"

	"github.com/andrebq/turnstile/store"
)

type (
	TestLog interface {
		Fatal(...interface{})
		Log(...interface{})
	}
)

// AcquireStore opens a sqlite backed store inside a temporary directory.
// The returned function closes the store and removes the directory.
func AcquireStore(ctx context.Context, t TestLog, name string) (*store.Control, func()) {
	dir, err := os.MkdirTemp("", "turnstile-tests")
	if err != nil {
		t.Fatal(err)
	}
	ctl, err := store.Open(ctx, filepath.Join(dir, name+".db"), store.Options{})
	if err != nil {
		os.RemoveAll(dir)
		t.Fatal(err)
	}
	return ctl, func() {
		err := ctl.Close()
		if err != nil {
			t.Log("unable to close store", err)
		}
		err = os.RemoveAll(dir)
		if err != nil {
			t.Log("unable to cleanup temp dir", dir)
		}
	}
}
