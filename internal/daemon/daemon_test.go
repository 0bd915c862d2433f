package daemon

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/semfora/pmsync/internal/provider"
	"github.com/semfora/pmsync/internal/reconcile"
	"github.com/semfora/pmsync/internal/store"
)

func TestDaemonPullsPeriodically(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "daemon.db")
	st, err := store.Open(dbPath)
	if err != nil {
		t.Fatal(err)
	}
	defer st.Close()
	ctx := context.Background()
	if err := st.InitSchema(ctx); err != nil {
		t.Fatal(err)
	}

	prov, err := provider.New(provider.Config{
		Kind: provider.KindStatic,
		Items: []provider.Record{{
			ID: "SEM-1", Title: "Background me",
			StateType: "unstarted", StateName: "Todo",
			UpdatedAt: time.Now().UTC(),
		}},
	}, nil)
	if err != nil {
		t.Fatal(err)
	}
	rec := reconcile.New(st, prov, nil, reconcile.DefaultConfig(), nil)

	d := New(rec, nil, dbPath, Config{
		PullInterval:       50 * time.Millisecond,
		FullResyncInterval: time.Hour,
		PushDebounce:       time.Hour,
	}, nil)
	if err := d.Start(ctx); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	if err := d.Start(ctx); err == nil {
		d.Stop()
		t.Fatal("second Start() did not fail")
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		if _, err := st.GetItemByProviderID(ctx, "SEM-1"); err == nil {
			break
		}
		if time.Now().After(deadline) {
			d.Stop()
			t.Fatal("daemon never pulled the item")
		}
		time.Sleep(20 * time.Millisecond)
	}
	d.Stop()

	// Stop is idempotent.
	d.Stop()
}
