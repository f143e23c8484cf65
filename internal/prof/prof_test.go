package prof

import (
	"context"
	"testing"

	"github.com/keithlinneman/linnemanlabs-arcade/internal/log"
)

// Disabled path

func TestStart_Disabled(t *testing.T) {
	// Even with nonsense values, disabled should succeed
	stop, err := Start(log.WithContext(context.Background(), log.Nop()), Options{
		Enabled:              false,
		AuthToken:            "secret",
		Tags:                 map[string]string{"k": "v"},
		ProfileMutexFraction: 999,
		BlockProfileRate:     999,
	})
	if err != nil {
		t.Fatalf("disabled should never error, got: %v", err)
	}
	stop()
	stop() // safe to call multiple times
}

// Enabled - validation

func TestStart_Enabled_EmptyServerAddress(t *testing.T) {
	stop, err := Start(context.Background(), Options{
		Enabled:   true,
		AppName:   "linnemanlabs-arcade",
		AuthToken: "token123",
		TenantID:  "tenant456",
	})
	if err == nil {
		t.Fatal("expected error for empty address")
	}
	if stop == nil {
		t.Fatal("stop must be non-nil even on error")
	}
	stop()
}

func TestStart_Enabled_UnreachableServer(t *testing.T) {
	// pyroscope connects lazily in most versions, only the contract is asserted:
	// stop is always non-nil and never panics
	stop, _ := Start(context.Background(), Options{
		Enabled:       true,
		ServerAddress: "http://localhost:0/nonexistent",
		AppName:       "test",
	})
	if stop == nil {
		t.Fatal("stop func should always be non-nil")
	}
	stop()
}

func TestTags(t *testing.T) {
	got := Tags(Options{
		Component: "upload-api",
		Version:   "v1.0.0",
		Tags:      map[string]string{"env": "prod", "version": "override"},
	})
	want := map[string]string{"component": "upload-api", "version": "override", "env": "prod"}
	if len(got) != len(want) {
		t.Fatalf("Tags = %v, want %v", got, want)
	}
	for k, v := range want {
		if got[k] != v {
			t.Errorf("tag %s = %q, want %q", k, got[k], v)
		}
	}

	if empty := Tags(Options{}); len(empty) != 0 {
		t.Fatalf("Tags(empty) = %v, want none", empty)
	}
}

func TestPyroLogger(t *testing.T) {
	// must satisfy the pyroscope logger contract without a configured logger
	l := pyroLogger{ctx: context.Background(), L: log.Nop()}
	l.Infof("uploading %d profiles", 3)
	l.Debugf("tick")
	l.Errorf("upload failed: %v", "refused")
}
