package denylist

import (
	"context"
	"testing"
	"time"
)

func TestNilDenylistIsDisabled(t *testing.T) {
	var d *Denylist
	ctx := context.Background()

	if err := d.Revoke(ctx, "jti-1", time.Minute); err != nil {
		t.Fatalf("revoke on nil: %v", err)
	}
	revoked, err := d.Contains(ctx, "jti-1")
	if err != nil {
		t.Fatalf("contains on nil: %v", err)
	}
	if revoked {
		t.Fatal("nil denylist must never report revoked")
	}
	if err := d.Ping(ctx); err != nil {
		t.Fatalf("ping on nil: %v", err)
	}
	if err := d.Close(); err != nil {
		t.Fatalf("close on nil: %v", err)
	}
}
