package relay

import (
	"testing"
	"time"
)

func TestAdmissionGuardLimitsPerIP(t *testing.T) {
	g := NewAdmissionGuard(3, time.Minute)

	for i := 0; i < 3; i++ {
		if !g.Allow("203.0.113.5") {
			t.Fatalf("attempt %d should be allowed", i+1)
		}
	}
	if g.Allow("203.0.113.5") {
		t.Fatal("4th attempt from the same IP should be rejected")
	}

	if !g.Allow("198.51.100.9") {
		t.Fatal("a different source IP must not be affected by another IP's rate")
	}
}
