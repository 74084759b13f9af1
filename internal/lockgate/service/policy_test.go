package service_test

import (
	"testing"

	"github.com/BrandonDHaskell/lockgate/internal/lockgate/service"
	"github.com/BrandonDHaskell/lockgate/internal/lockgate/types"
)

func TestAccessPolicy_Decide(t *testing.T) {
	tests := []struct {
		name        string
		method      types.UnlockMethod
		hasIdentity bool
		allowed     bool
		reason      string
	}{
		{"remote signed in", types.MethodRemote, true, true, service.ReasonAuthenticated},
		{"remote signed out", types.MethodRemote, false, false, service.ReasonAuthRequired},
		{"nfc signed in", types.MethodProximityToken, true, true, service.ReasonProximity},
		{"nfc signed out", types.MethodProximityToken, false, true, service.ReasonProximity},
		{"empty method", "", true, false, service.ReasonBadMethod},
		{"unknown method", "bluetooth", true, false, service.ReasonBadMethod},
	}

	var p service.AccessPolicy
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := p.Decide(tt.method, tt.hasIdentity)
			if d.Allowed != tt.allowed || d.Reason != tt.reason {
				t.Fatalf("Decide(%q, %v) = %+v, want allowed=%v reason=%q",
					tt.method, tt.hasIdentity, d, tt.allowed, tt.reason)
			}
		})
	}
}
