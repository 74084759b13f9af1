package service

import "github.com/BrandonDHaskell/lockgate/internal/lockgate/types"

const (
	ReasonAuthRequired  = "authentication required"
	ReasonAuthenticated = "authenticated"
	ReasonProximity     = "proximity token"
	ReasonBadMethod     = "unsupported unlock method"
)

type Decision struct {
	Allowed bool
	Reason  string
}

// AccessPolicy decides whether an unlock method may proceed.  The zero value
// is ready to use.
type AccessPolicy struct{}

// Decide is total over every method and identity presence:
//
//	remote + identity     -> allow
//	remote + no identity  -> deny "authentication required"
//	nfc                   -> allow (local path, no network identity)
//	anything else         -> deny
func (AccessPolicy) Decide(method types.UnlockMethod, hasIdentity bool) Decision {
	switch method {
	case types.MethodRemote:
		if !hasIdentity {
			return Decision{Allowed: false, Reason: ReasonAuthRequired}
		}
		return Decision{Allowed: true, Reason: ReasonAuthenticated}
	case types.MethodProximityToken:
		return Decision{Allowed: true, Reason: ReasonProximity}
	}
	return Decision{Allowed: false, Reason: ReasonBadMethod}
}
