package types

import "time"

// UnlockMethod is how an unlock was requested.
type UnlockMethod string

const (
	MethodRemote         UnlockMethod = "remote"
	MethodProximityToken UnlockMethod = "nfc"
)

// ParseUnlockMethod accepts the wire values plus a couple of aliases used by
// older clients.  The second return value is false for anything else.
func ParseUnlockMethod(s string) (UnlockMethod, bool) {
	switch s {
	case "remote":
		return MethodRemote, true
	case "nfc", "proximity", "proximity_token":
		return MethodProximityToken, true
	}
	return UnlockMethod(s), false
}

// RequiresIdentity reports whether the method is only allowed for a signed-in
// user.
func (m UnlockMethod) RequiresIdentity() bool {
	return m == MethodRemote
}

// Label is the human readable name shown in history lists.
func (m UnlockMethod) Label() string {
	switch m {
	case MethodRemote:
		return "Remote Unlock"
	case MethodProximityToken:
		return "NFC Unlock"
	}
	return string(m)
}

type LockStatus string

const (
	StatusLocked    LockStatus = "locked"
	StatusUnlocking LockStatus = "unlocking"
	StatusUnlocked  LockStatus = "unlocked"
)

// Command values written to lockers/{id}/open.
const (
	CommandOpen = "1"
	CommandIdle = "0"
)

// Identity is a signed-in account as seen by the lock gateway.
type Identity struct {
	UID   string `json:"uid"`
	Email string `json:"email"`
}

// StatusChange is delivered to machine observers on every transition and on
// every reported failure.
type StatusChange struct {
	LockerID string
	Status   LockStatus
	Method   UnlockMethod
	Actor    string
	Err      error
	Diverged bool
	At       time.Time
}

// LockerState is the response shape for status queries.
type LockerState struct {
	LockerID string       `json:"locker_id"`
	Status   LockStatus   `json:"status"`
	Method   UnlockMethod `json:"method,omitempty"`
	Diverged bool         `json:"diverged"`
}

type UnlockRequest struct {
	Method string `json:"method"`
}

type UnlockResponse struct {
	OK         bool       `json:"ok"`
	LockerID   string     `json:"locker_id"`
	Status     LockStatus `json:"status"`
	Reason     string     `json:"reason,omitempty"`
	ServerTime string     `json:"server_time"`
}
