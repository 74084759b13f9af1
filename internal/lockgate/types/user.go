package types

import "time"

// Settings toggles persisted per field under users/{uid}/settings.
type Settings struct {
	Notifications bool `json:"notifications"`
	BiometricAuth bool `json:"biometricAuth"`
	AutoLock      bool `json:"autoLock"`
}

// DefaultSettings applies when a profile has no stored value for a toggle.
func DefaultSettings() Settings {
	return Settings{Notifications: true, BiometricAuth: false, AutoLock: true}
}

type Profile struct {
	UID       string    `json:"uid"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"created_at"`
	Settings  Settings  `json:"settings"`
}

type RegisterRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name"`
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type AuthResponse struct {
	UID   string `json:"uid"`
	Email string `json:"email"`
	Token string `json:"token"`
}

// SettingsPatch carries only the toggles the caller wants to change.
type SettingsPatch struct {
	Notifications *bool `json:"notifications,omitempty"`
	BiometricAuth *bool `json:"biometricAuth,omitempty"`
	AutoLock      *bool `json:"autoLock,omitempty"`
}
