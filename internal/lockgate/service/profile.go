package service

import (
	"context"
	"fmt"
	"io"
	"log"
	"strings"
	"time"

	"github.com/BrandonDHaskell/lockgate/internal/lockgate/store"
	"github.com/BrandonDHaskell/lockgate/internal/lockgate/types"
)

// Setting names as stored under users/{uid}/settings.
const (
	SettingNotifications = "notifications"
	SettingBiometricAuth = "biometricAuth"
	SettingAutoLock      = "autoLock"
)

// ProfileService reads and edits users/{uid}.
type ProfileService struct {
	store  store.StateStore
	logger *log.Logger
}

func NewProfileService(st store.StateStore, logger *log.Logger) *ProfileService {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &ProfileService{store: st, logger: logger}
}

func profilePath(uid string) string { return store.Join(UsersPath, uid) }

// Get returns the stored profile.  Missing fields take defaults.  On a read
// failure the default profile is returned together with an ErrStoreRead.
func (p *ProfileService) Get(ctx context.Context, uid string) (types.Profile, error) {
	prof := types.Profile{UID: uid, Settings: types.DefaultSettings()}
	uid = strings.TrimSpace(uid)
	if uid == "" {
		return prof, nil
	}

	snap, err := p.store.Get(ctx, profilePath(uid))
	if err != nil {
		p.logger.Printf("profile %s: read: %v", uid, err)
		return prof, fmt.Errorf("%w: profile: %w", ErrStoreRead, err)
	}

	fields := snap.Children()
	if s, ok := fields["name"].(string); ok {
		prof.Name = s
	}
	if s, ok := fields["email"].(string); ok {
		prof.Email = s
	}
	if t, ok := parseTimestamp(fields["createdAt"]); ok {
		prof.CreatedAt = t
	}
	if settings, ok := fields["settings"].(map[string]any); ok {
		if b, ok := settings[SettingNotifications].(bool); ok {
			prof.Settings.Notifications = b
		}
		if b, ok := settings[SettingBiometricAuth].(bool); ok {
			prof.Settings.BiometricAuth = b
		}
		if b, ok := settings[SettingAutoLock].(bool); ok {
			prof.Settings.AutoLock = b
		}
	}
	return prof, nil
}

// UpdateSetting writes a single toggle.
func (p *ProfileService) UpdateSetting(ctx context.Context, uid, name string, value bool) error {
	if !knownSetting(name) {
		return fmt.Errorf("%w: %q", ErrUnknownSetting, name)
	}
	if err := p.store.Set(ctx, store.Join(profilePath(uid), "settings", name), value); err != nil {
		return fmt.Errorf("%w: setting %s: %w", ErrStoreWrite, name, err)
	}
	return nil
}

// ApplySettings writes every toggle present in patch in one atomic update.
func (p *ProfileService) ApplySettings(ctx context.Context, uid string, patch types.SettingsPatch) error {
	values := make(map[string]any, 3)
	if patch.Notifications != nil {
		values[SettingNotifications] = *patch.Notifications
	}
	if patch.BiometricAuth != nil {
		values[SettingBiometricAuth] = *patch.BiometricAuth
	}
	if patch.AutoLock != nil {
		values[SettingAutoLock] = *patch.AutoLock
	}
	if len(values) == 0 {
		return nil
	}
	if err := p.store.Update(ctx, store.Join(profilePath(uid), "settings"), values); err != nil {
		return fmt.Errorf("%w: settings: %w", ErrStoreWrite, err)
	}
	return nil
}

func knownSetting(name string) bool {
	switch name {
	case SettingNotifications, SettingBiometricAuth, SettingAutoLock:
		return true
	}
	return false
}

// MemberSince formats CreatedAt the way profile screens show it.
func MemberSince(p types.Profile) string {
	if p.CreatedAt.IsZero() {
		return ""
	}
	return p.CreatedAt.Format(time.DateOnly)
}
