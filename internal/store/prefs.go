package store

import (
	"context"
	"encoding/json"
)

// SetPreference stores an arbitrary JSON-encodable preference value for a
// user.
func (s *Store) SetPreference(ctx context.Context, userID, key string, value any) {
	raw, err := json.Marshal(value)
	if err != nil {
		s.logger.WithError(err).WithField("pref", key).Warn("Failed to encode preference")
		return
	}
	if err := s.kv.Set(ctx, prefKey(userID, key), string(raw), prefTTL); err != nil {
		s.logger.WithError(err).WithField("pref", key).Warn("Failed to write preference")
	}
}

// GetPreferenceBool reads a boolean preference, returning def when the
// preference is unset or unreadable.
func (s *Store) GetPreferenceBool(ctx context.Context, userID, key string, def bool) bool {
	raw, ok, err := s.kv.Get(ctx, prefKey(userID, key))
	if err != nil {
		s.logger.WithError(err).WithField("pref", key).Warn("Failed to read preference")
		return def
	}
	if !ok {
		return def
	}
	var v bool
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return def
	}
	return v
}
