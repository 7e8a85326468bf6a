// Package ids generates identifiers used for bot ids, trace ids, and
// internal correlation.
package ids

import "github.com/google/uuid"

// New returns a fresh random identifier suitable for trace/event correlation.
func New() string {
	return uuid.NewString()
}

// NewBotID returns a bot identity of the form bot_<n>, where n is the first
// eight hexadecimal characters of a fresh UUID. Bot ids are normally
// assigned by the external config store at config-creation time.
func NewBotID() string {
	return "bot_" + uuid.New().String()[:8]
}
