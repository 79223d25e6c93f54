package authflow

import (
	"errors"
	"time"
)

// ErrNoCredential means no usable stored credential exists in any tier.
var ErrNoCredential = errors.New("no stored credential")

// Record is one persisted access credential with its validation history.
type Record struct {
	AccessToken     string    `json:"access_token"`
	CreatedAt       time.Time `json:"created_at"`
	ValidatedAt     time.Time `json:"validated_at,omitempty"`
	ValidationCount int       `json:"validation_count"`
	IsValid         bool      `json:"is_valid"`
	UserID          string    `json:"user_id,omitempty"`
	UserName        string    `json:"user_name,omitempty"`
	LastError       string    `json:"last_error,omitempty"`

	// Legacy marks a record recovered from the plaintext fallback file,
	// which carries no creation timestamp.
	Legacy bool `json:"-"`
}

// Age returns the time since the credential was created. Legacy records
// report zero age because their creation time is unknown.
func (r *Record) Age(now time.Time) time.Duration {
	if r.Legacy || r.CreatedAt.IsZero() {
		return 0
	}
	return now.Sub(r.CreatedAt)
}

// historyEntry is one line of the rolling credential history file.
type historyEntry struct {
	SavedAt  time.Time `json:"saved_at"`
	UserID   string    `json:"user_id,omitempty"`
	UserName string    `json:"user_name,omitempty"`
	Valid    bool      `json:"valid"`
}
