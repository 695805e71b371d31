package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

type Level string

const (
	LevelInfo     Level = "INFO"
	LevelWarn     Level = "WARN"
	LevelCritical Level = "CRITICAL"
)

// Event types recorded in the security log.
const (
	EventUnauthorizedAccess = "UNAUTHORIZED_ACCESS"
	EventForbiddenAccess    = "FORBIDDEN_ACCESS"
	EventRateLimitExceeded  = "RATE_LIMIT_EXCEEDED"
	EventNotFoundScan       = "NOT_FOUND_SCAN"
	EventLargePayload       = "LARGE_PAYLOAD"
	EventInjectionAttempt   = "INJECTION_ATTEMPT"
	EventThreatReaction     = "THREAT_REACTION"
	EventSystemLockdown     = "SYSTEM_LOCKDOWN"
)

// SecurityEvent is append-only; nothing updates or deletes a row once written.
type SecurityEvent struct {
	ID          string    `json:"id" db:"id"`
	Level       Level     `json:"level" db:"level"`
	EventType   string    `json:"event_type" db:"event_type"`
	Description string    `json:"description" db:"description"`
	IP          *string   `json:"ip" db:"ip"`
	UserID      *string   `json:"user_id" db:"user_id"`
	Path        string    `json:"path" db:"path"`
	Method      string    `json:"method" db:"method"`
	Payload     Blob      `json:"payload,omitempty" db:"payload"`
	Headers     Blob      `json:"headers,omitempty" db:"headers"`
	Metadata    Blob      `json:"metadata,omitempty" db:"metadata"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
}

// IPValue returns the event IP or "" when the event carries none.
func (e SecurityEvent) IPValue() string {
	if e.IP == nil {
		return ""
	}
	return *e.IP
}

// BlockedIP gates admission for one address. A nil ExpiresAt means permanent.
type BlockedIP struct {
	IP          string     `json:"ip" db:"ip"`
	Reason      string     `json:"reason" db:"reason"`
	ExpiresAt   *time.Time `json:"expires_at" db:"expires_at"`
	IsPermanent bool       `json:"is_permanent" db:"is_permanent"`
	CreatedAt   time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at" db:"updated_at"`
}

// Expired reports whether the block has lapsed at now.
func (b BlockedIP) Expired(now time.Time) bool {
	if b.IsPermanent || b.ExpiresAt == nil {
		return false
	}
	return !b.ExpiresAt.After(now)
}

const LockdownKey = "EMERGENCY_LOCKDOWN"

type SecurityConfig struct {
	Name      string    `json:"name" db:"name"`
	Value     string    `json:"value" db:"value"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// Blob is an opaque JSON document persisted as text.
type Blob map[string]interface{}

func (b Blob) Value() (driver.Value, error) {
	if b == nil {
		return nil, nil
	}
	data, err := json.Marshal(b)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

func (b *Blob) Scan(src interface{}) error {
	var data []byte
	switch v := src.(type) {
	case nil:
		*b = nil
		return nil
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("blob: unsupported type %T", src)
	}
	if len(data) == 0 {
		*b = nil
		return nil
	}
	return json.Unmarshal(data, b)
}
