package types

import (
	"database/sql/driver"
	"fmt"
	"time"
)

// Timestamp is a SQLite TEXT timestamp in RFC 3339 format with
// nanoseconds, always stored in UTC. Column defaults written by SQLite
// itself (strftime) have second precision and parse as well.
type Timestamp struct {
	time.Time
}

// Scan implements sql.Scanner for Timestamp.
func (t *Timestamp) Scan(value interface{}) error {
	if value == nil {
		t.Time = time.Time{}
		return nil
	}
	switch v := value.(type) {
	case string:
		parsed, err := time.Parse(time.RFC3339Nano, v)
		if err != nil {
			return fmt.Errorf("parse timestamp %q: %w", v, err)
		}
		t.Time = parsed.UTC()
		return nil
	case []byte:
		return t.Scan(string(v))
	case time.Time:
		t.Time = v.UTC()
		return nil
	default:
		return fmt.Errorf("cannot scan %T into Timestamp", value)
	}
}

// Value implements driver.Valuer for Timestamp.
func (t Timestamp) Value() (driver.Value, error) {
	if t.Time.IsZero() {
		return nil, nil
	}
	return t.Time.UTC().Format(time.RFC3339Nano), nil
}

// MarshalJSON implements json.Marshaler for Timestamp.
func (t Timestamp) MarshalJSON() ([]byte, error) {
	if t.Time.IsZero() {
		return []byte("null"), nil
	}
	return t.Time.UTC().MarshalJSON()
}

// UnmarshalJSON implements json.Unmarshaler for Timestamp.
func (t *Timestamp) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		t.Time = time.Time{}
		return nil
	}
	return t.Time.UnmarshalJSON(data)
}

// NullTimestamp is a nullable Timestamp.
type NullTimestamp struct {
	Timestamp
	Valid bool
}

// NullTimestampFrom converts an optional time; nil gives an invalid value.
func NullTimestampFrom(t *time.Time) NullTimestamp {
	if t == nil {
		return NullTimestamp{}
	}
	return NullTimestamp{Timestamp: Timestamp{Time: t.UTC()}, Valid: true}
}

// Ptr returns the time, or nil when the value is NULL.
func (nt NullTimestamp) Ptr() *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time
	return &t
}

// Scan implements sql.Scanner for NullTimestamp.
func (nt *NullTimestamp) Scan(value interface{}) error {
	if value == nil {
		nt.Timestamp = Timestamp{}
		nt.Valid = false
		return nil
	}
	nt.Valid = true
	return nt.Timestamp.Scan(value)
}

// Value implements driver.Valuer for NullTimestamp.
func (nt NullTimestamp) Value() (driver.Value, error) {
	if !nt.Valid {
		return nil, nil
	}
	return nt.Timestamp.Value()
}

// MarshalJSON implements json.Marshaler for NullTimestamp.
func (nt NullTimestamp) MarshalJSON() ([]byte, error) {
	if !nt.Valid {
		return []byte("null"), nil
	}
	return nt.Timestamp.MarshalJSON()
}

// UnmarshalJSON implements json.Unmarshaler for NullTimestamp.
func (nt *NullTimestamp) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		nt.Valid = false
		nt.Timestamp = Timestamp{}
		return nil
	}
	nt.Valid = true
	return nt.Timestamp.UnmarshalJSON(data)
}
