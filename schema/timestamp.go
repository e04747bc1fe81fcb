package schema

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// Timestamp decodes RFC 3339 strings, unix seconds and null.
type Timestamp struct {
	Time  time.Time
	Valid bool
}

// At returns a valid timestamp for t.
func At(t time.Time) Timestamp {
	return Timestamp{Time: t, Valid: true}
}

// Ptr returns nil for an invalid timestamp.
func (t Timestamp) Ptr() *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

// UnmarshalJSON implements json.Unmarshaler.
func (t *Timestamp) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*t = Timestamp{}
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		if s == "" {
			*t = Timestamp{}
			return nil
		}
		parsed, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			if secs, perr := strconv.ParseFloat(s, 64); perr == nil {
				*t = At(unixFloat(secs))
				return nil
			}
			return fmt.Errorf("timestamp %q: %w", s, err)
		}
		*t = At(parsed)
		return nil
	}
	secs, err := strconv.ParseFloat(string(data), 64)
	if err != nil {
		return fmt.Errorf("timestamp %s: %w", data, err)
	}
	*t = At(unixFloat(secs))
	return nil
}

// MarshalJSON implements json.Marshaler.
func (t Timestamp) MarshalJSON() ([]byte, error) {
	if !t.Valid {
		return []byte("null"), nil
	}
	return json.Marshal(t.Time.UTC().Format(time.RFC3339Nano))
}

func unixFloat(secs float64) time.Time {
	whole := int64(secs)
	frac := secs - float64(whole)
	return time.Unix(whole, int64(frac*float64(time.Second))).UTC()
}
