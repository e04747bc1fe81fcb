package core

import (
	"encoding/json"
	"errors"
	"fmt"

	"pkt.systems/printwatch/schema"
)

// decodeEvent decodes a broker payload into v after checking that every
// required top-level field is present.
func decodeEvent(payload []byte, v any, required ...string) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(payload, &fields); err != nil {
		return fmt.Errorf("%w: %v", schema.ErrMalformedPayload, err)
	}
	for _, name := range required {
		if _, ok := fields[name]; !ok {
			return fmt.Errorf("%w: missing %q", schema.ErrMalformedPayload, name)
		}
	}
	if err := json.Unmarshal(payload, v); err != nil {
		return fmt.Errorf("%w: %v", schema.ErrMalformedPayload, err)
	}
	return nil
}

// userMessage returns the server-provided message of err when available.
func userMessage(err error) string {
	if err == nil {
		return ""
	}
	var msg interface{ UserMessage() string }
	if errors.As(err, &msg) {
		if text := msg.UserMessage(); text != "" {
			return text
		}
	}
	return err.Error()
}
