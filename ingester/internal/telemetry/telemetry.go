// Package telemetry decodes raw broker payloads into TelemetryMessage values.
//
// Accepted shape:
//
//	{"type":"telemetry","bot_id":"TURTLEBOT3-Burger-1","ts":1700000000000000000,
//	 "battery":{"percentage":81.5,"voltage":12.1,"wh":402.7},"pose":{"x":1.2,"y":-0.4}}
//
// "bot" is accepted in place of "bot_id". battery and pose are optional.
package telemetry

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/fleetscore/fleetscore/pkg/types"
)

var (
	// ErrMalformed marks a payload that can never be ingested.
	ErrMalformed = errors.New("telemetry: malformed message")

	// ErrUnknownType marks a well-formed payload whose type is not "telemetry".
	// It is also reported as ErrMalformed.
	ErrUnknownType = fmt.Errorf("%w: unknown message type", ErrMalformed)
)

type wireMessage struct {
	Type    string          `json:"type"`
	BotID   string          `json:"bot_id"`
	Bot     string          `json:"bot"`
	TS      json.RawMessage `json:"ts"`
	Battery *types.Battery  `json:"battery"`
	Pose    *types.Pose     `json:"pose"`
}

// Decode parses raw into a TelemetryMessage. All errors wrap ErrMalformed.
func Decode(raw []byte) (types.TelemetryMessage, error) {
	var w wireMessage
	if err := json.Unmarshal(raw, &w); err != nil {
		return types.TelemetryMessage{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	if w.Type != types.MessageTypeTelemetry {
		return types.TelemetryMessage{}, fmt.Errorf("%w %q", ErrUnknownType, w.Type)
	}

	ts, err := parseTimestamp(w.TS)
	if err != nil {
		return types.TelemetryMessage{}, err
	}

	bot := w.BotID
	if bot == "" {
		bot = w.Bot
	}
	if bot == "" {
		return types.TelemetryMessage{}, fmt.Errorf("%w: bot_id is required", ErrMalformed)
	}

	return types.TelemetryMessage{
		Type:        w.Type,
		BotID:       bot,
		TimestampNs: ts,
		Battery:     w.Battery,
		Pose:        w.Pose,
	}, nil
}

// parseTimestamp requires an integer JSON number of nanoseconds.
func parseTimestamp(raw json.RawMessage) (int64, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return 0, fmt.Errorf("%w: ts is required", ErrMalformed)
	}
	ts, err := strconv.ParseInt(string(raw), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: ts must be an integer nanosecond timestamp, got %s", ErrMalformed, raw)
	}
	return ts, nil
}
