// Package guidance defines the control-link wire format and the localized
// guidance texts sent back to the user.
package guidance

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// Reply actions.
const (
	ActionSwitchMode = "switch mode"
	ActionObstacle   = "obstacle detection"
	ActionElevator   = "elevator direction"
)

// Recognised modes.
const (
	ModeObstacle = "obstacle"
	ModeElevator = "elevator"
	ModeStop     = "stop"
)

// ErrMalformed marks an inbound line that is not a JSON object with a
// string "mode" field.
var ErrMalformed = errors.New("guidance: malformed command")

// Command is an inbound control message.
type Command struct {
	Mode string `json:"mode"`
}

// Known reports whether Mode is one of the recognised modes.
func (c Command) Known() bool {
	switch c.Mode {
	case ModeObstacle, ModeElevator, ModeStop:
		return true
	}
	return false
}

// ParseCommand decodes one inbound line. A syntactically valid command with
// an unrecognised mode is not an error; check Known.
func ParseCommand(line []byte) (Command, error) {
	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return Command{}, fmt.Errorf("%w: empty line", ErrMalformed)
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(line, &raw); err != nil {
		return Command{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	field, ok := raw["mode"]
	if !ok {
		return Command{}, fmt.Errorf("%w: missing mode", ErrMalformed)
	}
	var cmd Command
	if err := json.Unmarshal(field, &cmd.Mode); err != nil {
		return Command{}, fmt.Errorf("%w: mode is not a string", ErrMalformed)
	}
	return cmd, nil
}

// Reply is an outbound message.
type Reply struct {
	Action  string `json:"action"`
	Message string `json:"message"`
}

// Marshal encodes r as a single JSON line without the trailing newline.
// HTML escaping is disabled so localized text stays readable on the wire.
func (r Reply) Marshal() ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(r); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}
