// Package gestures defines the command vocabulary the conversation core uses
// to drive a physical gesture rig, and the link over which commands travel.
package gestures

import "fmt"

// Command is one of the fixed gesture cues the rig understands. The
// vocabulary is closed; the rig firmware maps each cue to a motion routine
// and anything else is rejected before it reaches the wire.
type Command string

const (
	// CommandIdle parks the rig in its neutral rest pose.
	CommandIdle Command = "idle"
	// CommandListen leans the rig in toward the speaker.
	CommandListen Command = "listen"
	// CommandThink plays the pondering motion while a reply is pending.
	CommandThink Command = "think"
	// CommandTalk animates the rig while speech is playing.
	CommandTalk Command = "talk"
	// CommandStop halts the current motion immediately.
	CommandStop Command = "stop"
)

// wireTokens maps commands to the newline-terminated tokens the rig firmware
// parses. The rest pose is spelled "park" on the wire.
var wireTokens = map[Command]string{
	CommandIdle:   "park",
	CommandListen: "listen",
	CommandThink:  "think",
	CommandTalk:   "talk",
	CommandStop:   "stop",
}

// WireToken returns the serial token for the command.
func (c Command) WireToken() (string, error) {
	token, ok := wireTokens[c]
	if !ok {
		return "", fmt.Errorf("unknown gesture command %q", string(c))
	}
	return token, nil
}

func (c Command) IsValid() bool {
	_, ok := wireTokens[c]
	return ok
}

// Link delivers gesture commands to a rig. Implementations are best-effort;
// Send should fail fast rather than block conversation progress.
type Link interface {
	Send(cmd Command) error
	Close() error
}

// NopLink discards every command. It stands in when no rig is attached so
// callers never branch on gesture availability.
type NopLink struct{}

func (NopLink) Send(Command) error { return nil }
func (NopLink) Close() error       { return nil }

var _ Link = NopLink{}
