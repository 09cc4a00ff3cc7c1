package hyperion

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// CommandName identifies a Hyperion JSON command.
type CommandName string

// Commands understood by the Hyperion JSON server.
const (
	CommandServerInfo CommandName = "serverinfo"
	CommandClearAll   CommandName = "clearall"
	CommandColor      CommandName = "color"
	CommandEffect     CommandName = "effect"
)

// DefaultPriority is the priority attached to color and effect commands
// when none is configured.
const DefaultPriority = 1000

// RGB is a colour triple. It encodes as a JSON array [r, g, b].
type RGB [3]uint8

// Effect names a server-side effect and its optional arguments.
type Effect struct {
	Name string `json:"name"`
	Args any    `json:"args,omitempty"`
}

// Command is a single request to the Hyperion server.
//
// Optional fields are pointers so that absent fields are omitted from the
// wire form rather than encoded as null or zero.
type Command struct {
	Command  CommandName `json:"command"`
	Priority *int        `json:"priority,omitempty"`
	Color    *RGB        `json:"color,omitempty"`
	Effect   *Effect     `json:"effect,omitempty"`
}

// ServerInfoCommand builds a serverinfo request.
func ServerInfoCommand() Command {
	return Command{Command: CommandServerInfo}
}

// ClearAllCommand builds a request that clears every priority channel.
func ClearAllCommand() Command {
	return Command{Command: CommandClearAll}
}

// ColorCommand builds a static colour request at the given priority.
func ColorCommand(rgb RGB, priority int) Command {
	return Command{Command: CommandColor, Priority: &priority, Color: &rgb}
}

// EffectCommand builds an effect request at the given priority.
func EffectCommand(name string, args any, priority int) Command {
	return Command{
		Command:  CommandEffect,
		Priority: &priority,
		Effect:   &Effect{Name: name, Args: args},
	}
}

// Validate checks that the command carries exactly the fields its name needs.
func (c Command) Validate() error {
	switch c.Command {
	case CommandServerInfo, CommandClearAll:
		if c.Priority != nil || c.Color != nil || c.Effect != nil {
			return fmt.Errorf("%w: %s takes no arguments", ErrInvalidCommand, c.Command)
		}
	case CommandColor:
		if c.Color == nil {
			return fmt.Errorf("%w: color requires an RGB triple", ErrInvalidCommand)
		}
		if c.Effect != nil {
			return fmt.Errorf("%w: color does not take an effect", ErrInvalidCommand)
		}
	case CommandEffect:
		if c.Effect == nil || strings.TrimSpace(c.Effect.Name) == "" {
			return fmt.Errorf("%w: effect requires a name", ErrInvalidCommand)
		}
		if c.Color != nil {
			return fmt.Errorf("%w: effect does not take a color", ErrInvalidCommand)
		}
	case "":
		return fmt.Errorf("%w: missing command name", ErrInvalidCommand)
	default:
		return fmt.Errorf("%w: unknown command %q", ErrInvalidCommand, c.Command)
	}

	if c.Priority != nil && *c.Priority < 0 {
		return fmt.Errorf("%w: priority %d is negative", ErrInvalidCommand, *c.Priority)
	}
	return nil
}

// Encode serialises cmd as one JSON line terminated by '\n'.
//
// Returns:
//   - []byte: The wire frame, including the terminator
//   - error: ErrInvalidCommand if cmd fails validation or cannot be marshalled
func Encode(cmd Command) ([]byte, error) {
	if err := cmd.Validate(); err != nil {
		return nil, err
	}

	data, err := json.Marshal(cmd)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidCommand, err)
	}

	// json.Marshal escapes control characters inside strings, so the only
	// way a newline could appear is through a custom marshaller in Args.
	if bytes.IndexByte(data, frameDelimiter) >= 0 {
		return nil, fmt.Errorf("%w: encoded command spans multiple lines", ErrInvalidCommand)
	}

	return append(data, frameDelimiter), nil
}

// DecodeCommand parses a single frame (without its terminator) back into
// a Command and validates it.
func DecodeCommand(frame string) (Command, error) {
	dec := json.NewDecoder(strings.NewReader(frame))
	dec.DisallowUnknownFields()

	var cmd Command
	if err := dec.Decode(&cmd); err != nil {
		return Command{}, fmt.Errorf("%w: %w", ErrInvalidCommand, err)
	}
	if dec.More() {
		return Command{}, fmt.Errorf("%w: trailing data after command", ErrInvalidCommand)
	}
	if err := cmd.Validate(); err != nil {
		return Command{}, err
	}
	return cmd, nil
}

// ResponseKind classifies a decoded frame.
type ResponseKind int

// Response kinds.
const (
	// ResponseValue carries a successfully decoded JSON value.
	ResponseValue ResponseKind = iota

	// ResponseEmpty is the sentinel for an empty frame.
	ResponseEmpty

	// ResponseDecodeFailure marks a frame that was not valid JSON.
	ResponseDecodeFailure
)

// String returns the kind name used in logs and API payloads.
func (k ResponseKind) String() string {
	switch k {
	case ResponseValue:
		return "value"
	case ResponseEmpty:
		return "empty"
	case ResponseDecodeFailure:
		return "decode_failure"
	default:
		return fmt.Sprintf("unknown(%d)", int(k))
	}
}

// Response is the outcome of decoding one frame from the server.
type Response struct {
	Kind ResponseKind

	// Value is the decoded JSON value when Kind is ResponseValue.
	Value any

	// Raw is the frame text the response was decoded from.
	Raw string

	// Err wraps ErrDecodeFailed when Kind is ResponseDecodeFailure.
	Err error
}

// IsEmpty reports whether the response is the empty-frame sentinel.
func (r Response) IsEmpty() bool {
	return r.Kind == ResponseEmpty
}

// Failed reports whether the frame could not be decoded.
func (r Response) Failed() bool {
	return r.Kind == ResponseDecodeFailure
}

// Result returns the value handed to API callers: the decoded value, an
// empty string for the empty sentinel, or nil for a decode failure.
func (r Response) Result() any {
	switch r.Kind {
	case ResponseValue:
		return r.Value
	case ResponseEmpty:
		return ""
	default:
		return nil
	}
}

// Decode converts one frame into a Response. It never panics and never
// returns an error; malformed JSON yields a ResponseDecodeFailure.
func Decode(frame string) Response {
	if frame == "" {
		return Response{Kind: ResponseEmpty}
	}

	var v any
	if err := json.Unmarshal([]byte(frame), &v); err != nil {
		return Response{
			Kind: ResponseDecodeFailure,
			Raw:  frame,
			Err:  fmt.Errorf("%w: %w", ErrDecodeFailed, err),
		}
	}

	return Response{Kind: ResponseValue, Value: v, Raw: frame}
}
