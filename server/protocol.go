package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/opd-ai/jamyx/limits"
)

// Return codes carried in Response.Ret.
const (
	RetOK              = 0
	RetBadCommand      = 1
	RetNotFound        = 2
	RetInvalidArgument = 3
	RetInternal        = 4
)

// ErrBadCommand indicates a malformed request payload.
var ErrBadCommand = errors.New("bad command")

// Command is one request.
type Command struct {
	Target string   `json:"target"`
	Cmd    string   `json:"cmd"`
	Opts   []string `json:"opts"`
}

// Response is the reply envelope, also used for monitor notifications.
type Response struct {
	Ret int    `json:"ret"`
	Msg string `json:"msg"`
	Obj any    `json:"obj"`
}

// OK builds a success response.
func OK(msg string, obj any) Response {
	return Response{Ret: RetOK, Msg: msg, Obj: obj}
}

// Errorf builds an error response.
func Errorf(ret int, format string, args ...any) Response {
	return Response{Ret: ret, Msg: fmt.Sprintf(format, args...)}
}

// ReadCommand decodes one command from r, reading at most
// limits.MaxCommandFrame bytes.
func ReadCommand(r io.Reader) (Command, error) {
	var cmd Command
	dec := json.NewDecoder(io.LimitReader(r, limits.MaxCommandFrame))
	if err := dec.Decode(&cmd); err != nil {
		if errors.Is(err, io.EOF) {
			return cmd, fmt.Errorf("%w: %w", ErrBadCommand, limits.ErrFrameEmpty)
		}
		return cmd, fmt.Errorf("%w: %v", ErrBadCommand, err)
	}
	return cmd, cmd.Validate()
}

// ParseCommand decodes a complete frame, such as one WebSocket message.
func ParseCommand(frame []byte) (Command, error) {
	if err := limits.ValidateCommandFrame(frame); err != nil {
		return Command{}, fmt.Errorf("%w: %w", ErrBadCommand, err)
	}
	return ReadCommand(bytes.NewReader(frame))
}

// Validate checks the required fields and argument limits.
func (c Command) Validate() error {
	if c.Target == "" {
		return fmt.Errorf("%w: missing target", ErrBadCommand)
	}
	if c.Cmd == "" {
		return fmt.Errorf("%w: missing cmd", ErrBadCommand)
	}
	if err := limits.ValidateOpts(c.Opts); err != nil {
		return fmt.Errorf("%w: %w", ErrBadCommand, err)
	}
	return nil
}

// Encode renders r as one newline-terminated JSON line.
func (r Response) Encode() []byte {
	data, err := json.Marshal(r)
	if err != nil {
		data, _ = json.Marshal(Response{Ret: RetInternal, Msg: "unencodable response"})
	}
	return append(data, '\n')
}

// WriteResponse writes r to w as one line.
func WriteResponse(w io.Writer, r Response) error {
	_, err := w.Write(r.Encode())
	return err
}
