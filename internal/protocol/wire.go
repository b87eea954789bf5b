package protocol

import (
	"encoding/json"
	"fmt"
)

// Request is one line sent to the daemon process.
type Request struct {
	T string          `json:"t"`
	C json.RawMessage `json:"c,omitempty"`
}

// ErrorKind classifies a failed command so callers on the far side of the
// pipe can still tell failure classes apart.
type ErrorKind string

const (
	KindUnknownBoard ErrorKind = "unknown_board"
	KindUnsupported  ErrorKind = "unsupported"
	KindTimeout      ErrorKind = "timeout"
	KindVerify       ErrorKind = "verify"
	KindProtocol     ErrorKind = "protocol"
	KindIO           ErrorKind = "io"
	KindOther        ErrorKind = "other"
)

// Response is one line sent back by the daemon process. T always echoes the
// request's command name; E is set on failure, otherwise C holds the result.
type Response struct {
	T string          `json:"t"`
	C json.RawMessage `json:"c,omitempty"`
	E string          `json:"e,omitempty"`
	K ErrorKind       `json:"k,omitempty"`
}

// EncodeRequest marshals cmd into a request line without the trailing newline.
func EncodeRequest(cmd Command) ([]byte, error) {
	args, err := json.Marshal(cmd)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", cmd.Name(), err)
	}
	if string(args) == "{}" {
		args = nil
	}
	return json.Marshal(Request{T: cmd.Name(), C: args})
}

func decodeAs[T Command](args json.RawMessage) (Command, error) {
	var cmd T
	if len(args) == 0 {
		return cmd, nil
	}
	if err := json.Unmarshal(args, &cmd); err != nil {
		return nil, fmt.Errorf("decode %s: %w", cmd.Name(), err)
	}
	return cmd, nil
}

var decoders = map[string]func(json.RawMessage) (Command, error){
	ListBoards{}.Name():       decodeAs[ListBoards],
	GetModel{}.Name():         decodeAs[GetModel],
	GetVersion{}.Name():       decodeAs[GetVersion],
	Refresh{}.Name():          decodeAs[Refresh],
	GetKeymap{}.Name():        decodeAs[GetKeymap],
	SetKeymap{}.Name():        decodeAs[SetKeymap],
	GetMatrix{}.Name():        decodeAs[GetMatrix],
	RunBenchmark{}.Name():     decodeAs[RunBenchmark],
	RunNelson{}.Name():        decodeAs[RunNelson],
	GetColor{}.Name():         decodeAs[GetColor],
	SetColor{}.Name():         decodeAs[SetColor],
	GetMaxBrightness{}.Name(): decodeAs[GetMaxBrightness],
	GetBrightness{}.Name():    decodeAs[GetBrightness],
	SetBrightness{}.Name():    decodeAs[SetBrightness],
	GetMode{}.Name():          decodeAs[GetMode],
	SetMode{}.Name():          decodeAs[SetMode],
	LedSave{}.Name():          decodeAs[LedSave],
	SetNoInput{}.Name():       decodeAs[SetNoInput],
	Exit{}.Name():             decodeAs[Exit],
}

// DecodeRequest parses one request line into its command.
func DecodeRequest(line []byte) (Command, error) {
	var req Request
	if err := json.Unmarshal(line, &req); err != nil {
		return nil, fmt.Errorf("invalid request: %w", err)
	}
	decode, ok := decoders[req.T]
	if !ok {
		return nil, fmt.Errorf("unknown command: %q", req.T)
	}
	return decode(req.C)
}

// OK builds a successful response for cmd carrying value.
func OK(cmd Command, value any) (Response, error) {
	resp := Response{T: cmd.Name()}
	if value == nil {
		return resp, nil
	}
	data, err := json.Marshal(value)
	if err != nil {
		return Response{}, fmt.Errorf("encode %s result: %w", cmd.Name(), err)
	}
	resp.C = data
	return resp, nil
}

// Fail builds a failed response for cmd.
func Fail(cmd Command, kind ErrorKind, msg string) Response {
	return Response{T: cmd.Name(), E: msg, K: kind}
}
