package ec

import (
	"errors"
	"fmt"
)

var (
	// ErrTimeout means every retry passed without a usable reply.
	ErrTimeout = errors.New("ec: timeout")
	// ErrVerify means a frame was short-written or a reply was malformed.
	ErrVerify = errors.New("ec: verify failed")
	// ErrParameter means a caller passed an argument the EC cannot encode.
	ErrParameter = errors.New("ec: invalid parameter")
)

// DataLengthError reports a payload larger than the transport's capacity.
type DataLengthError struct {
	Len int
	Max int
}

func (e *DataLengthError) Error() string {
	return fmt.Sprintf("ec: data length %d exceeds %d", e.Len, e.Max)
}

// ProtocolError carries a non-zero status byte returned by the EC.
type ProtocolError struct {
	Cmd    Cmd
	Status uint8
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("ec: %s failed with status %d", e.Cmd, e.Status)
}

// SignatureError means the probe reply was not an EC signature.
type SignatureError struct {
	Got [2]uint8
}

func (e *SignatureError) Error() string {
	return fmt.Sprintf("ec: invalid signature %02x%02x", e.Got[0], e.Got[1])
}
