package daemon

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/mil-ad/kbdctl/internal/protocol"
)

// Ready is the line a daemon prints before accepting requests.
const Ready = "Daemon started"

// Serve answers newline-delimited JSON requests from r on w until an exit
// command has been handled or r is closed.
func Serve(d Daemon, r io.Reader, w io.Writer) error {
	if _, err := fmt.Fprintln(w, Ready); err != nil {
		return fmt.Errorf("write ready line: %w", err)
	}

	in := bufio.NewReader(r)
	enc := json.NewEncoder(w)
	for {
		line, err := in.ReadBytes('\n')
		if errors.Is(err, io.EOF) && len(line) == 0 {
			return nil
		}
		if err != nil && !errors.Is(err, io.EOF) {
			return fmt.Errorf("read request: %w", err)
		}

		cmd, err := protocol.DecodeRequest(line)
		if err != nil {
			return err
		}

		var resp protocol.Response
		value, err := Dispatch(d, cmd)
		if err != nil {
			resp = protocol.Fail(cmd, Kind(err), err.Error())
		} else if resp, err = protocol.OK(cmd, value); err != nil {
			resp = protocol.Fail(cmd, protocol.KindOther, err.Error())
		}
		if err := enc.Encode(resp); err != nil {
			return fmt.Errorf("write response: %w", err)
		}

		if _, ok := cmd.(protocol.Exit); ok {
			return nil
		}
	}
}
