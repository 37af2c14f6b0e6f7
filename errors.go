// Copyright 2017 OpenChirp. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package stm8boot

import (
	"errors"
	"fmt"
)

var ErrNoResponse = errors.New("device did not acknowledge INIT")

var ErrUnsupportedDevice = errors.New("device not recognized")

var ErrMissingRoutine = errors.New("no helper routine available for this device")

var ErrDeviceTimeout = errors.New("timed out waiting for device")

var ErrBadArguments = errors.New("the arguments supplied are invalid")

var ErrClosed = errors.New("session is closed")

// TransportError wraps an I/O failure of the underlying byte channel.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("serial %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// Cause lets github.com/pkg/errors walk through the wrapper.
func (e *TransportError) Cause() error { return e.Err }

// ProtocolError indicates the device rejected a command or answered with
// something other than the expected acknowledgment.
type ProtocolError struct {
	Command  CommandType
	Stage    string
	Response Response
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("%v %s: device replied %v", e.Command, e.Stage, e.Response)
}

// SizeExceededError is returned when an image does not fit into flash.
type SizeExceededError struct {
	Size     int
	Capacity int
}

func (e *SizeExceededError) Error() string {
	return fmt.Sprintf("image of %d bytes is larger than the available flash space of %d bytes",
		e.Size, e.Capacity)
}

// VerifyMismatchError reports the first byte that did not read back as
// written after all retries of a chunk were spent.
type VerifyMismatchError struct {
	Address  uint32
	Expected byte
	Actual   byte
}

func (e *VerifyMismatchError) Error() string {
	return fmt.Sprintf("failed to verify at address 0x%08x, expected 0x%02x and found 0x%02x",
		e.Address, e.Expected, e.Actual)
}
