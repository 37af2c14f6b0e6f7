// Copyright 2017 OpenChirp. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package stm8boot

import (
	"io"
)

// channel is the byte level view of the serial link in reply mode.
// The bootloader expects every byte it sends to be echoed straight back,
// so readByte does that for all reads; skipping an echo desynchronizes
// the link.
type channel struct {
	port io.ReadWriter
}

func (c *channel) send(data ...byte) error {
	n, err := c.port.Write(data)
	if err != nil {
		return &TransportError{Op: "write", Err: err}
	}
	if n != len(data) {
		return &TransportError{Op: "write", Err: io.ErrShortWrite}
	}
	return nil
}

func (c *channel) readByte() (byte, error) {
	buf := make([]byte, 1)
	if _, err := io.ReadFull(c.port, buf); err != nil {
		return 0, &TransportError{Op: "read", Err: err}
	}
	// reply mode echo
	if err := c.send(buf[0]); err != nil {
		return 0, err
	}
	return buf[0], nil
}

func (c *channel) read(n int) ([]byte, error) {
	buf := make([]byte, n)
	for i := range buf {
		b, err := c.readByte()
		if err != nil {
			return nil, err
		}
		buf[i] = b
	}
	return buf, nil
}
