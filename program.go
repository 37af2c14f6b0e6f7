// Copyright 2017 OpenChirp. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package stm8boot

import (
	"context"
	"io"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// ReadImage reads the whole flash of the device into w.
func (s *Session) ReadImage(ctx context.Context, w io.Writer) error {
	if err := s.ready(); err != nil {
		return err
	}
	return s.ReadRange(ctx, s.dev.FlashStart, s.dev.FlashEnd, w)
}

// ReadRange reads memory from start up to but not including end into w,
// in address order. A failing chunk aborts the read, nothing is retried.
func (s *Session) ReadRange(ctx context.Context, start, end uint32, w io.Writer) error {
	if err := s.ready(); err != nil {
		return err
	}
	if end < start {
		return ErrBadArguments
	}
	total := int(end - start)
	for addr := start; addr < end; {
		if err := ctx.Err(); err != nil {
			return err
		}
		n := ReadMaxCount
		if left := int(end - addr); left < n {
			n = left
		}
		buf, err := s.readMemory(addr, n)
		if err != nil {
			return errors.Wrapf(err, "failed to read memory at address 0x%08x, target read-protected or unresponsive", addr)
		}
		if _, err := w.Write(buf); err != nil {
			return errors.Wrap(err, "write image")
		}
		addr += uint32(n)

		s.reportProgress(Progress{
			Phase:   PhaseReading,
			Address: addr,
			Done:    int(addr - start),
			Total:   total,
		})
	}
	s.log.WithFields(logrus.Fields{"start": start, "end": end}).Info("read done")
	return nil
}

// WriteImage erases the flash and programs image at FlashStart. With
// verification enabled every chunk is read back and rewritten until it
// matches or its retries are spent.
func (s *Session) WriteImage(ctx context.Context, image []byte) error {
	if err := s.ready(); err != nil {
		return err
	}
	capacity := s.dev.FlashSize()
	if len(image) > capacity {
		return &SizeExceededError{Size: len(image), Capacity: capacity}
	}

	s.reportProgress(Progress{Phase: PhaseErasing, Address: s.dev.FlashStart, Total: len(image)})
	if err := s.Erase(s.config.ErasePages); err != nil {
		return errors.Wrap(err, "erase")
	}

	addr := s.dev.FlashStart
	offset := 0
	for addr < s.dev.FlashEnd && offset < len(image) {
		if err := ctx.Err(); err != nil {
			return err
		}
		n := WriteMaxCount
		if left := int(s.dev.FlashEnd - addr); left < n {
			n = left
		}
		if left := len(image) - offset; left < n {
			n = left
		}
		if err := s.writeChunk(addr, image[offset:offset+n]); err != nil {
			return err
		}
		addr += uint32(n)
		offset += n

		s.reportProgress(Progress{
			Phase:    PhaseWriting,
			Address:  addr,
			Done:     offset,
			Total:    len(image),
			Verified: s.config.Verify,
		})
	}
	s.log.WithFields(logrus.Fields{"size": len(image), "verified": s.config.Verify}).Info("write done")
	return nil
}

// writeChunk writes one chunk and, if enabled, verifies it. The failure
// counter belongs to this chunk only.
func (s *Session) writeChunk(addr uint32, chunk []byte) error {
	failed := 0
	for {
		if !isZero(chunk) {
			if err := s.writeMemory(addr, chunk); err != nil {
				return errors.Wrapf(err, "failed to write memory at address 0x%08x", addr)
			}
		}
		if !s.config.Verify {
			return nil
		}

		readback, err := s.readMemory(addr, len(chunk))
		if err != nil {
			return errors.Wrapf(err, "failed to read memory at address 0x%08x", addr)
		}
		i := mismatch(chunk, readback)
		if i < 0 {
			return nil
		}
		failed++
		s.log.WithFields(logrus.Fields{
			"address": addr + uint32(i),
			"attempt": failed,
		}).Warn("verify failed, rewriting chunk")
		if failed >= s.config.Retries {
			return &VerifyMismatchError{
				Address:  addr + uint32(i),
				Expected: chunk[i],
				Actual:   readback[i],
			}
		}
	}
}

// EnableBootloader writes the option bytes that make the ROM bootloader
// run at reset.
func (s *Session) EnableBootloader() error {
	if err := s.ready(); err != nil {
		return err
	}
	addr := s.dev.OptionEnd - 1
	if err := s.writeMemory(addr, []byte{0x55, 0xAA}); err != nil {
		return errors.Wrapf(err, "failed to write option bytes at address 0x%08x", addr)
	}
	return nil
}

func (s *Session) reportProgress(p Progress) {
	if s.config.ProgressCallback != nil {
		s.config.ProgressCallback(p)
	}
}

func isZero(data []byte) bool {
	for _, b := range data {
		if b != 0 {
			return false
		}
	}
	return true
}

// mismatch returns the index of the first differing byte, or -1.
func mismatch(want, got []byte) int {
	for i := range want {
		if want[i] != got[i] {
			return i
		}
	}
	return -1
}
