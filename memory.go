// Copyright 2017 OpenChirp. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package stm8boot

import (
	"github.com/sirupsen/logrus"
)

// ReadMemory reads count bytes starting at address. count must be
// between 1 and ReadMaxCount.
func (s *Session) ReadMemory(address uint32, count int) ([]byte, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	return s.readMemory(address, count)
}

func (s *Session) readMemory(address uint32, count int) ([]byte, error) {
	if count < 1 || count > ReadMaxCount {
		return nil, ErrBadArguments
	}
	cmd := s.cmd.ReadMemory
	s.log.WithFields(logrus.Fields{"address": address, "count": count}).Debug("read memory")

	if err := s.sendCommand(cmd); err != nil {
		return nil, err
	}
	if err := s.ch.send(encodeAddress(address)...); err != nil {
		return nil, err
	}
	if err := s.expectAck(cmd, "address"); err != nil {
		return nil, err
	}

	n := byte(count - 1)
	if err := s.ch.send(n, n^0xFF); err != nil {
		return nil, err
	}
	if err := s.expectAck(cmd, "length"); err != nil {
		return nil, err
	}
	return s.ch.read(count)
}

// WriteMemory writes data at address. data must hold between 1 and
// WriteMaxCount bytes.
func (s *Session) WriteMemory(address uint32, data []byte) error {
	if err := s.ready(); err != nil {
		return err
	}
	return s.writeMemory(address, data)
}

func (s *Session) writeMemory(address uint32, data []byte) error {
	if len(data) < 1 || len(data) > WriteMaxCount {
		return ErrBadArguments
	}
	cmd := s.cmd.WriteMemory
	s.log.WithFields(logrus.Fields{"address": address, "count": len(data)}).Debug("write memory")

	if err := s.sendCommand(cmd); err != nil {
		return err
	}
	if err := s.ch.send(encodeAddress(address)...); err != nil {
		return err
	}
	if err := s.waitAck(cmd, "address"); err != nil {
		return err
	}

	// the checksum covers the length byte and the payload
	n := byte(len(data) - 1)
	cs := n
	for _, b := range data {
		cs ^= b
	}
	frame := make([]byte, 0, len(data)+2)
	frame = append(frame, n)
	frame = append(frame, data...)
	frame = append(frame, cs)
	if err := s.ch.send(frame...); err != nil {
		return err
	}
	return s.waitAck(cmd, "data")
}

// Erase erases the first pages+1 flash pages, or the whole flash when
// pages is STM8_ERASE_ALL.
func (s *Session) Erase(pages byte) error {
	if err := s.ready(); err != nil {
		return err
	}
	cmd := s.cmd.Erase
	s.log.WithField("pages", pages).Debug("erase")

	if err := s.sendCommand(cmd); err != nil {
		return err
	}
	if pages == STM8_ERASE_ALL {
		return s.sendCommand(CommandType(STM8_ERASE_ALL))
	}

	// page indices run from 0 to pages inclusive
	frame := make([]byte, 0, int(pages)+3)
	frame = append(frame, pages)
	cs := pages
	for pg := 0; pg <= int(pages); pg++ {
		frame = append(frame, byte(pg))
		cs ^= byte(pg)
	}
	frame = append(frame, cs)
	if err := s.ch.send(frame...); err != nil {
		return err
	}
	return s.waitAck(cmd, "pages")
}

// Execute jumps to address.
func (s *Session) Execute(address uint32) error {
	if err := s.ready(); err != nil {
		return err
	}
	cmd := s.cmd.Go
	s.log.WithField("address", address).Debug("go")

	if err := s.sendCommand(cmd); err != nil {
		return err
	}
	if err := s.ch.send(encodeAddress(address)...); err != nil {
		return err
	}
	return s.expectAck(cmd, "address")
}

// uploadRoutine copies the erase/write routine into RAM at RoutineAddress.
func (s *Session) uploadRoutine(r Routine) error {
	s.log.WithFields(logrus.Fields{"version": r.Version, "size": len(r.Data)}).Debug("uploading erase/write routine")
	for offset := 0; offset < len(r.Data); {
		n := len(r.Data) - offset
		if n > WriteMaxCount {
			n = WriteMaxCount
		}
		if err := s.writeMemory(RoutineAddress+uint32(offset), r.Data[offset:offset+n]); err != nil {
			return err
		}
		offset += n
	}
	return nil
}
