// Copyright 2017 OpenChirp. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package stm8boot provides the low level interface to the STM8 ROM
// UART bootloader running in reply mode, together with the flash read
// and program workflows built on it.
//
// Used the bootloader interface described in the following documents:
// UM0560 STM8 bootloader user manual and
// AN2659 STM8 in-application programming.
package stm8boot

import (
	"io"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Session is a handshaked connection to one device. It is not safe for
// concurrent use.
type Session struct {
	ch      channel
	config  Config
	log     logrus.FieldLogger
	state   State
	version byte
	cmd     Commands
	dev     *Device
}

// Handshake synchronizes with the bootloader on port, identifies the
// device and uploads its erase/write routine.
//
// We assume that port.Read blocks until at least one byte arrives or the
// port reports an error.
func Handshake(port io.ReadWriter, opts ...Option) (*Session, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	s := &Session{
		ch:     channel{port: port},
		config: cfg,
		log:    cfg.Logger,
		state:  StateHandshaking,
	}
	if err := s.handshake(); err != nil {
		s.state = StateFailed
		s.log.WithError(err).Debug("handshake failed")
		return nil, err
	}
	s.state = StateReady
	return s, nil
}

func (s *Session) handshake() error {
	if s.config.Init {
		if err := s.ch.send(STM8_CMD_INIT); err != nil {
			return err
		}
		ack, err := s.ch.readByte()
		if err != nil {
			return err
		}
		if ack != STM8_ACK {
			s.log.WithField("response", Response(ack)).Debug("no ACK for INIT")
			return ErrNoResponse
		}
	}

	if err := s.sendCommand(COMMAND_GET); err != nil {
		return err
	}
	n, err := s.ch.readByte()
	if err != nil {
		return err
	}
	// n+1 bytes follow: the version and the command opcodes
	info, err := s.ch.read(6)
	if err != nil {
		return err
	}
	s.version = info[0]
	s.cmd = Commands{
		Get:         CommandType(info[1]),
		ReadMemory:  CommandType(info[2]),
		Go:          CommandType(info[3]),
		WriteMemory: CommandType(info[4]),
		Erase:       CommandType(info[5]),
	}
	if extra := int(n) + 1 - len(info); extra > 0 {
		s.log.WithField("extra", extra).Warn("bootloader returns more than we understand in the GET command, skipping the unknown bytes")
		if _, err := s.ch.read(extra); err != nil {
			return err
		}
	}
	ack, err := s.ch.readByte()
	if err != nil {
		return err
	}
	if ack != STM8_ACK {
		return &ProtocolError{Command: COMMAND_GET, Stage: "info", Response: Response(ack)}
	}

	s.dev, err = LookupDevice(s.version)
	if err != nil {
		return err
	}
	routine, err := s.config.Catalogue.Lookup(s.version)
	if err != nil {
		return err
	}
	s.log.WithFields(logrus.Fields{
		"version":  s.version,
		"device":   s.dev.Name,
		"commands": s.cmd.String(),
	}).Info("connected to bootloader")

	if err := s.uploadRoutine(routine); err != nil {
		return errors.Wrap(err, "upload erase/write routine")
	}
	return nil
}

// Close ends the session. The port stays open and belongs to the caller.
func (s *Session) Close() error {
	s.state = StateClosed
	return nil
}

// State reports the lifecycle state of the session.
func (s *Session) State() State { return s.state }

// Version is the bootloader version byte reported by the device.
func (s *Session) Version() byte { return s.version }

// Commands returns the opcodes reported by the bootloader.
func (s *Session) Commands() Commands { return s.cmd }

// Device returns the layout of the connected device.
func (s *Session) Device() *Device { return s.dev }

func (s *Session) ready() error {
	if s.state != StateReady {
		return ErrClosed
	}
	return nil
}

// sendCommand sends cmd followed by its complement and expects an ACK.
func (s *Session) sendCommand(cmd CommandType) error {
	s.log.WithField("cmd", cmd).Debug("send command")
	if err := s.ch.send(byte(cmd), byte(cmd)^0xFF); err != nil {
		return err
	}
	return s.expectAck(cmd, "command")
}

// waitAck reads responses until something other than BUSY arrives.
func (s *Session) waitAck(cmd CommandType, stage string) error {
	busy := 0
	for {
		ack, err := s.ch.readByte()
		if err != nil {
			return err
		}
		switch ack {
		case STM8_ACK:
			return nil
		case STM8_BUSY:
			busy++
			if s.config.BusyLimit > 0 && busy > s.config.BusyLimit {
				return ErrDeviceTimeout
			}
		default:
			return &ProtocolError{Command: cmd, Stage: stage, Response: Response(ack)}
		}
	}
}

// expectAck reads exactly one response, which must be an ACK.
func (s *Session) expectAck(cmd CommandType, stage string) error {
	ack, err := s.ch.readByte()
	if err != nil {
		return err
	}
	if ack != STM8_ACK {
		return &ProtocolError{Command: cmd, Stage: stage, Response: Response(ack)}
	}
	return nil
}

// checksum is the XOR of the four big endian bytes of an address.
func checksum(address uint32) byte {
	return byte(address>>24) ^ byte(address>>16) ^ byte(address>>8) ^ byte(address)
}

// encodeAddress returns the big endian address followed by its checksum.
func encodeAddress(address uint32) []byte {
	return []byte{
		byte((address >> 24) & 0xFF),
		byte((address >> 16) & 0xFF),
		byte((address >> 8) & 0xFF),
		byte((address >> 0) & 0xFF),
		checksum(address),
	}
}
