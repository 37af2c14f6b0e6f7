// Copyright 2017 OpenChirp. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package stm8boot

import (
	"fmt"
	"sort"

	"github.com/pkg/errors"
)

// Device describes the memory layout of one STM8 variant. All end
// addresses are the values listed in the datasheet.
type Device struct {
	Version        byte
	Name           string
	RAMStart       uint32
	RAMEnd         uint32
	FlashStart     uint32
	FlashEnd       uint32
	PagesPerSector uint16
	PageSize       uint16
	OptionStart    uint32
	OptionEnd      uint32
	SystemStart    uint32
	SystemEnd      uint32
}

// FlashSize is the number of bytes the programming loops can reach,
// from FlashStart up to but not including FlashEnd.
func (d *Device) FlashSize() int {
	return int(d.FlashEnd - d.FlashStart)
}

func (d *Device) String() string {
	return fmt.Sprintf("%s (bootloader 0x%02x)", d.Name, d.Version)
}

func medium(version byte) Device {
	return Device{version, "Medium density STM8S 32kB",
		0x000000, 0x0007FF, 0x008000, 0x00FFFF, 1, 512, 0x004800, 0x00487F, 0x004000, 0x0043FF}
}

func high(version byte) Device {
	return Device{version, "High density STM8S 128kB",
		0x000000, 0x0007FF, 0x008000, 0x027FFF, 1, 512, 0x004800, 0x00487F, 0x004000, 0x0047FF}
}

var devices = map[byte]Device{
	0x10: medium(0x10),
	0x12: medium(0x12),
	0x13: medium(0x13),
	0x20: high(0x20),
	0x21: high(0x21),
	0x22: high(0x22),
}

// LookupDevice returns the device reporting the given bootloader version.
func LookupDevice(version byte) (*Device, error) {
	d, ok := devices[version]
	if !ok {
		return nil, errors.Wrapf(ErrUnsupportedDevice, "bootloader version 0x%02x", version)
	}
	return &d, nil
}

// SupportedVersions lists every bootloader version in the device table.
func SupportedVersions() []byte {
	versions := make([]byte, 0, len(devices))
	for v := range devices {
		versions = append(versions, v)
	}
	sort.Slice(versions, func(i, j int) bool { return versions[i] < versions[j] })
	return versions
}
