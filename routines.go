// Copyright 2017 OpenChirp. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package stm8boot

import (
	"io/fs"
	"path"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Routine is the erase/write helper code for one bootloader version.
// ST distributes these as E_W_ROUTINEs per ROM revision; they have to be
// resident in RAM before the ROM bootloader can program flash.
type Routine struct {
	Version byte
	Data    []byte
}

// Catalogue maps bootloader versions to their helper routines.
type Catalogue struct {
	routines map[byte]Routine
}

// NewCatalogue builds a catalogue from raw routine images. The images
// are copied.
func NewCatalogue(images map[byte][]byte) *Catalogue {
	c := &Catalogue{routines: make(map[byte]Routine, len(images))}
	for v, data := range images {
		c.routines[v] = Routine{Version: v, Data: append([]byte(nil), data...)}
	}
	return c
}

// LoadCatalogue reads every "<version>.bin" file at the top of fsys,
// where version is a hexadecimal byte such as "20" or "0x22".
func LoadCatalogue(fsys fs.FS) (*Catalogue, error) {
	matches, err := fs.Glob(fsys, "*.bin")
	if err != nil {
		return nil, errors.Wrap(err, "list routine files")
	}
	images := make(map[byte][]byte, len(matches))
	for _, name := range matches {
		base := strings.TrimSuffix(path.Base(name), ".bin")
		base = strings.TrimPrefix(strings.ToLower(base), "0x")
		v, err := strconv.ParseUint(base, 16, 8)
		if err != nil {
			return nil, errors.Errorf("routine file %q: name is not a bootloader version", name)
		}
		data, err := fs.ReadFile(fsys, name)
		if err != nil {
			return nil, err
		}
		if len(data) == 0 {
			return nil, errors.Errorf("routine file %q is empty", name)
		}
		images[byte(v)] = data
	}
	return NewCatalogue(images), nil
}

// Lookup returns the routine for the given bootloader version.
func (c *Catalogue) Lookup(version byte) (Routine, error) {
	if c != nil {
		if r, ok := c.routines[version]; ok {
			return r, nil
		}
	}
	return Routine{}, errors.Wrapf(ErrMissingRoutine, "bootloader version 0x%02x", version)
}

// Len is the number of routines in the catalogue.
func (c *Catalogue) Len() int {
	if c == nil {
		return 0
	}
	return len(c.routines)
}
