// Copyright 2017 OpenChirp. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package firmware turns raw binary and Intel HEX files into flash images
// placed at a base address, and writes read-back images in either format.
package firmware

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/marcinbor85/gohex"
	"github.com/pkg/errors"
)

// Format is the on-disk encoding of an image.
type Format string

const (
	FormatBinary   Format = "binary"
	FormatIntelHex Format = "intel-hex"
)

// hexLineLength is the number of data bytes per Intel HEX record.
const hexLineLength = 16

// Image is a flash image whose first byte belongs at Base.
type Image struct {
	Format Format
	Base   uint32
	Data   []byte
}

// FormatOf guesses the format from the file extension.
func FormatOf(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".hex", ".ihx", ".ihex":
		return FormatIntelHex
	default:
		return FormatBinary
	}
}

// Load reads an image file. Intel HEX is detected by extension unless
// forceBinary is set. Binary files are placed at base; Intel HEX records
// carry their own addresses and must not start below base.
func Load(path string, base uint32, forceBinary bool) (*Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	format := FormatOf(path)
	if forceBinary {
		format = FormatBinary
	}
	return Parse(f, format, base)
}

// Parse reads an image in the given format from r.
func Parse(r io.Reader, format Format, base uint32) (*Image, error) {
	switch format {
	case FormatIntelHex:
		data, err := parseHex(r, base)
		if err != nil {
			return nil, err
		}
		return &Image{Format: format, Base: base, Data: data}, nil
	case FormatBinary:
		data, err := io.ReadAll(r)
		if err != nil {
			return nil, errors.Wrap(err, "read binary image")
		}
		return &Image{Format: format, Base: base, Data: data}, nil
	default:
		return nil, errors.Errorf("unknown image format %q", format)
	}
}

// parseHex flattens the data records into one buffer starting at base.
// Gaps are filled with zeros, which the programmer skips.
func parseHex(r io.Reader, base uint32) ([]byte, error) {
	mem := gohex.NewMemory()
	if err := mem.ParseIntelHex(r); err != nil {
		return nil, errors.Wrap(err, "parse intel hex")
	}
	var end uint32
	for _, seg := range mem.GetDataSegments() {
		if seg.Address < base {
			return nil, errors.Errorf("intel hex segment at 0x%08x lies below flash start 0x%08x", seg.Address, base)
		}
		if e := seg.Address + uint32(len(seg.Data)); e > end {
			end = e
		}
	}
	if end == 0 {
		return []byte{}, nil
	}
	return mem.ToBinary(base, end-base, 0x00), nil
}

// Save writes data read from base to path, as Intel HEX when the
// extension asks for it and raw binary otherwise.
func Save(path string, base uint32, data []byte) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := Encode(f, FormatOf(path), base, data); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// Encode writes data in the given format.
func Encode(w io.Writer, format Format, base uint32, data []byte) error {
	switch format {
	case FormatIntelHex:
		mem := gohex.NewMemory()
		if err := mem.AddBinary(base, data); err != nil {
			return errors.Wrap(err, "build intel hex")
		}
		return mem.DumpIntelHex(w, hexLineLength)
	case FormatBinary:
		_, err := io.Copy(w, bytes.NewReader(data))
		return err
	default:
		return errors.Errorf("unknown image format %q", format)
	}
}
