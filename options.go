package stm8boot

import (
	"github.com/sirupsen/logrus"
)

// DefaultRetries matches the retry count of the stm8flash tool.
const DefaultRetries = 10

// Config holds the session configuration.
type Config struct {
	// Init sends the INIT byte before GET. Disable it to resume a
	// session whose INIT already went through at the same baud rate.
	Init bool

	// Catalogue supplies the erase/write routine uploaded during the
	// handshake.
	Catalogue *Catalogue

	// Logger receives protocol and workflow logging.
	Logger logrus.FieldLogger

	// ProgressCallback is called after every chunk of ReadImage and
	// WriteImage (optional).
	ProgressCallback ProgressCallback

	// BusyLimit bounds the number of BUSY responses tolerated while
	// waiting for a write or erase to finish. Zero waits forever.
	BusyLimit int

	// Verify reads back every written chunk.
	Verify bool

	// Retries is the number of verify failures tolerated per chunk.
	Retries int

	// ErasePages is the page count passed to Erase before writing.
	ErasePages byte
}

func defaultConfig() Config {
	return Config{
		Init:       true,
		Logger:     logrus.StandardLogger(),
		Retries:    DefaultRetries,
		ErasePages: STM8_ERASE_ALL,
	}
}

// Option is a functional option for configuring a Session.
type Option func(*Config)

// WithInit controls whether the INIT byte is sent.
func WithInit(init bool) Option {
	return func(c *Config) {
		c.Init = init
	}
}

// WithCatalogue sets the routine catalogue used during the handshake.
func WithCatalogue(cat *Catalogue) Option {
	return func(c *Config) {
		c.Catalogue = cat
	}
}

// WithLogger sets the logger.
//
// Example:
//
//	s, err := stm8boot.Handshake(port, stm8boot.WithLogger(logrus.WithField("port", name)))
func WithLogger(logger logrus.FieldLogger) Option {
	return func(c *Config) {
		if logger != nil {
			c.Logger = logger
		}
	}
}

// WithProgressCallback sets a callback to track ReadImage and WriteImage.
func WithProgressCallback(callback ProgressCallback) Option {
	return func(c *Config) {
		c.ProgressCallback = callback
	}
}

// WithBusyLimit bounds BUSY polling. Negative values are ignored.
func WithBusyLimit(limit int) Option {
	return func(c *Config) {
		if limit >= 0 {
			c.BusyLimit = limit
		}
	}
}

// WithVerify enables read-back verification in WriteImage.
func WithVerify(verify bool) Option {
	return func(c *Config) {
		c.Verify = verify
	}
}

// WithRetries sets the number of verify failures tolerated per chunk.
func WithRetries(retries int) Option {
	return func(c *Config) {
		if retries >= 0 {
			c.Retries = retries
		}
	}
}

// WithErasePages restricts the erase performed by WriteImage. Pass
// STM8_ERASE_ALL for a full erase.
func WithErasePages(pages byte) Option {
	return func(c *Config) {
		c.ErasePages = pages
	}
}

// Phase names reported in Progress.
const (
	PhaseReading = "reading"
	PhaseErasing = "erasing"
	PhaseWriting = "writing"
)

// Progress describes how far ReadImage or WriteImage has come.
type Progress struct {
	Phase    string
	Address  uint32
	Done     int
	Total    int
	Verified bool
}

// Percentage is Done relative to Total, 0 to 100.
func (p Progress) Percentage() float64 {
	if p.Total == 0 {
		return 100
	}
	return 100 * float64(p.Done) / float64(p.Total)
}

// ProgressCallback should return quickly, it runs inline with the
// programming loop.
type ProgressCallback func(Progress)
