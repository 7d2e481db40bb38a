package config

import (
	"time"

	"github.com/pingcap/errors"
)

// Duration is a time.Duration written as text ("5s", "250ms") in TOML files
// and on the command line.
type Duration struct {
	time.Duration
}

// NewDuration wraps d.
func NewDuration(d time.Duration) Duration {
	return Duration{Duration: d}
}

func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return errors.Annotatef(err, "parse duration %q", string(text))
	}
	d.Duration = parsed
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// String, Set and Type implement pflag.Value.
func (d *Duration) String() string     { return d.Duration.String() }
func (d *Duration) Set(s string) error { return d.UnmarshalText([]byte(s)) }
func (d *Duration) Type() string       { return "duration" }
