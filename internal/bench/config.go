// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package bench times the derivative callbacks on the tutorial model of size 10ᵖ.
package bench

import (
	"errors"
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
	"github.com/curioloop/madopt/model"
	"github.com/curioloop/madopt/numdiff"
)

// Mode selects how the tutorial rows are represented.
type Mode string

const (
	// ModeExpr builds every row as an expression tape.
	ModeExpr Mode = "expr"
	// ModeSpecialized uses the hand-coded evaluator kinds.
	ModeSpecialized Mode = "specialized"
)

// Config describes one benchmark run.
type Config struct {
	P       int    `toml:"p"`       // model size is 10ᵖ
	Mode    Mode   `toml:"mode"`    // row representation
	Repeat  int    `toml:"repeat"`  // callback rounds to time
	Workers int    `toml:"workers"` // goroutines for the parallel hessian, 0 skips it
	Spy     string `toml:"spy"`     // optional path of the hessian sparsity plot
	Check   Check  `toml:"check"`
	Log     int    `toml:"log"` // model.LogLevel
}

// Check configures the finite difference verification of the derivatives.
type Check struct {
	Enable bool    `toml:"enable"`
	Method string  `toml:"method"` // "forward" or "central"
	Tol    float64 `toml:"tol"`
}

// DefaultConfig returns the configuration used when no file is given.
func DefaultConfig() *Config {
	return &Config{
		P:      3,
		Mode:   ModeExpr,
		Repeat: 10,
		Check:  Check{Method: "central", Tol: 1e-6},
		Log:    int(model.LogNoop),
	}
}

// LoadConfig reads a TOML file on top of DefaultConfig.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}

	c := DefaultConfig()
	if err := toml.Unmarshal(data, c); err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", path, err)
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return c, nil
}

// Validate checks the ranges of every field.
func (c *Config) Validate() error {
	switch {
	case c.P < 1 || c.P > 7:
		return errors.New("p must be in [1,7]")
	case c.Mode != ModeExpr && c.Mode != ModeSpecialized:
		return fmt.Errorf("unknown mode %q", c.Mode)
	case c.Repeat <= 0:
		return errors.New("repeat must greater than 0")
	case c.Workers < 0:
		return errors.New("workers must not less than 0")
	case c.Check.Enable && c.Check.Tol <= 0:
		return errors.New("check tolerance must greater than 0")
	}
	_, err := c.Check.method()
	return err
}

func (c Check) method() (numdiff.Method, error) {
	switch c.Method {
	case "forward":
		return numdiff.Forward, nil
	case "central", "":
		return numdiff.Central, nil
	}
	return 0, fmt.Errorf("unknown difference method %q", c.Method)
}

// N returns the number of variables 10ᵖ.
func (c *Config) N() int {
	n := 1
	for range c.P {
		n *= 10
	}
	return n
}
