// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command madbench times the derivative callbacks of the tutorial model.
//
// Usage:
//
//	madbench -p 4 -mode specialized -workers 8 -spy hess.png
//	madbench -config bench.toml -v
//
// Flags given on the command line override the values of the config file.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"

	"github.com/curioloop/madopt/internal/bench"
	"github.com/curioloop/madopt/model"
)

func main() {
	c, err := parse(os.Args[1:])
	if errors.Is(err, flag.ErrHelp) {
		return
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	logger := &model.Logger{Level: model.LogLevel(c.Log), Msg: os.Stderr, Out: os.Stderr}
	r, err := bench.Run(ctx, c, logger)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	r.Print(os.Stdout)
	if len(r.Mismatches) > 0 {
		os.Exit(1)
	}
}

// parse loads the config file named by -config, or the defaults,
// and applies the flags explicitly set in args on top of it.
func parse(args []string) (*bench.Config, error) {
	fs := flag.NewFlagSet("madbench", flag.ContinueOnError)
	config := fs.String("config", "", "TOML config file")
	p := fs.Int("p", 3, "model size is 10^p")
	mode := fs.String("mode", string(bench.ModeExpr), "row representation: expr or specialized")
	repeat := fs.Int("repeat", 10, "callback rounds to time")
	workers := fs.Int("workers", 0, "goroutines for the parallel hessian, 0 skips it")
	spy := fs.String("spy", "", "write the hessian sparsity plot to this file")
	check := fs.Bool("check", false, "verify derivatives by finite differences")
	verbose := fs.Bool("v", false, "log model construction")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	c := bench.DefaultConfig()
	if *config != "" {
		var err error
		if c, err = bench.LoadConfig(*config); err != nil {
			return nil, err
		}
	}
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "p":
			c.P = *p
		case "mode":
			c.Mode = bench.Mode(*mode)
		case "repeat":
			c.Repeat = *repeat
		case "workers":
			c.Workers = *workers
		case "spy":
			c.Spy = *spy
		case "check":
			c.Check.Enable = *check
		case "v":
			if *verbose {
				c.Log = int(model.LogTrace)
			}
		}
	})
	return c, c.Validate()
}
