// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"

	"github.com/spf13/pflag"
)

func (a *app) configCommand() *command {
	var path string
	return &command{
		name:    "config",
		summary: "Print the effective stack configuration as YAML",
		description: `Print the stack configuration as YAML. Without --config this is the
built-in default, a starting point for a configuration file. With
--config the file is loaded, validated, and printed with the
environment overrides applied.`,
		usage: "streamctl config [--config FILE]",
		flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("config", pflag.ContinueOnError)
			flagSet.StringVar(&path, "config", "", "configuration file to load (YAML or JSONC)")
			return flagSet
		},
		run: func(args []string) error {
			if len(args) > 0 {
				return fmt.Errorf("config takes no arguments")
			}
			cfg, err := loadConfig(path)
			if err != nil {
				return err
			}
			data, err := cfg.Marshal()
			if err != nil {
				return err
			}
			_, err = a.stdout.Write(data)
			return err
		},
	}
}
