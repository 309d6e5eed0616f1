// Copyright 2024 The mkv Authors. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

// Command mkvdump wraps the mkv library surface behind a small cobra CLI,
// the same shape as the teacher's cmd/pedumper.
package main

import (
	"fmt"
	"os"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/mkvedit/mkv"
)

var version = "dev"

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "mkvdump",
		Short: "Inspect and edit Matroska files in place",
	}
	root.AddCommand(dumpCmd(), spaceCmd(), versionCmd())
	return root
}

func dumpCmd() *cobra.Command {
	var depth int
	cmd := &cobra.Command{
		Use:   "dump <file>",
		Short: "Print the element tree",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := mkv.Open(args[0], nil)
			if err != nil {
				return err
			}
			defer f.Close()
			f.PrintChildren(depth)
			return nil
		},
	}
	cmd.Flags().IntVar(&depth, "depth", 0, "maximum tree depth to print (0 = unlimited)")
	return cmd
}

func spaceCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "space <file>",
		Short: "Print the top-level byte layout",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := mkv.Open(args[0], nil)
			if err != nil {
				return err
			}
			defer f.Close()
			if isatty.IsTerminal(os.Stdout.Fd()) {
				fmt.Println("byte layout:")
			}
			f.PrintSpace()
			return nil
		},
	}
	return cmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the mkvdump version",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Println(version)
			return nil
		},
	}
}
