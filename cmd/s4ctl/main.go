// Copyright 2024 The s4 Authors
// This file is part of s4.
//
// s4 is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// s4 is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with s4. If not, see <http://www.gnu.org/licenses/>.

// Command s4ctl is a small inspection CLI over the public s4 package
// surface: open an existing database and report the counters a
// developer reaches for first. The open is a normal read-write one, so
// closing it runs a final checkpoint that rewrites the snapshot and
// appends to the WAL. It is not part of the core engine.
package main

import (
	"fmt"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/trofi/s4"
)

func main() {
	root := &cobra.Command{
		Use:   "s4ctl",
		Short: "inspect an s4 database",
	}
	root.AddCommand(newStatsCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats <path>",
		Short: "print atom, key, and WAL counters for a database",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := s4.Open(args[0], nil, s4.Exists)
			if err != nil {
				return err
			}
			defer db.Close()

			stats := db.Stats()
			fmt.Printf("strings:     %d\n", stats.StringCount)
			fmt.Printf("ints:        %d\n", stats.IntCount)
			fmt.Printf("keys:        %d\n", stats.KeyCount)
			fmt.Printf("wal written: %s\n", humanize.Bytes(uint64(stats.WALWritePos)))
			fmt.Printf("wal synced:  %s\n", humanize.Bytes(uint64(stats.WALCheckpoint)))
			return nil
		},
	}
}
