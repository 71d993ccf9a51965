// Copyright 2025 Google Inc. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Command vfsctl mounts an in-memory filesystem through the VFS core
// and exposes a small set of subcommands for exercising it: listing a
// directory, reading a file, and so on. It exists to give the core a
// runnable front end.
package main

import (
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/kernelvfs/vfscore/internal/config"
	"github.com/kernelvfs/vfscore/internal/vfslog"
	"github.com/kernelvfs/vfscore/internal/vfsmetrics"
	"github.com/kernelvfs/vfscore/pkg/memfs"
	"github.com/kernelvfs/vfscore/pkg/resolver"
	"github.com/kernelvfs/vfscore/pkg/vfs"
	"github.com/kernelvfs/vfscore/pkg/vnode"
)

var (
	cfgFile string
	cfg     config.Config
	logger  *slog.Logger
	res     *resolver.Resolver
	metrics *vfsmetrics.Handle
)

// track wraps a RunE body with a vfsmetrics observation, recording op
// count, latency, and any returned errno under the command's name. A
// nil metrics handle (the common case: --metric.enabled defaults to
// false) makes this a no-op wrapper.
func track(op string, fn func(cmd *cobra.Command, args []string) error) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		if metrics == nil {
			return fn(cmd, args)
		}
		done := metrics.Track(op)
		err := fn(cmd, args)
		done(err)
		return err
	}
}

var rootCmd = &cobra.Command{
	Use:   "vfsctl",
	Short: "Exercise the kernelvfs VFS core against an in-memory filesystem",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cfgFile != "" {
			viper.SetConfigFile(cfgFile)
			if err := viper.ReadInConfig(); err != nil {
				return fmt.Errorf("reading config file: %w", err)
			}
		}
		var err error
		cfg, err = config.Load()
		if err != nil {
			return err
		}

		level := slog.LevelInfo
		_ = level.UnmarshalText([]byte(cfg.Log.Level))
		format := vfslog.FormatText
		if cfg.Log.Format == "json" {
			format = vfslog.FormatJSON
		}
		logger = vfslog.New(vfslog.Options{Format: format, Level: level, Filename: cfg.Log.File})

		if cfg.Metric.Enabled {
			metrics = vfsmetrics.NewHandle(prometheus.DefaultRegisterer)
			go func() {
				http.Handle("/metrics", promhttp.Handler())
				logger.Error("metrics server exited", "err", http.ListenAndServe(cfg.Metric.Addr, nil))
			}()
		}

		registry := vfs.NewRegistry()
		if err := registry.Register("memfs", memfs.New()); err != nil {
			return err
		}

		ctx := cmd.Context()
		rootVfs, err := vfs.New(ctx, 1, registry, cfg.Mount.Driver, vfs.MountOptions{ReadOnly: cfg.Mount.ReadOnly})
		if err != nil {
			return fmt.Errorf("mounting root: %w", err)
		}
		res = resolver.New(registry, rootVfs)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config-file", "", "Path to a YAML config file.")
	if err := config.BindFlags(rootCmd.PersistentFlags()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	rootCmd.AddCommand(mkdirCmd, lsCmd, catCmd, writeCmd, lnCmd, symlinkCmd, rmCmd, statCmd, mountCmd, unmountCmd)
}

var mountCmd = &cobra.Command{
	Use:   "mount <path>",
	Args:  cobra.ExactArgs(1),
	Short: "Mount a fresh in-memory filesystem onto an existing directory",
	RunE: track("mount", func(cmd *cobra.Command, args []string) error {
		return res.Mount(cmd.Context(), res.Root(), args[0], "memfs", vfs.MountOptions{})
	}),
}

var unmountCmd = &cobra.Command{
	Use:   "unmount <path>",
	Args:  cobra.ExactArgs(1),
	Short: "Unmount the filesystem mounted at path",
	RunE: track("unmount", func(cmd *cobra.Command, args []string) error {
		return res.Unmount(cmd.Context(), res.Root(), args[0])
	}),
}

var mkdirCmd = &cobra.Command{
	Use:   "mkdir <path>",
	Args:  cobra.ExactArgs(1),
	Short: "Create a directory",
	RunE: track("mkdir", func(cmd *cobra.Command, args []string) error {
		_, err := res.Mkdir(cmd.Context(), res.Root(), args[0], 0755)
		return err
	}),
}

var lsCmd = &cobra.Command{
	Use:   "ls <path>",
	Args:  cobra.ExactArgs(1),
	Short: "List a directory",
	RunE: track("ls", func(cmd *cobra.Command, args []string) error {
		entries, err := res.Readdir(cmd.Context(), res.Root(), args[0], 0)
		if err != nil {
			return err
		}
		for _, e := range entries {
			fmt.Println(e.Name)
		}
		return nil
	}),
}

var catCmd = &cobra.Command{
	Use:   "cat <path>",
	Args:  cobra.ExactArgs(1),
	Short: "Print a file's contents",
	RunE: track("cat", func(cmd *cobra.Command, args []string) error {
		ve, err := res.Lookup(cmd.Context(), res.Root(), args[0])
		if err != nil {
			return err
		}
		buf := make([]byte, 4096)
		n, err := ve.Vnode().Read(cmd.Context(), 0, buf)
		if err != nil {
			return err
		}
		_, err = os.Stdout.Write(buf[:n])
		return err
	}),
}

var writeCmd = &cobra.Command{
	Use:   "write <path> <text>",
	Args:  cobra.ExactArgs(2),
	Short: "Create a file and write text to it",
	RunE: track("write", func(cmd *cobra.Command, args []string) error {
		ve, err := res.Create(cmd.Context(), res.Root(), args[0], 0644)
		if err != nil {
			return err
		}
		_, err = ve.Vnode().Write(cmd.Context(), 0, []byte(args[1]))
		return err
	}),
}

var lnCmd = &cobra.Command{
	Use:   "ln <target> <path>",
	Args:  cobra.ExactArgs(2),
	Short: "Create a hard link at path pointing at target",
	RunE: track("ln", func(cmd *cobra.Command, args []string) error {
		return res.Hardlink(cmd.Context(), res.Root(), args[1], args[0])
	}),
}

var symlinkCmd = &cobra.Command{
	Use:   "symlink <target> <path>",
	Args:  cobra.ExactArgs(2),
	Short: "Create a symlink at path pointing at target",
	RunE: track("symlink", func(cmd *cobra.Command, args []string) error {
		_, err := res.Symlink(cmd.Context(), res.Root(), args[1], args[0])
		return err
	}),
}

var rmCmd = &cobra.Command{
	Use:   "rm <path>",
	Args:  cobra.ExactArgs(1),
	Short: "Remove a file or empty directory",
	RunE: track("rm", func(cmd *cobra.Command, args []string) error {
		attr, err := res.Lstat(cmd.Context(), res.Root(), args[0])
		if err != nil {
			return err
		}
		if attr.Type == vnode.TypeDir {
			return res.Rmdir(cmd.Context(), res.Root(), args[0])
		}
		return res.Unlink(cmd.Context(), res.Root(), args[0])
	}),
}

var statCmd = &cobra.Command{
	Use:   "stat <path>",
	Args:  cobra.ExactArgs(1),
	Short: "Print a path's attributes",
	RunE: track("stat", func(cmd *cobra.Command, args []string) error {
		attr, err := res.Stat(cmd.Context(), res.Root(), args[0])
		if err != nil {
			return err
		}
		fmt.Printf("type=%d size=%d nlink=%d mtime=%s\n", attr.Type, attr.Size, attr.Nlink, attr.Mtime)
		return nil
	}),
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
