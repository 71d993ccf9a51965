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

// Package vfslog provides the structured logger used throughout the
// VFS core and its cmd/vfsctl front end: a package-level *slog.Logger
// built from a slog.Handler (text or JSON) writing at the minimum
// severity given in Options.Level, fixed when the logger is built,
// with "severity" as the level key
// instead of slog's default "level". File output rotation uses
// lumberjack.
package vfslog

import (
	"io"
	"log/slog"
	"os"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Format selects the on-disk encoding of log records.
type Format int

const (
	FormatText Format = iota
	FormatJSON
)

// Options configures New.
type Options struct {
	Format Format
	Level  slog.Level

	// Filename, if non-empty, directs output to a rotated file instead
	// of stderr.
	Filename   string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

const severityKey = "severity"

// renameLevelToSeverity rewrites slog's default "level" attribute key
// to "severity".
func renameLevelToSeverity(groups []string, a slog.Attr) slog.Attr {
	if len(groups) == 0 && a.Key == slog.LevelKey {
		a.Key = severityKey
	}
	return a
}

// New builds a logger per opts.
func New(opts Options) *slog.Logger {
	var w io.Writer = os.Stderr
	if opts.Filename != "" {
		w = &lumberjack.Logger{
			Filename:   opts.Filename,
			MaxSize:    firstNonZero(opts.MaxSizeMB, 100),
			MaxBackups: opts.MaxBackups,
			MaxAge:     opts.MaxAgeDays,
			Compress:   true,
		}
	}

	handlerOpts := &slog.HandlerOptions{
		Level:       opts.Level,
		ReplaceAttr: renameLevelToSeverity,
	}

	var handler slog.Handler
	if opts.Format == FormatJSON {
		handler = slog.NewJSONHandler(w, handlerOpts)
	} else {
		handler = slog.NewTextHandler(w, handlerOpts)
	}
	return slog.New(handler)
}

func firstNonZero(v, def int) int {
	if v == 0 {
		return def
	}
	return v
}

// Default is a logger suitable for use before a command's own flags
// have selected a configuration, writing text at INFO to stderr.
var Default = New(Options{Format: FormatText, Level: slog.LevelInfo})
