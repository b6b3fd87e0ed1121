// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package lineage

import (
	"context"
	"os"
	"os/exec"
	"os/user"
	"runtime"
	"strings"
	"time"
)

// gitTimeout bounds each git invocation during build-info capture.
const gitTimeout = 2 * time.Second

// CaptureBuildInfo snapshots the executing environment.
//
// Description:
//
//	Captures VCS state (commit, branch, dirty flag), the Go toolchain
//	version, hostname, username, and platform. Capture is best-effort:
//	a missing git binary or a non-repository working directory yields
//	"unknown" fields rather than an error, since lineage must still be
//	recordable from stripped-down build environments.
//
// Thread Safety: Safe for concurrent use (no shared state).
func CaptureBuildInfo(ctx context.Context) BuildInfo {
	info := BuildInfo{
		Commit:    gitOutput(ctx, "rev-parse", "HEAD"),
		Branch:    gitOutput(ctx, "rev-parse", "--abbrev-ref", "HEAD"),
		GoVersion: runtime.Version(),
		Platform:  runtime.GOOS + "/" + runtime.GOARCH,
		Timestamp: time.Now().UTC(),
	}

	// Any output from status --porcelain means uncommitted changes.
	if status := gitOutput(ctx, "status", "--porcelain"); status != "unknown" && status != "" {
		info.Dirty = true
	}

	if host, err := os.Hostname(); err == nil {
		info.Hostname = host
	} else {
		info.Hostname = "unknown"
	}

	if u, err := user.Current(); err == nil {
		info.Username = u.Username
	} else {
		info.Username = "unknown"
	}

	return info
}

// gitOutput runs one git command and returns its trimmed stdout, or
// "unknown" on any failure.
func gitOutput(ctx context.Context, args ...string) string {
	ctx, cancel := context.WithTimeout(ctx, gitTimeout)
	defer cancel()

	out, err := exec.CommandContext(ctx, "git", args...).Output()
	if err != nil {
		return "unknown"
	}
	return strings.TrimSpace(string(out))
}
