// Copyright 2026 The Cowork Authors
// SPDX-License-Identifier: Apache-2.0

package worker

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
)

// DefaultCandidates lists worker binary names in preference order.
// Platform-suffixed names come from packaged builds; the bare name is
// what development builds produce.
var DefaultCandidates = []string{
	"cowork-sidecar-aarch64-apple-darwin",
	"cowork-sidecar-x86_64-apple-darwin",
	"cowork-sidecar",
}

// Locate finds the worker executable. It checks each candidate name
// under binaryDir first, then under ./binaries relative to the current
// working directory, and finally consults PATH. The first regular file
// found wins.
func Locate(binaryDir string, candidates []string) (string, error) {
	if len(candidates) == 0 {
		candidates = DefaultCandidates
	}
	searchDirs := []string{}
	if binaryDir != "" {
		searchDirs = append(searchDirs, binaryDir)
	}
	searchDirs = append(searchDirs, "binaries")

	tried := []string{}
	for _, dir := range searchDirs {
		for _, name := range candidates {
			path := filepath.Join(dir, name)
			info, err := os.Stat(path)
			if err == nil && info.Mode().IsRegular() {
				return path, nil
			}
			tried = append(tried, path)
		}
	}
	for _, name := range candidates {
		if path, err := exec.LookPath(name); err == nil {
			return path, nil
		}
	}
	return "", fmt.Errorf("%w: tried %v and PATH", ErrWorkerNotFound, tried)
}
