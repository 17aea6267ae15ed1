//go:build !windows
// +build !windows

/*
 * SPDX-License-Identifier: BSD-2-Clause
 */

package main

import (
	"os"
	"time"
)

// setFileTimes stamps path with a revision's times. There is no
// settable creation time here, so the earliest stamp goes into the
// access time.
func setFileTimes(path string, created time.Time, modified time.Time) error {
	return os.Chtimes(path, earliestOf(created, modified), modified)
}
