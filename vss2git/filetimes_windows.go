//go:build windows
// +build windows

/*
 * SPDX-License-Identifier: BSD-2-Clause
 */

package main

import (
	"time"

	"golang.org/x/sys/windows"
)

// setFileTimes stamps path with its creation time and the revision's
// modification time.
func setFileTimes(path string, created time.Time, modified time.Time) error {
	name, err := windows.UTF16PtrFromString(path)
	if err != nil {
		return err
	}
	h, err := windows.CreateFile(name, windows.FILE_WRITE_ATTRIBUTES,
		windows.FILE_SHARE_READ|windows.FILE_SHARE_WRITE, nil,
		windows.OPEN_EXISTING, windows.FILE_FLAG_BACKUP_SEMANTICS, 0)
	if err != nil {
		return err
	}
	defer windows.CloseHandle(h)
	ctime := windows.NsecToFiletime(earliestOf(created, modified).UnixNano())
	mtime := windows.NsecToFiletime(modified.UnixNano())
	return windows.SetFileTime(h, &ctime, &mtime, &mtime)
}
