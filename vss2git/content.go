/*
 * Content writer: materialize historical file revisions in the work tree
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

package main

import (
	"errors"
	"fmt"
	"io"
	"io/ioutil"
	"os"
	"path/filepath"
	"time"

	difflib "github.com/ianbruene/go-difflib/difflib"
	shutil "github.com/termie/go-shutil"
	"github.com/zeebo/xxh3"
)

// Files bigger than this are not diffed in content logging.
const maxDiffSize = 1 << 20

type contentWriter struct {
	history HistorySource
	runlog  *runLog
}

func newContentWriter(history HistorySource, runlog *runLog) *contentWriter {
	return &contentWriter{history: history, runlog: runlog}
}

// writeFile copies revision version of id to dest, creating parent
// directories, then stamps the file with the revision's times. It
// reports false with no error when history holds no bytes for the
// revision; any failure reading or writing content is returned.
func (cw *contentWriter) writeFile(id itemID, version int, dest string) (bool, error) {
	rev, err := cw.history.content(id, version)
	if errors.Is(err, errNoContent) {
		if cw.history.destroyed(id) {
			if logEnable(logCONTENT) {
				logit("%s version %d was destroyed, not writing %s", id, version, dest)
			}
		} else if logEnable(logWARN) {
			logit("%s version %d has no content, not writing %s", id, version, dest)
		}
		cw.runlog.skip("write", dest, version, err)
		return false, nil
	} else if err != nil {
		return false, err
	}

	if err := os.MkdirAll(filepath.Dir(dest), userReadWriteSearchMode); err != nil {
		return false, err
	}
	var before []byte
	if logEnable(logCONTENT) {
		if st, err := os.Stat(dest); err == nil && st.Mode().IsRegular() && st.Size() <= maxDiffSize {
			before, _ = ioutil.ReadFile(dest)
		}
	}
	if rev.backing != "" {
		err = shutil.CopyFile(rev.backing, dest, true)
	} else {
		err = streamTo(rev, dest)
	}
	if err != nil {
		return false, fmt.Errorf("writing %s version %d to %s: %w", id, version, dest, err)
	}

	data, err := ioutil.ReadFile(dest)
	if err != nil {
		return false, err
	}
	if before != nil {
		logContentDiff(dest, version, before, data)
	} else if logEnable(logCONTENT) {
		logit("wrote %s version %d to %s (%d bytes)", id, version, dest, len(data))
	}
	if err := setFileTimes(dest, rev.earliest, rev.stamp); err != nil {
		return false, err
	}
	cw.runlog.wrote(dest, version, contentDigest(data))
	return true, nil
}

func streamTo(rev *contentRevision, dest string) error {
	in, err := rev.open()
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dest)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

func contentDigest(data []byte) string {
	return fmt.Sprintf("%x", xxh3.Hash128(data).Bytes())
}

func logContentDiff(path string, version int, before []byte, after []byte) {
	if len(after) > maxDiffSize {
		logit("overwrote %s with version %d", path, version)
		return
	}
	diff := difflib.UnifiedDiff{
		A:        difflib.SplitLines(string(before)),
		B:        difflib.SplitLines(string(after)),
		FromFile: path,
		ToFile:   fmt.Sprintf("%s (version %d)", path, version),
		Context:  3,
	}
	text, err := difflib.GetUnifiedDiffString(diff)
	if err != nil || text == "" {
		logit("rewrote %s with version %d, no change", path, version)
		return
	}
	logit("overwrote %s with version %d:\n%s", path, version, text)
}

// earliestOf is the time a file should claim to have been created.
func earliestOf(created, modified time.Time) time.Time {
	if created.IsZero() || modified.Before(created) {
		return modified
	}
	return created
}
