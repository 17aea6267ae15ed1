/*
 * Append-only audit log of an export run
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

package main

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

// runLog records every applied action, every skip and every error of
// an export so the resulting history can be audited afterwards. A nil
// *runLog discards everything.
type runLog struct {
	logger    *logrus.Logger
	fp        io.Closer
	changeset int
}

func newRunLog(w io.Writer) *runLog {
	logger := logrus.New()
	logger.Out = w
	logger.SetLevel(logrus.DebugLevel)
	logger.SetFormatter(&logrus.TextFormatter{
		DisableColors:    true,
		FullTimestamp:    true,
		DisableTimestamp: control.flagOptions["testmode"],
	})
	return &runLog{logger: logger}
}

func openRunLog(path string) (*runLog, error) {
	fp, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, userReadWriteMode)
	if err != nil {
		return nil, err
	}
	rl := newRunLog(fp)
	rl.fp = fp
	return rl, nil
}

func (rl *runLog) close() error {
	if rl == nil || rl.fp == nil {
		return nil
	}
	return rl.fp.Close()
}

func (rl *runLog) fields(action string, path string, version int) *logrus.Entry {
	f := logrus.Fields{"changeset": rl.changeset, "action": action}
	if path != "" {
		f["path"] = path
	}
	if version != 0 {
		f["version"] = version
	}
	return rl.logger.WithFields(f)
}

func (rl *runLog) startChangeset(cs *Changeset) {
	if rl == nil {
		return
	}
	rl.changeset = cs.index
	rl.logger.WithFields(logrus.Fields{
		"changeset": cs.index,
		"user":      cs.user,
		"time":      rfc3339(cs.stamp),
		"revisions": len(cs.revisions),
	}).Info("changeset")
}

func (rl *runLog) applied(rev *Revision, path string) {
	if rl == nil {
		return
	}
	rl.fields(rev.kind.String(), path, rev.version).WithField("item", string(rev.target.id)).Info("applied")
}

func (rl *runLog) wrote(path string, version int, digest string) {
	if rl == nil {
		return
	}
	rl.fields("write", path, version).WithField("xxh3", digest).Info("content")
}

func (rl *runLog) skip(action string, path string, version int, err error) {
	if rl == nil {
		return
	}
	entry := rl.fields(action, path, version)
	if err != nil {
		entry = entry.WithError(err)
	}
	entry.Warn("skipped")
}

func (rl *runLog) failure(legend string, attempt int, err error, disp disposition) {
	if rl == nil {
		return
	}
	rl.logger.WithFields(logrus.Fields{
		"changeset": rl.changeset,
		"operation": legend,
		"attempt":   attempt,
		"decision":  disp.String(),
	}).WithError(err).Error("failed")
}

func (rl *runLog) committed(cs *Changeset, author string, address string) {
	if rl == nil {
		return
	}
	rl.logger.WithFields(logrus.Fields{
		"changeset": cs.index,
		"author":    author + " <" + address + ">",
		"time":      rfc3339(cs.stamp),
	}).Info("commit")
}

func (rl *runLog) tagged(name string, label string) {
	if rl == nil {
		return
	}
	rl.logger.WithFields(logrus.Fields{
		"changeset": rl.changeset,
		"tag":       name,
		"label":     label,
	}).Info("tag")
}

func (rl *runLog) summary(stats *exportStats) {
	if rl == nil {
		return
	}
	f := logrus.Fields{}
	for k, v := range stats.snapshot() {
		f[k] = v
	}
	rl.logger.WithFields(f).Info("export complete")
}
