/*
 * Changeset replay
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

package main

import (
	"context"
)

// replayChangeset runs the revisions of one changeset through the
// dispatcher in order. It reports whether any of them needs a commit,
// and hands back the labels met on the way so they can be tagged once
// the commit exists. Cancellation is honored between revisions.
func replayChangeset(ctx context.Context, d *dispatcher, cs *Changeset) (bool, []*Revision, error) {
	d.labels = nil
	needsCommit := false
	for _, rev := range cs.revisions {
		if ctx.Err() != nil {
			return needsCommit, d.labels, errAborted
		}
		changed, err := d.dispatch(rev)
		if err != nil {
			return needsCommit, d.labels, err
		}
		needsCommit = needsCommit || changed
	}
	if logEnable(logREPLAY) {
		logit("%s replayed, commit needed: %v, %d label(s)", cs, needsCommit, len(d.labels))
	}
	return needsCommit, d.labels, nil
}
