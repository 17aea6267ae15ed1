/*
 * Revision dispatch: turn one historical action into work-tree changes
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

package main

import (
	"os"
)

// dispatcher applies revisions to the path mapper and the work tree.
// The mapper is mutated exactly once per revision; each filesystem or
// VCS side effect then goes through the retrier on its own, so a retry
// repeats only the operation that failed.
type dispatcher struct {
	mapper *PathMapper
	writer *contentWriter
	vcs    VCSDriver
	retry  *retrier
	runlog *runLog
	labels []*Revision
}

func newDispatcher(mapper *PathMapper, writer *contentWriter, vcs VCSDriver, retry *retrier, runlog *runLog) *dispatcher {
	return &dispatcher{mapper: mapper, writer: writer, vcs: vcs, retry: retry, runlog: runlog}
}

// dispatch applies one revision and reports whether it changed
// anything a commit should capture. The only error is errAborted.
func (d *dispatcher) dispatch(rev *Revision) (bool, error) {
	if logEnable(logREPLAY) {
		logit("replaying %s", rev)
	}
	if rev.kind.structural() {
		if _, ok := d.mapper.getProjectPath(rev.item.id); !ok && logEnable(logREPLAY) {
			logit("%s is not rooted, bookkeeping only", rev.item)
		}
	}

	switch rev.kind {
	case actADD, actSHARE, actRECOVER:
		if rev.kind == actRECOVER {
			d.mapper.recoverItem(rev.item.id, rev.target)
		} else {
			d.mapper.addItem(rev.item.id, rev.target)
		}
		if rev.target.project {
			return d.writeProject(rev.target.id)
		}
		if d.mapper.getFileVersion(rev.target.id) == 0 {
			version := rev.version
			if version == 0 {
				version = 1
			}
			d.mapper.setFileVersion(rev.target.id, version)
		}
		return d.writeFileTargets(rev, rev.target.id, rev.item.id, false)

	case actDELETE, actDESTROY:
		var st *itemState
		if rev.kind == actDESTROY {
			st = d.mapper.destroyItem(rev.item.id, rev.target)
		} else {
			st = d.mapper.deleteItem(rev.item.id, rev.target)
		}
		return d.remove(rev, st)

	case actRENAME:
		st := d.mapper.renameItem(rev.target)
		if logEnable(logREPLAY) && rev.oldName != "" {
			logit("renaming %q to %q", rev.oldName, rev.target.name)
		}
		return d.rename(rev, st)

	case actMOVEFROM:
		st := d.mapper.moveProjectFrom(rev.item.id, rev.target, rev.peer)
		return d.moveFrom(rev, st)

	case actMOVETO:
		// The matching move-from does the work.
		if logEnable(logREPLAY) {
			logit("%s moved to %s, waiting for the move-from", rev.target, rev.peer)
		}
		d.runlog.applied(rev, "")
		return false, nil

	case actPIN:
		st := d.mapper.pinItem(rev.item.id, rev.target.id, rev.version)
		if logEnable(logREPLAY) {
			logit("pinned %s at version %d in %v", rev.target, st.version, st.after)
		}
		d.runlog.applied(rev, firstPath(st.after))
		return false, nil

	case actUNPIN:
		d.mapper.unpinItem(rev.item.id, rev.target.id)
		return d.writeFileTargets(rev, rev.target.id, rev.item.id, false)

	case actBRANCH:
		st := d.mapper.branchFile(rev.item.id, rev.target, rev.source)
		if logEnable(logREPLAY) {
			logit("branched %s from %s at version %d", rev.target, rev.source, st.version)
		}
		d.runlog.applied(rev, firstPath(st.after))
		return false, nil

	case actARCHIVE, actRESTORE:
		if logEnable(logREPLAY) {
			logit("%s of %s (%s) is not replayed", rev.kind, rev.target, rev.archive)
		}
		d.runlog.skip(rev.kind.String(), rev.archive, 0, nil)
		return false, nil

	case actLABEL:
		d.labels = append(d.labels, rev)
		return false, nil

	case actEDIT, actCREATE:
		d.mapper.setFileVersion(rev.target.id, rev.version)
		return d.writeFileTargets(rev, rev.target.id, "", true)

	default:
		panic(throw("internal", "unhandled action %s in %s", rev.kind, rev))
	}
}

func firstPath(paths orderedStringSet) string {
	if len(paths) == 0 {
		return ""
	}
	return paths[0]
}

// writeFile writes one version of a file to one place. A missing
// revision is not a change.
func (d *dispatcher) writeFile(id itemID, version int, path string) (bool, error) {
	var written bool
	ok, err := d.retry.attempt("write "+path, func() error {
		var werr error
		written, werr = d.writer.writeFile(id, version, path)
		return werr
	})
	return ok && written, err
}

// writeFileTargets writes a file wherever it is visible, or only under
// project when that is given. Pinned bindings are left alone when
// skipPinned is set.
func (d *dispatcher) writeFileTargets(rev *Revision, id itemID, project itemID, skipPinned bool) (bool, error) {
	targets := d.mapper.fileTargets(id, project)
	if len(targets) == 0 && logEnable(logREPLAY) {
		logit("%s has no rooted path, nothing written", id)
	}
	needsCommit := false
	for _, t := range targets {
		if skipPinned && t.pinned {
			if logEnable(logREPLAY) {
				logit("%s is pinned at version %d, not writing", t.path, t.version)
			}
			continue
		}
		written, err := d.writeFile(id, t.version, t.path)
		if err != nil {
			return needsCommit, err
		}
		if written {
			d.runlog.applied(rev, t.path)
		}
		needsCommit = needsCommit || written
	}
	return needsCommit, nil
}

// writeProject materializes a project and every file beneath it.
func (d *dispatcher) writeProject(project itemID) (bool, error) {
	path, ok := d.mapper.getProjectPath(project)
	if !ok {
		return false, nil
	}
	if _, err := d.retry.attempt("create "+path, func() error {
		return os.MkdirAll(path, userReadWriteSearchMode)
	}); err != nil {
		return false, err
	}
	needsCommit := false
	for _, f := range d.mapper.getAllFiles(project) {
		if f.path == "" || f.version == 0 {
			continue
		}
		written, err := d.writeFile(f.id, f.version, f.path)
		if err != nil {
			return needsCommit, err
		}
		needsCommit = needsCommit || written
	}
	if logEnable(logREPLAY) {
		logit("materialized %s at %s", project, path)
	}
	return needsCommit, nil
}

func (d *dispatcher) remove(rev *Revision, st *itemState) (bool, error) {
	if st.before.Empty() {
		return false, nil
	}
	needsCommit := false
	if st.project {
		path := st.before[0]
		if !exists(path) {
			if logEnable(logREPLAY) {
				logit("%s is already gone", path)
			}
			return false, nil
		}
		if st.hasFiles {
			ok, err := d.retry.attempt("remove "+path, func() error {
				return d.vcs.removeRecursive(path)
			})
			if err != nil {
				return false, err
			}
			needsCommit = ok
		} else {
			// Nothing tracked below, so this is invisible to the VCS.
			if _, err := d.retry.attempt("remove "+path, func() error {
				return os.RemoveAll(path)
			}); err != nil {
				return false, err
			}
		}
		d.runlog.applied(rev, path)
		return needsCommit, nil
	}
	for _, path := range st.before {
		if !exists(path) {
			continue
		}
		ok, err := d.retry.attempt("remove "+path, func() error {
			return os.Remove(path)
		})
		if err != nil {
			return needsCommit, err
		}
		if ok {
			d.runlog.applied(rev, path)
		}
		needsCommit = needsCommit || ok
	}
	return needsCommit, nil
}

// relocate moves src to dst, as a tracked move when there are files
// under it. Only a tracked move needs a commit.
func (d *dispatcher) relocate(rev *Revision, src string, dst string, tracked bool) (bool, error) {
	if tracked {
		ok, err := d.retry.attempt("move "+src, func() error {
			return d.vcs.move(src, dst)
		})
		if ok {
			d.runlog.applied(rev, dst)
		}
		return ok, err
	}
	ok, err := d.retry.attempt("rename "+src, func() error {
		if exists(dst) {
			return os.RemoveAll(src)
		}
		return os.Rename(src, dst)
	})
	if ok {
		d.runlog.applied(rev, dst)
	}
	return false, err
}

func (d *dispatcher) rename(rev *Revision, st *itemState) (bool, error) {
	if st.project {
		if st.before.Empty() || st.after.Empty() {
			return false, nil
		}
		src, dst := st.before[0], st.after[0]
		if src == dst {
			return false, nil
		}
		if !exists(src) {
			// Never materialized here; do it at the new name.
			return d.writeProject(rev.target.id)
		}
		return d.relocate(rev, src, dst, st.hasFiles)
	}
	needsCommit := false
	for i := range st.before {
		src, dst := st.before[i], st.after[i]
		if src == dst {
			continue
		}
		var changed bool
		var err error
		if exists(src) {
			changed, err = d.relocate(rev, src, dst, true)
		} else {
			changed, err = d.writeMissing(rev, dst)
		}
		if err != nil {
			return needsCommit, err
		}
		needsCommit = needsCommit || changed
	}
	return needsCommit, nil
}

// writeMissing materializes the file binding whose path is dst.
func (d *dispatcher) writeMissing(rev *Revision, dst string) (bool, error) {
	for _, t := range d.mapper.fileTargets(rev.target.id, "") {
		if t.path == dst && t.version > 0 {
			written, err := d.writeFile(t.id, t.version, t.path)
			if written {
				d.runlog.applied(rev, t.path)
			}
			return written, err
		}
	}
	return false, nil
}

func (d *dispatcher) moveFrom(rev *Revision, st *itemState) (bool, error) {
	if st.after.Empty() {
		if logEnable(logREPLAY) {
			logit("%s moved into unrooted %s", rev.target, rev.item)
		}
		return false, nil
	}
	dst := st.after[0]
	if !st.before.Empty() && exists(st.before[0]) {
		src := st.before[0]
		if src == dst {
			return false, nil
		}
		return d.relocate(rev, src, dst, st.hasFiles)
	}
	if logEnable(logREPLAY) {
		logit("source of %s is gone, materializing it at %s", rev.target, dst)
	}
	d.runlog.skip("movefrom", firstPath(st.before), 0, nil)
	return d.writeProject(rev.target.id)
}
