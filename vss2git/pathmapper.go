/*
 * Identity-to-path bookkeeping for history replay
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

package main

import (
	"path/filepath"
)

// A PathMapper tracks where each versioned item currently lives in the
// working tree. Everything is keyed by physical identity; logical names
// and working paths are recomputed from the containment links on every
// query, so a path is always a pure function of the binding state.
//
// A project has at most one containing project. A file may be bound
// under any number of projects (sharing), and each binding yields its
// own working path. An item is rooted when a chain of containment
// links reaches a project given a working path by setRootPath.
// Unrooted items are still tracked, so that a later recover or move
// can bring a whole subtree back.
//
// Nothing here does I/O.
type PathMapper struct {
	projects map[itemID]*projectNode
	files    map[itemID]*fileNode
}

type projectNode struct {
	id          itemID
	name        string
	parent      *projectNode // nil for roots and for unbound projects
	rootPath    string       // non-empty only on roots
	subprojects *itemSet
	files       *itemSet
}

// fileBinding is one (containing project, logical name) view of a file.
type fileBinding struct {
	project    *projectNode
	name       string
	pinned     bool
	pinVersion int
}

type fileNode struct {
	id       itemID
	version  int
	bindings []*fileBinding
}

// itemState is what a mutating call hands back: the working paths the
// item had before the call and has after it. For files the two lists
// are index-aligned by binding when the call keeps bindings in place.
type itemState struct {
	id        itemID
	project   bool
	name      string
	before    orderedStringSet
	after     orderedStringSet
	hasFiles  bool
	destroyed bool
	version   int
}

// fileTarget is one place a file's content must be written.
type fileTarget struct {
	id      itemID
	project itemID
	path    string
	version int
	pinned  bool
}

// Deepest containment chain we are willing to follow; anything longer
// can only be a loop in corrupt history.
const maxProjectDepth = 1024

func newPathMapper() *PathMapper {
	pm := new(PathMapper)
	pm.projects = make(map[itemID]*projectNode)
	pm.files = make(map[itemID]*fileNode)
	return pm
}

func (pm *PathMapper) getOrCreateProject(id itemID) *projectNode {
	p, ok := pm.projects[id]
	if !ok {
		p = &projectNode{id: id, subprojects: newItemSet(), files: newItemSet()}
		pm.projects[id] = p
	}
	return p
}

func (pm *PathMapper) getOrCreateFile(id itemID) *fileNode {
	f, ok := pm.files[id]
	if !ok {
		f = &fileNode{id: id}
		pm.files[id] = f
	}
	return f
}

func (p *projectNode) path() (string, bool) {
	var names []string
	node := p
	for depth := 0; node != nil; depth++ {
		if node.rootPath != "" {
			path := node.rootPath
			for i := len(names) - 1; i >= 0; i-- {
				path = filepath.Join(path, names[i])
			}
			return path, true
		}
		if depth > maxProjectDepth {
			if logEnable(logWARN) {
				logit("containment loop at project %s", p.id)
			}
			return "", false
		}
		names = append(names, node.name)
		node = node.parent
	}
	return "", false
}

func (pm *PathMapper) containsFiles(p *projectNode, depth int) bool {
	if p.files.Size() > 0 {
		return true
	}
	if depth > maxProjectDepth {
		return false
	}
	for _, child := range p.subprojects.Values() {
		if sub := pm.projects[child]; sub != nil && pm.containsFiles(sub, depth+1) {
			return true
		}
	}
	return false
}

func (pm *PathMapper) link(parent, child *projectNode, name string) {
	if child.parent != nil && child.parent != parent {
		pm.unlink(child)
	}
	child.parent = parent
	child.name = name
	parent.subprojects.Add(child.id)
}

func (pm *PathMapper) unlink(child *projectNode) {
	if parent := child.parent; parent != nil {
		parent.subprojects.Remove(child.id)
	}
	child.parent = nil
}

func (f *fileNode) binding(project *projectNode) *fileBinding {
	for _, b := range f.bindings {
		if b.project == project {
			return b
		}
	}
	return nil
}

func (f *fileNode) unbind(project *projectNode) *fileBinding {
	for i, b := range f.bindings {
		if b.project == project {
			f.bindings = append(f.bindings[:i], f.bindings[i+1:]...)
			project.files.Remove(f.id)
			return b
		}
	}
	return nil
}

func (b *fileBinding) path() (string, bool) {
	dir, ok := b.project.path()
	if !ok {
		return "", false
	}
	return filepath.Join(dir, b.name), true
}

func (b *fileBinding) effectiveVersion(f *fileNode) int {
	if b.pinned {
		return b.pinVersion
	}
	return f.version
}

func (f *fileNode) paths(only *projectNode) orderedStringSet {
	out := newOrderedStringSet()
	for _, b := range f.bindings {
		if only != nil && b.project != only {
			continue
		}
		if path, ok := b.path(); ok {
			out.Add(path)
		}
	}
	return out
}

func (pm *PathMapper) projectState(p *projectNode) *itemState {
	st := &itemState{id: p.id, project: true, name: p.name, hasFiles: pm.containsFiles(p, 0)}
	st.before = newOrderedStringSet()
	st.after = newOrderedStringSet()
	return st
}

func (pm *PathMapper) fileState(f *fileNode, name string) *itemState {
	st := &itemState{id: f.id, name: name, hasFiles: true, version: f.version}
	st.before = newOrderedStringSet()
	st.after = newOrderedStringSet()
	return st
}

// setRootPath makes project a root whose working directory is path.
func (pm *PathMapper) setRootPath(project itemID, path string) {
	p := pm.getOrCreateProject(project)
	pm.unlink(p)
	p.rootPath = path
	if logEnable(logMAPPER) {
		logit("root %s at %s", project, path)
	}
}

// addItem binds target under project. Binding something that is
// already bound there just refreshes its name.
func (pm *PathMapper) addItem(project itemID, target itemName) *itemState {
	parent := pm.getOrCreateProject(project)
	if target.project {
		child := pm.getOrCreateProject(target.id)
		st := pm.projectState(child)
		if path, ok := child.path(); ok {
			st.before.Add(path)
		}
		pm.link(parent, child, target.name)
		if path, ok := child.path(); ok {
			st.after.Add(path)
		}
		st.name = child.name
		st.hasFiles = pm.containsFiles(child, 0)
		if logEnable(logMAPPER) {
			logit("add %s under %s -> %v", target, project, st.after)
		}
		return st
	}
	f := pm.getOrCreateFile(target.id)
	st := pm.fileState(f, target.name)
	b := f.binding(parent)
	if b == nil {
		b = &fileBinding{project: parent, name: target.name}
		f.bindings = append(f.bindings, b)
	} else {
		if path, ok := b.path(); ok {
			st.before.Add(path)
		}
		b.name = target.name
	}
	parent.files.Add(f.id)
	if path, ok := b.path(); ok {
		st.after.Add(path)
	}
	if logEnable(logMAPPER) {
		logit("add %s under %s (%d binding(s)) -> %v", target, project, len(f.bindings), st.after)
	}
	return st
}

// recoverItem rebinds an item that an earlier delete removed. The
// bookkeeping is the same as for addItem; the node kept its children
// and version while it was unbound, so the whole subtree comes back.
func (pm *PathMapper) recoverItem(project itemID, target itemName) *itemState {
	return pm.addItem(project, target)
}

// deleteItem unbinds target from project and reports the paths it had
// there, and whether it had any file beneath it, as of just before.
func (pm *PathMapper) deleteItem(project itemID, target itemName) *itemState {
	parent := pm.getOrCreateProject(project)
	if target.project {
		child := pm.getOrCreateProject(target.id)
		st := pm.projectState(child)
		if child.parent != parent {
			// Already gone from here; nothing to report.
			if logEnable(logMAPPER) {
				logit("delete of %s, not bound under %s", target, project)
			}
			return st
		}
		if path, ok := child.path(); ok {
			st.before.Add(path)
		}
		pm.unlink(child)
		if logEnable(logMAPPER) {
			logit("delete %s from %s, files=%v", target, project, st.hasFiles)
		}
		return st
	}
	f := pm.getOrCreateFile(target.id)
	st := pm.fileState(f, target.name)
	if b := f.binding(parent); b != nil {
		st.name = b.name
		if path, ok := b.path(); ok {
			st.before.Add(path)
		}
		f.unbind(parent)
	}
	if logEnable(logMAPPER) {
		logit("delete %s from %s, %d binding(s) left", target, project, len(f.bindings))
	}
	return st
}

// destroyItem is deleteItem for a permanent removal. The mapper keeps
// no distinction; the flag only travels back to the caller.
func (pm *PathMapper) destroyItem(project itemID, target itemName) *itemState {
	st := pm.deleteItem(project, target)
	st.destroyed = true
	return st
}

// renameItem gives target a new logical name in every binding it has.
func (pm *PathMapper) renameItem(target itemName) *itemState {
	if target.project {
		p := pm.getOrCreateProject(target.id)
		st := pm.projectState(p)
		if path, ok := p.path(); ok {
			st.before.Add(path)
		}
		p.name = target.name
		st.name = target.name
		if path, ok := p.path(); ok {
			st.after.Add(path)
		}
		return st
	}
	f := pm.getOrCreateFile(target.id)
	st := pm.fileState(f, target.name)
	for _, b := range f.bindings {
		before, ok := b.path()
		b.name = target.name
		after, _ := b.path()
		if ok {
			st.before = append(st.before, before)
			st.after = append(st.after, after)
		}
	}
	return st
}

// moveProjectFrom relinks the target project under project. original
// names the project history says it came from; the target is taken
// from wherever it actually is.
func (pm *PathMapper) moveProjectFrom(project itemID, target itemName, original itemID) *itemState {
	parent := pm.getOrCreateProject(project)
	child := pm.getOrCreateProject(target.id)
	st := pm.projectState(child)
	if path, ok := child.path(); ok {
		st.before.Add(path)
	}
	if child.parent != nil && child.parent.id != original && logEnable(logWARN) {
		logit("move of %s from %s, but it was under %s", target, original, child.parent.id)
	}
	name := target.name
	if name == "" {
		name = child.name
	}
	pm.link(parent, child, name)
	if path, ok := child.path(); ok {
		st.after.Add(path)
	}
	st.name = child.name
	return st
}

// pinItem freezes the target's binding under project at version, or at
// the file's current version when version is 0.
func (pm *PathMapper) pinItem(project itemID, target itemID, version int) *itemState {
	parent := pm.getOrCreateProject(project)
	f := pm.getOrCreateFile(target)
	st := pm.fileState(f, "")
	if b := f.binding(parent); b != nil {
		if version <= 0 {
			version = f.version
		}
		b.pinned = true
		b.pinVersion = version
		st.name = b.name
		st.version = version
		if path, ok := b.path(); ok {
			st.before.Add(path)
			st.after.Add(path)
		}
	} else if logEnable(logWARN) {
		logit("pin of %s, not bound under %s", target, project)
	}
	return st
}

// unpinItem releases the binding; its checked-out version falls back to
// the file's current one, reported in the returned state.
func (pm *PathMapper) unpinItem(project itemID, target itemID) *itemState {
	parent := pm.getOrCreateProject(project)
	f := pm.getOrCreateFile(target)
	st := pm.fileState(f, "")
	if b := f.binding(parent); b != nil {
		b.pinned = false
		b.pinVersion = 0
		st.name = b.name
		if path, ok := b.path(); ok {
			st.before.Add(path)
			st.after.Add(path)
		}
	} else if logEnable(logWARN) {
		logit("unpin of %s, not bound under %s", target, project)
	}
	return st
}

// branchFile splits target off source inside project: target becomes a
// new identity starting at source's current version and takes over
// source's binding there. Every other binding of source is untouched.
func (pm *PathMapper) branchFile(project itemID, target itemName, source itemID) *itemState {
	parent := pm.getOrCreateProject(project)
	src := pm.getOrCreateFile(source)
	name := target.name
	if old := src.unbind(parent); old != nil && name == "" {
		name = old.name
	}
	f := pm.getOrCreateFile(target.id)
	f.version = src.version
	if b := f.binding(parent); b != nil {
		b.name = name
	} else {
		f.bindings = append(f.bindings, &fileBinding{project: parent, name: name})
	}
	parent.files.Add(f.id)
	st := pm.fileState(f, name)
	st.after = f.paths(parent)
	st.before = st.after
	return st
}

// setFileVersion records the version now checked out. Pinned bindings
// keep the version they were pinned at.
func (pm *PathMapper) setFileVersion(target itemID, version int) {
	pm.getOrCreateFile(target).version = version
}

func (pm *PathMapper) getFileVersion(target itemID) int {
	if f, ok := pm.files[target]; ok {
		return f.version
	}
	return 0
}

func (pm *PathMapper) getProjectPath(project itemID) (string, bool) {
	if p, ok := pm.projects[project]; ok {
		return p.path()
	}
	return "", false
}

func (pm *PathMapper) isProjectRooted(project itemID) bool {
	_, ok := pm.getProjectPath(project)
	return ok
}

// projectContainsFiles reports whether any file is bound anywhere
// beneath project.
func (pm *PathMapper) projectContainsFiles(project itemID) bool {
	if p, ok := pm.projects[project]; ok {
		return pm.containsFiles(p, 0)
	}
	return false
}

// getFilePaths returns the working paths of a file, all of them or
// only the one under project when project is non-empty.
func (pm *PathMapper) getFilePaths(target itemID, project itemID) orderedStringSet {
	f, ok := pm.files[target]
	if !ok {
		return newOrderedStringSet()
	}
	var only *projectNode
	if project != "" {
		if only, ok = pm.projects[project]; !ok {
			return newOrderedStringSet()
		}
	}
	return f.paths(only)
}

// fileTargets lists the rooted places a file is visible and the version
// each one should show.
func (pm *PathMapper) fileTargets(target itemID, project itemID) []fileTarget {
	f, ok := pm.files[target]
	if !ok {
		return nil
	}
	var out []fileTarget
	for _, b := range f.bindings {
		if project != "" && b.project.id != project {
			continue
		}
		if path, ok := b.path(); ok {
			out = append(out, fileTarget{
				id:      f.id,
				project: b.project.id,
				path:    path,
				version: b.effectiveVersion(f),
				pinned:  b.pinned,
			})
		}
	}
	return out
}

// getAllFiles walks every file bound anywhere beneath project, parents
// before children, giving the version each binding shows. Paths are
// empty when the project is unrooted.
func (pm *PathMapper) getAllFiles(project itemID) []fileTarget {
	p, ok := pm.projects[project]
	if !ok {
		return nil
	}
	var out []fileTarget
	var walk func(*projectNode, int)
	walk = func(node *projectNode, depth int) {
		if depth > maxProjectDepth {
			return
		}
		for _, id := range node.files.Values() {
			f := pm.files[id]
			b := f.binding(node)
			if b == nil {
				continue
			}
			path, _ := b.path()
			out = append(out, fileTarget{
				id:      id,
				project: node.id,
				path:    path,
				version: b.effectiveVersion(f),
				pinned:  b.pinned,
			})
		}
		for _, id := range node.subprojects.Values() {
			if sub := pm.projects[id]; sub != nil {
				walk(sub, depth+1)
			}
		}
	}
	walk(p, 0)
	return out
}
