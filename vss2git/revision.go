// Revision and changeset records consumed by the replay engine.
//
// SPDX-License-Identifier: BSD-2-Clause

package main

import (
	"fmt"
	"time"
)

// itemID is the physical identity of a versioned item. It never changes
// over the item's lifetime; names and paths are derived from it.
type itemID string

// itemName pairs an identity with the logical name it is known by in
// one action.
type itemName struct {
	id      itemID
	name    string
	project bool
}

func (n itemName) String() string {
	if n.project {
		return fmt.Sprintf("project %q (%s)", n.name, n.id)
	}
	return fmt.Sprintf("file %q (%s)", n.name, n.id)
}

type actionKind uint8

const (
	actNONE actionKind = iota
	actADD
	actSHARE
	actRECOVER
	actDELETE
	actDESTROY
	actRENAME
	actMOVEFROM
	actMOVETO
	actPIN
	actUNPIN
	actBRANCH
	actARCHIVE
	actRESTORE
	actLABEL
	actEDIT
	actCREATE
)

var actionValues = []string{
	"none", "add", "share", "recover", "delete", "destroy", "rename",
	"movefrom", "moveto", "pin", "unpin", "branch", "archive", "restore",
	"label", "edit", "create",
}

func (k actionKind) String() string {
	if int(k) < len(actionValues) {
		return actionValues[k]
	}
	return fmt.Sprintf("action-%d", k)
}

func actionByName(name string) (actionKind, bool) {
	for i, v := range actionValues {
		if v == name && i != int(actNONE) {
			return actionKind(i), true
		}
	}
	return actNONE, false
}

// structural reports whether the action is recorded in a project's
// history and names a child of that project as its target.
func (k actionKind) structural() bool {
	switch k {
	case actADD, actSHARE, actRECOVER, actDELETE, actDESTROY, actRENAME,
		actMOVEFROM, actMOVETO, actPIN, actUNPIN, actBRANCH, actARCHIVE, actRESTORE:
		return true
	}
	return false
}

// Revision is one historical action on one item. The payload fields
// that matter depend on kind:
//
//   rename:    target carries the new name, oldName the previous one
//   movefrom:  peer is the project the target came from
//   moveto:    peer is the project the target went to
//   branch:    source is the identity the target branched from
//   label:     label and comment
//   archive,
//   restore:   archive is the archive file named by the action
//   pin:       version is the version frozen, 0 for the current one
//   edit,
//   create:    version is the content version now checked out
type Revision struct {
	item    itemName
	target  itemName
	kind    actionKind
	oldName string
	peer    itemID
	source  itemID
	label   string
	archive string
	version int
	stamp   time.Time
	user    string
	comment string
	index   int // ordinal in the history, for diagnostics
}

func (rev Revision) String() string {
	out := fmt.Sprintf("<Revision %d: %s", rev.index, rev.kind)
	out += " " + rev.item.String()
	if rev.target.id != "" {
		out += " -> " + rev.target.String()
	}
	if rev.oldName != "" {
		out += fmt.Sprintf(" was %q", rev.oldName)
	}
	if rev.peer != "" {
		out += " peer=" + string(rev.peer)
	}
	if rev.source != "" {
		out += " source=" + string(rev.source)
	}
	if rev.label != "" {
		out += fmt.Sprintf(" label=%q", rev.label)
	}
	if rev.version != 0 {
		out += fmt.Sprintf(" v%d", rev.version)
	}
	return out + ">"
}

// Changeset is an ordered group of revisions committed together.
type Changeset struct {
	stamp     time.Time
	user      string
	comment   string
	revisions []*Revision
	index     int
}

func (cs Changeset) String() string {
	return fmt.Sprintf("<Changeset %d: %s by %s, %d revision(s)>",
		cs.index, rfc3339(cs.stamp), cs.user, len(cs.revisions))
}
