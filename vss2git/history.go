/*
 * History journal reader
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	shlex "github.com/anmitsu/go-shlex"
	"golang.org/x/text/encoding"
	ianaindex "golang.org/x/text/encoding/ianaindex"
)

// HistorySource is what replay needs from the legacy repository:
// existence and destruction predicates by identity, and the bytes of a
// given historical revision.
type HistorySource interface {
	exists(id itemID) bool
	destroyed(id itemID) bool
	content(id itemID, version int) (*contentRevision, error)
}

// errNoContent means the history has no bytes for a revision. For a
// destroyed item that is expected and not worth an operator's time.
var errNoContent = errors.New("no content for revision")

// contentRevision locates one revision's bytes. When backing is set the
// bytes live in that file and can be copied directly.
type contentRevision struct {
	id       itemID
	version  int
	stamp    time.Time
	earliest time.Time
	backing  string
	open     func() (io.ReadCloser, error)
}

const journalMagic = "#vss2git journal"

type journalItem struct {
	id        itemID
	name      string
	project   bool
	destroyed bool
}

type journalBlob struct {
	version int
	stamp   time.Time
	file    string
}

type journalRoot struct {
	id   itemID
	path string
}

// Journal is a history source read from the line-oriented interchange
// file an extractor writes out of the legacy database.
type Journal struct {
	source     string
	dir        string
	lineno     int
	items      map[itemID]*journalItem
	blobs      map[itemID][]journalBlob
	roots      []journalRoot
	changesets []*Changeset
	users      orderedStringSet
	decoder    *encoding.Decoder
}

func newJournal(source string) *Journal {
	j := new(Journal)
	j.source = source
	j.dir = filepath.Dir(source)
	j.items = make(map[itemID]*journalItem)
	j.blobs = make(map[itemID][]journalBlob)
	j.users = newOrderedStringSet()
	return j
}

// setEncoding makes journal lines decode from a legacy character set
// as they are read. Identities are ASCII, so only names, users,
// comments and labels are affected.
func (j *Journal) setEncoding(name string) error {
	if name == "" {
		j.decoder = nil
		return nil
	}
	enc, err := ianaindex.IANA.Encoding(name)
	if err != nil {
		return err
	}
	if enc == nil {
		return fmt.Errorf("no codec available for %s", name)
	}
	j.decoder = enc.NewDecoder()
	return nil
}

func (j *Journal) text(s string) string {
	if j.decoder == nil {
		return s
	}
	out, err := j.decoder.Bytes([]byte(s))
	if err != nil {
		j.warn(fmt.Sprintf("decode error during transcoding: %v", err))
		return s
	}
	return string(out)
}

func (j *Journal) error(msg string, args ...interface{}) {
	panic(throw("parse", "%s%s", j.errorLocation(), fmt.Sprintf(msg, args...)))
}

func (j *Journal) errorLocation() string {
	if j.lineno > 0 {
		return fmt.Sprintf("%q, line %d: ", j.source, j.lineno)
	}
	return ""
}

func (j *Journal) warn(msg string) {
	if logEnable(logWARN) {
		logit(j.errorLocation() + msg)
	}
}

func (j *Journal) exists(id itemID) bool {
	_, ok := j.items[id]
	return ok
}

func (j *Journal) destroyed(id itemID) bool {
	if item, ok := j.items[id]; ok {
		return item.destroyed
	}
	return false
}

func (j *Journal) content(id itemID, version int) (*contentRevision, error) {
	blobs := j.blobs[id]
	if len(blobs) == 0 {
		return nil, fmt.Errorf("%s: %w", id, errNoContent)
	}
	var found *journalBlob
	earliest := blobs[0].stamp
	for i := range blobs {
		if blobs[i].stamp.Before(earliest) {
			earliest = blobs[i].stamp
		}
		if blobs[i].version == version {
			found = &blobs[i]
		}
	}
	if found == nil {
		return nil, fmt.Errorf("%s version %d: %w", id, version, errNoContent)
	}
	backing := found.file
	if !filepath.IsAbs(backing) {
		backing = filepath.Join(j.dir, backing)
	}
	return &contentRevision{
		id:       id,
		version:  version,
		stamp:    found.stamp,
		earliest: earliest,
		backing:  backing,
		open: func() (io.ReadCloser, error) {
			return os.Open(backing)
		},
	}, nil
}

func (j *Journal) item(id itemID) *journalItem {
	item, ok := j.items[id]
	if !ok {
		j.error("reference to undeclared item %s", id)
	}
	return item
}

func parseStamp(j *Journal, field string) time.Time {
	secs, err := strconv.ParseInt(field, 10, 64)
	if err != nil {
		j.error("ill-formed timestamp %q", field)
	}
	return time.Unix(secs, 0).UTC()
}

// readJournal parses a whole journal. Parse failures come back as an
// error carrying the file and line.
func readJournal(source string, fp io.Reader, encodingName string) (j *Journal, err error) {
	j = newJournal(source)
	if err = j.setEncoding(encodingName); err != nil {
		return nil, err
	}
	defer func() {
		if e := catch("parse", recover()); e != nil {
			j = nil
			err = e
		}
	}()
	j.parse(fp)
	return j, nil
}

func (j *Journal) parse(fp io.Reader) {
	scanner := bufio.NewScanner(fp)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)
	var current *Changeset
	ordinal := 0
	for scanner.Scan() {
		j.lineno++
		line := strings.TrimSpace(j.text(scanner.Text()))
		if j.lineno == 1 {
			if !strings.HasPrefix(line, journalMagic) {
				j.error("not a history journal")
			}
			continue
		}
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		// Comment text is taken verbatim, not tokenized.
		if strings.HasPrefix(line, "comment ") || line == "comment" {
			if current == nil {
				j.error("comment outside a changeset")
			}
			text := strings.TrimSpace(strings.TrimPrefix(line, "comment"))
			if current.comment != "" {
				current.comment += "\n"
			}
			current.comment += text
			continue
		}
		fields, err := shlex.Split(line, true)
		if err != nil {
			j.error("%v", err)
		}
		switch fields[0] {
		case "root":
			if len(fields) != 3 {
				j.error("root wants an identity and a path")
			}
			j.roots = append(j.roots, journalRoot{itemID(fields[1]), fields[2]})
		case "item":
			if len(fields) < 4 {
				j.error("item wants an identity, a type and a name")
			}
			item := &journalItem{id: itemID(fields[1]), name: fields[3]}
			switch fields[2] {
			case "project":
				item.project = true
			case "file":
			default:
				j.error("unknown item type %q", fields[2])
			}
			for _, flag := range fields[4:] {
				if flag == "destroyed" {
					item.destroyed = true
				} else {
					j.warn(fmt.Sprintf("ignoring unknown item flag %q", flag))
				}
			}
			j.items[item.id] = item
		case "blob":
			if len(fields) != 5 {
				j.error("blob wants an identity, a version, a time and a file")
			}
			version, err := strconv.Atoi(fields[2])
			if err != nil || version < 1 {
				j.error("ill-formed blob version %q", fields[2])
			}
			id := itemID(fields[1])
			j.blobs[id] = append(j.blobs[id], journalBlob{version, parseStamp(j, fields[3]), fields[4]})
		case "changeset":
			if current != nil {
				j.error("changeset opened before the previous one ended")
			}
			if len(fields) != 3 {
				j.error("changeset wants a time and a user")
			}
			user := fields[2]
			current = &Changeset{stamp: parseStamp(j, fields[1]), user: user, index: len(j.changesets) + 1}
			j.users.Add(user)
		case "end":
			if current == nil {
				j.error("end without a changeset")
			}
			j.changesets = append(j.changesets, current)
			current = nil
		default:
			kind, ok := actionByName(fields[0])
			if !ok {
				j.error("unknown action %q", fields[0])
			}
			if current == nil {
				j.error("%s outside a changeset", kind)
			}
			ordinal++
			current.revisions = append(current.revisions, j.parseAction(kind, fields[1:], current, ordinal))
		}
	}
	if err := scanner.Err(); err != nil {
		j.error("%v", err)
	}
	if current != nil {
		j.error("changeset %d is not terminated", current.index)
	}
	for _, cs := range j.changesets {
		for _, rev := range cs.revisions {
			if rev.comment == "" {
				rev.comment = cs.comment
			}
		}
	}
}

func (j *Journal) parseAction(kind actionKind, fields []string, cs *Changeset, ordinal int) *Revision {
	if len(fields) == 0 {
		j.error("%s wants an item identity", kind)
	}
	acting := j.item(itemID(fields[0]))
	rev := &Revision{
		kind:  kind,
		item:  itemName{acting.id, acting.name, acting.project},
		stamp: cs.stamp,
		user:  cs.user,
		index: ordinal,
	}
	keys := make(map[string]string)
	for _, field := range fields[1:] {
		if field == "project" {
			keys["project"] = "true"
			continue
		}
		eq := strings.IndexByte(field, '=')
		if eq <= 0 {
			j.error("ill-formed action field %q", field)
		}
		keys[field[:eq]] = field[eq+1:]
	}
	if target, ok := keys["target"]; ok {
		rev.target.id = itemID(target)
		if item, ok := j.items[rev.target.id]; ok {
			rev.target.name = item.name
			rev.target.project = item.project
		}
	}
	if name, ok := keys["name"]; ok {
		rev.target.name = name
	}
	if _, ok := keys["project"]; ok {
		rev.target.project = true
	}
	rev.oldName = keys["oldname"]
	rev.label = keys["label"]
	rev.archive = keys["path"]
	rev.comment = keys["comment"]
	if v, ok := keys["version"]; ok {
		version, err := strconv.Atoi(v)
		if err != nil || version < 0 {
			j.error("ill-formed version %q", v)
		}
		rev.version = version
	}
	switch kind {
	case actMOVEFROM:
		rev.peer = itemID(keys["from"])
	case actMOVETO:
		rev.peer = itemID(keys["to"])
	case actBRANCH:
		rev.source = itemID(keys["source"])
		if rev.source == "" {
			j.error("branch without a source")
		}
	case actPIN:
		if keys["pinned"] == "false" {
			rev.kind = actUNPIN
		}
	case actEDIT, actCREATE:
		// These act on the file itself.
		if rev.target.id == "" {
			rev.target = rev.item
		}
		if rev.version == 0 {
			j.error("%s without a version", kind)
		}
	}
	if rev.kind.structural() && rev.target.id == "" {
		j.error("%s without a target", kind)
	}
	if kind == actLABEL && rev.label == "" {
		j.error("label without text")
	}
	return rev
}

// journalStats is what the stats command reports.
type journalStats struct {
	projects, files, destroyed int
	changesets, revisions      int
	byKind                     map[actionKind]int
}

func (j *Journal) stats() journalStats {
	st := journalStats{byKind: make(map[actionKind]int)}
	for _, item := range j.items {
		if item.project {
			st.projects++
		} else {
			st.files++
		}
		if item.destroyed {
			st.destroyed++
		}
	}
	st.changesets = len(j.changesets)
	for _, cs := range j.changesets {
		st.revisions += len(cs.revisions)
		for _, rev := range cs.revisions {
			st.byKind[rev.kind]++
		}
	}
	return st
}

func (st journalStats) String() string {
	var out strings.Builder
	fmt.Fprintf(&out, "%d projects, %d files (%d destroyed)\n", st.projects, st.files, st.destroyed)
	fmt.Fprintf(&out, "%d changesets, %d revisions\n", st.changesets, st.revisions)
	kinds := make([]actionKind, 0, len(st.byKind))
	for k := range st.byKind {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	for _, k := range kinds {
		fmt.Fprintf(&out, "%10s %d\n", k, st.byKind[k])
	}
	return out.String()
}
