package main

import (
	"errors"
	"io/ioutil"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleJournal = `#vss2git journal 1
# extracted from a test database
root AAAA $
item AAAA project $
item BAAA project src
item ZAAA project attic
item CAAA file main.c
item DAAA file old.c destroyed
blob CAAA 1 1078142400 blobs/CAAA.1
blob CAAA 2 1078146000 blobs/CAAA.2

changeset 1078142400 "John Smith"
comment Initial import
comment of the tree
add AAAA target=BAAA
add BAAA target=CAAA version=1
end
changeset 1078146000 jsmith
edit CAAA version=2 comment="tweak"
rename BAAA target=BAAA name=source oldname=src
label AAAA label="Release 1.0"
end
changeset 1078149600 jsmith
movefrom AAAA target=BAAA from=ZAAA
moveto ZAAA target=BAAA to=AAAA
pin BAAA target=CAAA version=1
pin BAAA target=CAAA pinned=false
branch BAAA target=EAAA name=fork.c source=CAAA
share AAAA target=CAAA
delete BAAA target=DAAA
archive AAAA target=BAAA path=backup.ssa
end
`

func parseSample(t *testing.T) *Journal {
	t.Helper()
	j, err := readJournal("sample.journal", strings.NewReader(sampleJournal), "")
	require.NoError(t, err)
	return j
}

func TestJournalParse(t *testing.T) {
	assert := assert.New(t)
	j := parseSample(t)

	require.Len(t, j.roots, 1)
	assert.Equal(itemID("AAAA"), j.roots[0].id)
	assert.Equal("$", j.roots[0].path)
	assert.True(j.exists("CAAA"))
	assert.False(j.exists("EAAA"))
	assert.True(j.destroyed("DAAA"))
	assert.False(j.destroyed("CAAA"))
	assert.Equal([]string{"John Smith", "jsmith"}, []string(j.users))

	require.Len(t, j.changesets, 3)
	first := j.changesets[0]
	assert.Equal(1, first.index)
	assert.Equal("John Smith", first.user)
	assert.Equal("Initial import\nof the tree", first.comment)
	assert.Equal(int64(1078142400), first.stamp.Unix())
	require.Len(t, first.revisions, 2)
	add := first.revisions[1]
	assert.Equal(actADD, add.kind)
	assert.Equal(proj("BAAA", "src"), add.item)
	assert.Equal(file("CAAA", "main.c"), add.target)
	assert.Equal(1, add.version)
	assert.Equal(first.comment, add.comment)
	assert.Equal(2, add.index)
}

func TestJournalActionPayloads(t *testing.T) {
	assert := assert.New(t)
	j := parseSample(t)

	second := j.changesets[1].revisions
	assert.Equal(actEDIT, second[0].kind)
	assert.Equal(file("CAAA", "main.c"), second[0].target)
	assert.Equal("tweak", second[0].comment)
	assert.Equal(actRENAME, second[1].kind)
	assert.Equal("source", second[1].target.name)
	assert.Equal("src", second[1].oldName)
	assert.True(second[1].target.project)
	assert.Equal("Release 1.0", second[2].label)

	third := j.changesets[2].revisions
	assert.Equal(itemID("ZAAA"), third[0].peer)
	assert.Equal(actMOVETO, third[1].kind)
	assert.Equal(itemID("AAAA"), third[1].peer)
	assert.Equal(actPIN, third[2].kind)
	assert.Equal(1, third[2].version)
	assert.Equal(actUNPIN, third[3].kind)
	assert.Equal(actBRANCH, third[4].kind)
	assert.Equal(itemID("CAAA"), third[4].source)
	assert.Equal(file("EAAA", "fork.c"), third[4].target)
	assert.Equal(actSHARE, third[5].kind)
	assert.Equal(actDELETE, third[6].kind)
	assert.Equal("backup.ssa", third[7].archive)
}

func TestJournalStats(t *testing.T) {
	st := parseSample(t).stats()
	assert.Equal(t, 3, st.projects)
	assert.Equal(t, 2, st.files)
	assert.Equal(t, 1, st.destroyed)
	assert.Equal(t, 3, st.changesets)
	assert.Equal(t, 13, st.revisions)
	assert.Equal(t, 2, st.byKind[actADD])
	text := st.String()
	assert.Contains(t, text, "3 changesets, 13 revisions")
	assert.Contains(t, text, "       add 2\n")
}

func TestJournalErrors(t *testing.T) {
	for _, tc := range []struct {
		name    string
		text    string
		message string
	}{
		{"magic", "not a journal\n", "line 1: not a history journal"},
		{"unterminated", "#vss2git journal\nchangeset 1 bob\n", "changeset 1 is not terminated"},
		{"outside", "#vss2git journal\nitem A project x\nadd A target=A\n", "line 3: add outside a changeset"},
		{"undeclared", "#vss2git journal\nchangeset 1 bob\nadd Q target=R\nend\n", "line 3: reference to undeclared item Q"},
		{"unknown", "#vss2git journal\nchangeset 1 bob\nfrob A\nend\n", `unknown action "frob"`},
		{"edit version", "#vss2git journal\nitem F file f\nchangeset 1 bob\nedit F\nend\n", "edit without a version"},
		{"no target", "#vss2git journal\nitem P project p\nchangeset 1 bob\ndelete P\nend\n", "delete without a target"},
		{"branch", "#vss2git journal\nitem P project p\nchangeset 1 bob\nbranch P target=G\nend\n", "branch without a source"},
		{"stamp", "#vss2git journal\nchangeset yesterday bob\n", `ill-formed timestamp "yesterday"`},
		{"quote", "#vss2git journal\nitem P project \"p\n", "line 2:"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			j, err := readJournal("bad.journal", strings.NewReader(tc.text), "")
			assert.Nil(t, j)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.message)
		})
	}
}

func TestJournalContent(t *testing.T) {
	assert := assert.New(t)
	dir := t.TempDir()
	require.NoError(t, ioutil.WriteFile(filepath.Join(dir, "v1"), []byte("one\n"), userReadWriteMode))
	text := "#vss2git journal\n" +
		"item F file f\n" +
		"blob F 2 2000 v2\n" +
		"blob F 1 1000 v1\n"
	j, err := readJournal(filepath.Join(dir, "h.journal"), strings.NewReader(text), "")
	require.NoError(t, err)

	rev, err := j.content("F", 1)
	require.NoError(t, err)
	assert.Equal(filepath.Join(dir, "v1"), rev.backing)
	assert.Equal(int64(1000), rev.stamp.Unix())
	assert.Equal(int64(1000), rev.earliest.Unix())
	fp, err := rev.open()
	require.NoError(t, err)
	data, err := ioutil.ReadAll(fp)
	fp.Close()
	require.NoError(t, err)
	assert.Equal("one\n", string(data))

	rev, err = j.content("F", 2)
	require.NoError(t, err)
	assert.Equal(int64(1000), rev.earliest.Unix())

	_, err = j.content("F", 3)
	assert.True(errors.Is(err, errNoContent))
	_, err = j.content("G", 1)
	assert.True(errors.Is(err, errNoContent))
}

func TestJournalTranscodes(t *testing.T) {
	assert := assert.New(t)
	// "Müller" and "café" in windows-1252.
	text := "#vss2git journal\n" +
		"item P project caf\xe9\n" +
		"changeset 1 M\xfcller\n" +
		"comment na\xefve\n" +
		"end\n"
	j, err := readJournal("legacy.journal", strings.NewReader(text), "windows-1252")
	require.NoError(t, err)
	assert.Equal("café", j.items["P"].name)
	assert.Equal("Müller", j.changesets[0].user)
	assert.Equal("naïve", j.changesets[0].comment)

	_, err = readJournal("legacy.journal", strings.NewReader(text), "no-such-charset")
	assert.Error(err)
}
