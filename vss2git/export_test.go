package main

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func changeset(index int, comment string, revs ...*Revision) *Changeset {
	for i, rev := range revs {
		rev.index = i + 1
	}
	return &Changeset{
		stamp:     epoch.Add(time.Duration(index) * time.Minute),
		user:      "John Smith",
		comment:   comment,
		revisions: revs,
		index:     index,
	}
}

func TestExportCommitsWithSynthesizedAuthor(t *testing.T) {
	assert := assert.New(t)
	fx := newFixture(t, nil)
	fx.history.put("F", 1, "hello\n")
	history := []*Changeset{
		changeset(1, "first import",
			structural(actADD, proj("R", ""), proj("P", "P")),
			&Revision{kind: actADD, item: proj("P", "P"), target: file("F", "hello.txt"), version: 1}),
	}

	require.NoError(t, fx.x.run(context.Background(), history))
	assert.Equal([]string{"init", "stage", "commit"}, fx.vcs.ops)
	require.Len(t, fx.vcs.commits, 1)
	c := fx.vcs.commits[0]
	assert.Equal("John Smith", c.author)
	assert.Equal("john.smith@example.com", c.address)
	assert.Equal("first import", c.message)
	assert.True(c.when.Equal(history[0].stamp))
	assert.Equal("hello\n", readText(t, fx.path("P", "hello.txt")))
	assert.EqualValues(1, fx.x.stats.count("changesets"))
	assert.EqualValues(2, fx.x.stats.count("revisions"))
	assert.EqualValues(1, fx.x.stats.count("commits"))
}

func TestExportUsesAuthorMapAndDefaultComment(t *testing.T) {
	assert := assert.New(t)
	fx := newFixture(t, nil)
	require.NoError(t, fx.x.authors.read(strings.NewReader("john smith = Johann Schmidt <js@corp.example>\n")))
	fx.x.defaultComment = "(none)"
	fx.history.put("F", 1, "x\n")
	history := []*Changeset{
		changeset(1, "  ",
			&Revision{kind: actADD, item: proj("R", ""), target: file("F", "x"), version: 1}),
	}

	require.NoError(t, fx.x.run(context.Background(), history))
	require.Len(t, fx.vcs.commits, 1)
	assert.Equal("Johann Schmidt", fx.vcs.commits[0].author)
	assert.Equal("js@corp.example", fx.vcs.commits[0].address)
	assert.Equal("(none)", fx.vcs.commits[0].message)
}

func TestEmptyProjectChangesetHasNoCommit(t *testing.T) {
	fx := newFixture(t, nil)
	history := []*Changeset{
		changeset(1, "make dirs", structural(actADD, proj("R", ""), proj("P", "P"))),
	}
	require.NoError(t, fx.x.run(context.Background(), history))
	assert.Empty(t, fx.vcs.commits)
	assert.False(t, fx.vcs.did("stage"))
	assert.EqualValues(t, 1, fx.x.stats.count("changesets"))
}

func TestUnchangedStageHasNoCommit(t *testing.T) {
	fx := newFixture(t, nil)
	fx.history.put("F", 1, "x\n")
	fx.vcs.unchanged = true
	history := []*Changeset{
		changeset(1, "",
			&Revision{kind: actADD, item: proj("R", ""), target: file("F", "x"), version: 1}),
	}
	require.NoError(t, fx.x.run(context.Background(), history))
	assert.True(t, fx.vcs.did("stage"))
	assert.Empty(t, fx.vcs.commits)
}

func TestLabelTagsTheChangesetCommit(t *testing.T) {
	assert := assert.New(t)
	fx := newFixture(t, nil)
	fx.history.put("F", 1, "one\n")
	fx.history.put("F", 2, "two\n")
	label := &Revision{kind: actLABEL, item: proj("R", ""), label: "Release 1.0", user: "John Smith", stamp: epoch}
	history := []*Changeset{
		changeset(1, "add",
			&Revision{kind: actADD, item: proj("R", ""), target: file("F", "f"), version: 1}),
		changeset(2, "edit and label", edit(file("F", "f"), 2), label),
	}

	require.NoError(t, fx.x.run(context.Background(), history))
	require.Len(t, fx.vcs.tags, 1)
	tag := fx.vcs.tags[0]
	assert.Equal("Release_1.0", tag.name)
	assert.Equal("Release 1.0", tag.message)
	assert.Equal(2, tag.head)
	assert.Equal([]string{"init", "stage", "commit", "stage", "commit", "tag Release_1.0"}, fx.vcs.ops)
	assert.EqualValues(1, fx.x.stats.count("tags"))
}

func TestLabelWithoutHeadIsSkipped(t *testing.T) {
	fx := newFixture(t, nil)
	label := &Revision{kind: actLABEL, item: proj("R", ""), label: "early"}
	require.NoError(t, fx.x.run(context.Background(), []*Changeset{changeset(1, "", label)}))
	assert.Empty(t, fx.vcs.tags)
}

func TestAbortStopsExport(t *testing.T) {
	assert := assert.New(t)
	decider := &scriptedDecider{answers: []disposition{dispAbort}}
	fx := newFixture(t, decider)
	fx.history.put("F", 1, "one\n")
	fx.history.put("G", 1, "g\n")
	fx.history.failNext("F", 1, 1)
	history := []*Changeset{
		changeset(1, "bad",
			&Revision{kind: actADD, item: proj("R", ""), target: file("F", "f"), version: 1}),
		changeset(2, "never",
			&Revision{kind: actADD, item: proj("R", ""), target: file("G", "g"), version: 1}),
	}

	err := fx.x.run(context.Background(), history)
	assert.True(errors.Is(err, errAborted))
	assert.Empty(fx.vcs.commits)
	assert.NoFileExists(fx.path("g"))
	assert.EqualValues(0, fx.x.stats.count("changesets"))
}

func TestCancelledExportReplaysNothing(t *testing.T) {
	fx := newFixture(t, nil)
	fx.history.put("F", 1, "one\n")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	history := []*Changeset{
		changeset(1, "",
			&Revision{kind: actADD, item: proj("R", ""), target: file("F", "f"), version: 1}),
	}
	assert.Equal(t, errAborted, fx.x.run(ctx, history))
	assert.NoFileExists(t, fx.path("f"))
	assert.Equal(t, 0, fx.history.lookups)
}

func TestIgnorePolicyCountsFailures(t *testing.T) {
	assert := assert.New(t)
	fx := newFixture(t, policyDecider{1, dispIgnore})
	fx.history.put("F", 1, "one\n")
	fx.history.put("G", 1, "g\n")
	fx.history.failNext("F", 1, 5)
	history := []*Changeset{
		changeset(1, "",
			&Revision{kind: actADD, item: proj("R", ""), target: file("F", "f"), version: 1},
			&Revision{kind: actADD, item: proj("R", ""), target: file("G", "g"), version: 1}),
	}
	require.NoError(t, fx.x.run(context.Background(), history))
	assert.EqualValues(1, fx.x.stats.count("ignored"))
	assert.NoFileExists(fx.path("f"))
	assert.FileExists(fx.path("g"))
	assert.Len(fx.vcs.commits, 1)
	assert.Contains(fx.x.stats.String(), "1 ignored errors")
}

func TestReplayCollectsLabels(t *testing.T) {
	fx := newFixture(t, nil)
	cs := changeset(1, "",
		&Revision{kind: actLABEL, item: proj("R", ""), label: "a"},
		&Revision{kind: actLABEL, item: proj("R", ""), label: "b"})
	needsCommit, labels, err := replayChangeset(context.Background(), fx.x.dispatcher, cs)
	require.NoError(t, err)
	assert.False(t, needsCommit)
	require.Len(t, labels, 2)
	assert.Equal(t, "b", labels[1].label)
}

func TestSanitizeTagName(t *testing.T) {
	assert := assert.New(t)
	assert.Equal("Build_42", sanitizeTagName("Build 42"))
	assert.Equal("a_b", sanitizeTagName("a..b"))
	assert.Equal("what_", sanitizeTagName("what?"))
	assert.Equal("rel", sanitizeTagName("-rel.lock"))
	assert.Equal("label", sanitizeTagName("  "))
	assert.Equal("x_y", sanitizeTagName("x~^:y"))
	assert.Equal("v1/x", sanitizeTagName("v1.lock/x"))
	assert.Equal("hidden/tag", sanitizeTagName(".hidden/tag."))
	assert.Equal("a/b", sanitizeTagName("a//b/"))
	assert.Equal("rel/lock", sanitizeTagName("rel/.lock"))
	assert.Equal("x", sanitizeTagName("x.lock.lock"))
	assert.Equal("label", sanitizeTagName("/./"))
}

func TestTagNamesAreUnique(t *testing.T) {
	fx := newFixture(t, nil)
	assert.Equal(t, "v1", fx.x.tagName("v1"))
	assert.Equal(t, "v1_2", fx.x.tagName("v1"))
	assert.Equal(t, "v1_3", fx.x.tagName("v1"))
	assert.Equal(t, "v1_2_2", fx.x.tagName("v1_2"))
}

func TestRunLogRecordsTheRun(t *testing.T) {
	var buf bytes.Buffer
	fx := newFixture(t, policyDecider{0, dispIgnore})
	rl := newRunLog(&buf)
	fx.x = newExporter(exportConfig{
		history: fx.history,
		vcs:     fx.vcs,
		mapper:  fx.mapper,
		decider: policyDecider{0, dispIgnore},
		domain:  "example.com",
		runlog:  rl,
	})
	fx.history.put("F", 1, "one\n")
	fx.history.failNext("F", 1, 1)
	history := []*Changeset{
		changeset(1, "",
			&Revision{kind: actADD, item: proj("R", ""), target: file("F", "f"), version: 1}),
		changeset(2, "",
			&Revision{kind: actRECOVER, item: proj("R", ""), target: file("F", "f"), version: 1}),
	}
	require.NoError(t, fx.x.run(context.Background(), history))

	out := buf.String()
	assert.Contains(t, out, `msg=changeset`)
	assert.Contains(t, out, `decision=ignore`)
	assert.Contains(t, out, `msg=failed`)
	assert.Contains(t, out, `xxh3=`)
	assert.Contains(t, out, `msg=commit`)
	assert.Contains(t, out, `msg="export complete"`)
}
