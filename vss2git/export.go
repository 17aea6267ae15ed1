/*
 * Export driver: replay, commit and tag each changeset in turn
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

package main

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	cmap "github.com/orcaman/concurrent-map"
)

var errAborted = errors.New("export aborted")

const defaultCommitComment = "no comment"

// retrier runs single side effects under the operator's failure policy.
type retrier struct {
	decider decider
	runlog  *runLog
	stats   *exportStats
	cancel  context.CancelFunc
}

// attempt runs op until it succeeds or the decider gives up on it. It
// reports whether op succeeded; ignoring a failure is not an error,
// aborting comes back as errAborted.
func (r *retrier) attempt(legend string, op func() error) (bool, error) {
	for n := 1; ; n++ {
		err := op()
		if err == nil {
			return true, nil
		}
		if logEnable(logWARN) {
			logit("%s: %v", legend, err)
		}
		disp := r.decider.decide(legend, n, err)
		r.runlog.failure(legend, n, err, disp)
		switch disp {
		case dispRetry:
			if logEnable(logWARN) {
				logit("retrying %s", legend)
			}
			continue
		case dispIgnore:
			r.stats.incr("ignored")
			return false, nil
		default:
			if r.cancel != nil {
				r.cancel()
			}
			return false, errAborted
		}
	}
}

// exportStats are the run counters. They live in a concurrent map so
// the interpreter can report on an export while the worker updates it.
type exportStats struct {
	counters cmap.ConcurrentMap
	start    time.Time
}

// Counters holding durations, in nanoseconds.
var statTimers = []string{"elapsed", "replay", "vcs"}

var statCounters = []string{"changesets", "revisions", "commits", "tags", "ignored"}

func newExportStats() *exportStats {
	s := &exportStats{counters: cmap.New(), start: time.Now()}
	for _, k := range append(statTimers, statCounters...) {
		s.counters.Set(k, int64(0))
	}
	return s
}

func (s *exportStats) add(key string, n int64) {
	s.counters.Upsert(key, n, func(exist bool, valueInMap interface{}, newValue interface{}) interface{} {
		if !exist {
			return newValue
		}
		return valueInMap.(int64) + newValue.(int64)
	})
}

func (s *exportStats) incr(key string) {
	s.add(key, 1)
}

func (s *exportStats) time(key string, since time.Time) {
	s.add(key, int64(time.Since(since)))
}

func (s *exportStats) count(key string) int64 {
	if v, ok := s.counters.Get(key); ok {
		return v.(int64)
	}
	return 0
}

func (s *exportStats) duration(key string) time.Duration {
	return time.Duration(s.count(key))
}

func (s *exportStats) finish() {
	s.counters.Set("elapsed", int64(time.Since(s.start)))
}

func (s *exportStats) snapshot() map[string]interface{} {
	out := s.counters.Items()
	for _, k := range statTimers {
		out[k] = s.duration(k).Round(time.Millisecond).String()
	}
	return out
}

func (s *exportStats) String() string {
	var out strings.Builder
	if !control.flagOptions["quiet"] {
		fmt.Fprintf(&out, "elapsed %v, replay %v, vcs %v\n",
			s.duration("elapsed").Round(time.Millisecond),
			s.duration("replay").Round(time.Millisecond),
			s.duration("vcs").Round(time.Millisecond))
	}
	fmt.Fprintf(&out, "%d changesets, %d revisions, %d commits, %d tags, %d ignored errors\n",
		s.count("changesets"), s.count("revisions"), s.count("commits"),
		s.count("tags"), s.count("ignored"))
	return out.String()
}

// exporter owns one export run.
type exporter struct {
	vcs            VCSDriver
	mapper         *PathMapper
	dispatcher     *dispatcher
	retry          *retrier
	authors        *authorMap
	domain         string
	defaultComment string
	runlog         *runLog
	stats          *exportStats
	tagnames       map[string]bool
}

type exportConfig struct {
	history        HistorySource
	vcs            VCSDriver
	mapper         *PathMapper
	decider        decider
	authors        *authorMap
	domain         string
	defaultComment string
	runlog         *runLog
}

func newExporter(cfg exportConfig) *exporter {
	x := new(exporter)
	x.vcs = cfg.vcs
	x.mapper = cfg.mapper
	x.authors = cfg.authors
	if x.authors == nil {
		x.authors = newAuthorMap()
	}
	x.domain = cfg.domain
	x.defaultComment = cfg.defaultComment
	if x.defaultComment == "" {
		x.defaultComment = defaultCommitComment
	}
	x.runlog = cfg.runlog
	x.stats = newExportStats()
	d := cfg.decider
	if d == nil {
		d = policyDecider{0, dispAbort}
	}
	x.retry = &retrier{decider: d, runlog: cfg.runlog, stats: x.stats}
	writer := newContentWriter(cfg.history, cfg.runlog)
	x.dispatcher = newDispatcher(cfg.mapper, writer, cfg.vcs, x.retry, cfg.runlog)
	x.tagnames = make(map[string]bool)
	return x
}

// run exports every changeset in order. It stops early only when the
// context is cancelled or the operator aborts, returning errAborted.
func (x *exporter) run(ctx context.Context, changesets []*Changeset) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	x.retry.cancel = cancel
	defer func() {
		x.stats.finish()
		x.runlog.summary(x.stats)
	}()

	if _, err := x.vcsOp("initialize repository", x.vcs.initialize); err != nil {
		return err
	}
	control.baton.startMeter(len(changesets))
	defer control.baton.endMeter()
	for _, cs := range changesets {
		if ctx.Err() != nil {
			return errAborted
		}
		x.runlog.startChangeset(cs)

		start := time.Now()
		needsCommit, labels, err := replayChangeset(ctx, x.dispatcher, cs)
		x.stats.time("replay", start)
		x.stats.add("revisions", int64(len(cs.revisions)))
		if err != nil {
			return err
		}
		if needsCommit {
			if err := x.commit(cs); err != nil {
				return err
			}
		} else if logEnable(logVCS) {
			logit("%s needs no commit", cs)
		}
		for _, label := range labels {
			if ctx.Err() != nil {
				return errAborted
			}
			if err := x.tag(label); err != nil {
				return err
			}
		}
		x.stats.incr("changesets")
		control.baton.advance(cs)
	}
	return nil
}

// vcsOp is a retried VCS call, timed into the vcs counter.
func (x *exporter) vcsOp(legend string, op func() error) (bool, error) {
	start := time.Now()
	defer x.stats.time("vcs", start)
	return x.retry.attempt(legend, op)
}

func (x *exporter) commit(cs *Changeset) error {
	var changed bool
	ok, err := x.vcsOp("stage changeset", func() error {
		var serr error
		changed, serr = x.vcs.stageAll()
		return serr
	})
	if err != nil || !ok {
		return err
	}
	if !changed {
		if logEnable(logVCS) {
			logit("%s changed nothing tracked, no commit", cs)
		}
		x.runlog.skip("commit", "", 0, nil)
		return nil
	}
	author, address := x.authors.resolve(cs.user, x.domain)
	message := cs.comment
	if strings.TrimSpace(message) == "" {
		message = x.defaultComment
	}
	ok, err = x.vcsOp("commit", func() error {
		return x.vcs.commit(author, address, message, cs.stamp)
	})
	if ok {
		x.stats.incr("commits")
		x.runlog.committed(cs, author, address)
		if logEnable(logVCS) {
			logit("committed %s as %s <%s>", cs, author, address)
		}
	}
	return err
}

func (x *exporter) tag(label *Revision) error {
	if !x.vcs.hasHead() {
		if logEnable(logWARN) {
			logit("no commit yet to tag as %q", label.label)
		}
		x.runlog.skip("label", "", 0, errors.New("no commit to tag"))
		return nil
	}
	name := x.tagName(label.label)
	author, address := x.authors.resolve(label.user, x.domain)
	message := label.comment
	if strings.TrimSpace(message) == "" {
		message = label.label
	}
	ok, err := x.vcsOp("tag "+name, func() error {
		return x.vcs.tag(name, message, author, address, label.stamp)
	})
	if ok {
		x.stats.incr("tags")
		x.runlog.tagged(name, label.label)
		if logEnable(logVCS) {
			logit("tagged %q as %s", label.label, name)
		}
	}
	return err
}

var tagUnsafeRE = regexp.MustCompile(`[\x00-\x20\x7f~^:?*\[\\]+`)

// sanitizeTagName turns free label text into a legal tag name.
func sanitizeTagName(label string) string {
	name := tagUnsafeRE.ReplaceAllString(strings.TrimSpace(label), "_")
	for strings.Contains(name, "..") || strings.Contains(name, "@{") {
		name = strings.NewReplacer("..", "_", "@{", "_").Replace(name)
	}
	// Each slash-separated component has to be a legal name on its own.
	var parts []string
	for _, part := range strings.Split(name, "/") {
		part = strings.TrimLeft(part, ".")
		for strings.HasSuffix(part, ".lock") || strings.HasSuffix(part, ".") {
			part = strings.TrimSuffix(strings.TrimSuffix(part, ".lock"), ".")
		}
		if part != "" {
			parts = append(parts, part)
		}
	}
	name = strings.TrimLeft(strings.Join(parts, "/"), "-")
	if name == "" || name == "@" {
		name = "label"
	}
	return name
}

// tagName picks a name for a label not used by any earlier tag of the
// run, appending _2, _3 and so on as needed.
func (x *exporter) tagName(label string) string {
	base := sanitizeTagName(label)
	name := base
	for n := 2; x.tagnames[name]; n++ {
		name = fmt.Sprintf("%s_%d", base, n)
	}
	x.tagnames[name] = true
	return name
}
