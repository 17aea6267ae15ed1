/*
 * Target VCS driver
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

package main

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	shlex "github.com/anmitsu/go-shlex"
	shellquote "github.com/kballard/go-shellquote"
)

// VCSDriver is the set of target-repository operations replay and
// export depend on. Every method blocks until the operation is done.
type VCSDriver interface {
	initialize() error
	stageAll() (bool, error)
	commit(author string, address string, message string, when time.Time) error
	tag(name string, message string, author string, address string, when time.Time) error
	move(src string, dst string) error
	removeRecursive(path string) error
	hasHead() bool
}

// VCS describes how to drive one version-control system from its
// command line. Commands are run inside the repository directory with
// trailing arguments appended.
type VCS struct {
	name         string
	subdirectory string
	initializer  string
	stager       string
	differ       string // exits 1 when the index differs from HEAD
	committer    string // reads the message on stdin
	tagger       string // reads the message on stdin, wants the tag name
	mover        string
	remover      string
	tracked      string // fails unless the path holds tracked content
	header       string // fails unless a commit exists
	notes        string
}

func (vcs VCS) String() string {
	return fmt.Sprintf("         Name: %s\n", vcs.name) +
		fmt.Sprintf(" Subdirectory: %s\n", vcs.subdirectory) +
		fmt.Sprintf("  Initializer: %s\n", vcs.initializer) +
		fmt.Sprintf("       Stager: %s\n", vcs.stager) +
		fmt.Sprintf("    Committer: %s\n", vcs.committer) +
		fmt.Sprintf("       Tagger: %s\n", vcs.tagger) +
		fmt.Sprintf("        Mover: %s\n", vcs.mover) +
		fmt.Sprintf("      Remover: %s\n", vcs.remover) +
		fmt.Sprintf("        Notes: %s\n", vcs.notes)
}

var vcstypes []VCS

func init() {
	vcstypes = []VCS{
		{
			name:         "git",
			subdirectory: ".git",
			initializer:  "git init --quiet",
			stager:       "git add --all",
			differ:       "git diff --cached --quiet",
			committer:    "git commit --quiet --allow-empty-message --no-verify --file=-",
			tagger:       "git tag --annotate --file=-",
			mover:        "git mv --",
			remover:      "git rm -r -f --ignore-unmatch --quiet --",
			tracked:      "git ls-files --error-unmatch --",
			header:       "git rev-parse --verify --quiet HEAD",
			notes:        "Author and committer dates are passed through the environment.",
		},
	}
}

func findVCS(name string) *VCS {
	for i := range vcstypes {
		if vcstypes[i].name == name {
			return &vcstypes[i]
		}
	}
	return nil
}

type gitDriver struct {
	vcs  *VCS
	repo string
}

func newGitDriver(repo string) *gitDriver {
	return &gitDriver{vcs: findVCS("git"), repo: repo}
}

// run executes command with args in the repository, feeding it stdin
// and adding env to the environment.
func (g *gitDriver) run(command string, stdin string, env []string, args ...string) (string, error) {
	words, err := shlex.Split(command, true)
	if err != nil {
		return "", fmt.Errorf("preparing %q for execution: %v", command, err)
	}
	words = append(words, args...)
	if logEnable(logCOMMANDS) {
		logit("executing '%s' in %s", shellquote.Join(words...), g.repo)
	}
	cmd := exec.Command(words[0], words[1:]...)
	cmd.Dir = g.repo
	cmd.Env = append(os.Environ(), env...)
	if stdin != "" {
		cmd.Stdin = strings.NewReader(stdin)
	}
	out, err := cmd.CombinedOutput()
	if err != nil {
		return string(out), &vcsError{shellquote.Join(words...), strings.TrimSpace(string(out)), err}
	}
	return string(out), nil
}

type vcsError struct {
	command string
	output  string
	err     error
}

func (e *vcsError) Error() string {
	if e.output == "" {
		return fmt.Sprintf("executing %q: %v", e.command, e.err)
	}
	return fmt.Sprintf("executing %q: %v: %s", e.command, e.err, e.output)
}

func (e *vcsError) Unwrap() error {
	return e.err
}

func exitStatus(err error) int {
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}

func gitDate(when time.Time) string {
	return fmt.Sprintf("%d +0000", when.Unix())
}

func (g *gitDriver) identity(author string, address string, when time.Time) []string {
	env := []string{
		"GIT_AUTHOR_NAME=" + author,
		"GIT_AUTHOR_EMAIL=" + address,
		"GIT_AUTHOR_DATE=" + gitDate(when),
		"GIT_COMMITTER_DATE=" + gitDate(when),
	}
	name, email := author, address
	if !control.flagOptions["committer-is-author"] {
		name, email = whoami()
	}
	return append(env, "GIT_COMMITTER_NAME="+name, "GIT_COMMITTER_EMAIL="+email)
}

func (g *gitDriver) initialize() error {
	if err := os.MkdirAll(g.repo, userReadWriteSearchMode); err != nil {
		return err
	}
	if isdir(filepath.Join(g.repo, g.vcs.subdirectory)) {
		return nil
	}
	_, err := g.run(g.vcs.initializer, "", nil)
	return err
}

func (g *gitDriver) stageAll() (bool, error) {
	if _, err := g.run(g.vcs.stager, "", nil); err != nil {
		return false, err
	}
	_, err := g.run(g.vcs.differ, "", nil)
	if err == nil {
		return false, nil
	}
	if exitStatus(err) == 1 {
		return true, nil
	}
	return false, err
}

func (g *gitDriver) commit(author string, address string, message string, when time.Time) error {
	_, err := g.run(g.vcs.committer, message, g.identity(author, address, when))
	return err
}

func (g *gitDriver) tag(name string, message string, author string, address string, when time.Time) error {
	// An annotated tag takes its tagger from the committer variables.
	env := []string{
		"GIT_COMMITTER_NAME=" + author,
		"GIT_COMMITTER_EMAIL=" + address,
		"GIT_COMMITTER_DATE=" + gitDate(when),
	}
	if message == "" {
		message = name
	}
	_, err := g.run(g.vcs.tagger, message, env, name)
	return err
}

// move renames src to dst, through the VCS when src holds tracked
// content so the rename is recorded as one.
func (g *gitDriver) move(src string, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), userReadWriteSearchMode); err != nil {
		return err
	}
	if _, err := g.run(g.vcs.tracked, "", nil, src); err != nil {
		if exitStatus(err) < 0 {
			return err
		}
		if logEnable(logVCS) {
			logit("%s is untracked, renaming it directly", src)
		}
		return os.Rename(src, dst)
	}
	_, err := g.run(g.vcs.mover, "", nil, src, dst)
	return err
}

func (g *gitDriver) removeRecursive(path string) error {
	if _, err := g.run(g.vcs.remover, "", nil, path); err != nil {
		return err
	}
	return os.RemoveAll(path)
}

func (g *gitDriver) hasHead() bool {
	_, err := g.run(g.vcs.header, "", nil)
	return err == nil
}
