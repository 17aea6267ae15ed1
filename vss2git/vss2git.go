// vss2git replays the history of a legacy VSS database, as captured in
// a history journal, into a git repository one changeset at a time.
//
// SPDX-License-Identifier: BSD-2-Clause

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	shlex "github.com/anmitsu/go-shlex"
	shellquote "github.com/kballard/go-shellquote"
	kommandant "gitlab.com/ianbruene/kommandant"
)

const version = "1.0"

// Converter tells Kommandant what our local commands are
type Converter struct {
	cmd            *kommandant.Kmdt
	inputIsStdin   bool
	journal        *Journal
	encoding       string
	domain         string
	defaultComment string
	decider        decider
	retrySet       bool
	authors        *authorMap
	runlog         *runLog
	runlogName     string
	worker         *worker
	lastStats      *exportStats
	logHighwater   int
	history        []string
}

func newConverter() *Converter {
	cv := new(Converter)
	cv.inputIsStdin = true
	cv.defaultComment = defaultCommitComment
	cv.decider = policyDecider{0, dispAbort}
	cv.authors = newAuthorMap()
	cv.worker = newWorker()
	return cv
}

// SetCore is a Kommandant housekeeping hook.
func (cv *Converter) SetCore(k *kommandant.Kmdt) {
	cv.cmd = k
	k.OneCmdHook = func(ctx context.Context, line string) (stop bool) {
		defer func(stop *bool) {
			if e := catch("command", recover()); e != nil {
				croak(e.message)
				*stop = false
			}
		}(&stop)
		stop = k.OneCmd_core(ctx, line)
		return
	}
}

// helpOutput clips off the leading \n of a multiline help literal.
func (cv *Converter) helpOutput(help string) {
	if help[0] == '\n' {
		help = help[1:]
	}
	control.baton.printLogString(help)
}

// tokens splits a command line into shell-style words.
func tokens(line string) []string {
	words, err := shlex.Split(line, true)
	if err != nil {
		panic(throw("command", "%v", err))
	}
	return words
}

//
// Housekeeping hooks.
//
var inlineCommentRE = regexp.MustCompile(`\s+#`)

// PreLoop is the hook run before the first command prompt is issued
func (cv *Converter) PreLoop() {
	cv.cmd.SetPrompt("vss2git% ")
}

// PreCmd is the hook issued before each command handler
func (cv *Converter) PreCmd(line string) string {
	trimmed := strings.TrimRight(line, " \t\n")
	if len(trimmed) != 0 {
		cv.history = append(cv.history, trimmed)
	}
	if strings.HasPrefix(line, "#") {
		return ""
	}
	line = inlineCommentRE.Split(line, 2)[0]
	cv.logHighwater = control.logcounter
	control.setAbort(false)
	return line
}

// PostCmd is the hook executed after each command handler
func (cv *Converter) PostCmd(stop bool, lineIn string) bool {
	if control.logcounter > cv.logHighwater {
		respond("%d new log message(s)", control.logcounter-cv.logHighwater)
	}
	control.baton.Sync()
	return stop
}

//
// Command implementation begins here
//

// DoEOF is the handler for end of command input.
func (cv *Converter) DoEOF(lineIn string) bool {
	if cv.inputIsStdin {
		respond("\n")
	}
	return true
}

// HelpQuit says "Shut up, golint!"
func (cv *Converter) HelpQuit() {
	cv.helpOutput("Terminate vss2git cleanly.\n")
}

// DoQuit is the handler for the "quit" command.
func (cv *Converter) DoQuit(lineIn string) bool {
	return true
}

// HelpVersion says "Shut up, golint!"
func (cv *Converter) HelpVersion() {
	cv.helpOutput("Report the program version.\n")
}

// DoVersion is the handler for the "version" command.
func (cv *Converter) DoVersion(lineIn string) bool {
	control.baton.printLogString("vss2git " + version + "\n")
	return false
}

// HelpRead says "Shut up, golint!"
func (cv *Converter) HelpRead() {
	cv.helpOutput(`
Read a history journal, replacing any journal read before. Text fields
are decoded from the character set given by "encoding", if any.
`)
}

// DoRead is the handler for the "read" command.
func (cv *Converter) DoRead(line string) bool {
	args := tokens(line)
	if len(args) != 1 {
		croak("read wants exactly one journal file")
		return false
	}
	fp, err := os.Open(args[0])
	if err != nil {
		croak("journal open failed: %v", err)
		return false
	}
	defer fp.Close()
	j, err := readJournal(args[0], fp, cv.encoding)
	if err != nil {
		croak("%v", err)
		return false
	}
	cv.journal = j
	respond("%d changesets read from %s", len(j.changesets), args[0])
	return false
}

// HelpEncoding says "Shut up, golint!"
func (cv *Converter) HelpEncoding() {
	cv.helpOutput(`
Set the IANA name of the character set journal text fields are written
in, e.g. windows-1252. Takes effect on the next "read". Without an
argument, report the setting.
`)
}

// DoEncoding is the handler for the "encoding" command.
func (cv *Converter) DoEncoding(line string) bool {
	line = strings.TrimSpace(line)
	if line == "" {
		respond("encoding %q", cv.encoding)
		return false
	}
	if err := newJournal("").setEncoding(line); err != nil {
		croak("can't set up codec %s: %v", line, err)
		return false
	}
	cv.encoding = line
	return false
}

// HelpDomain says "Shut up, golint!"
func (cv *Converter) HelpDomain() {
	cv.helpOutput(`
Set the domain used to make addresses for authors the author map does
not cover: "John Smith" becomes john.smith@<domain>.
`)
}

// DoDomain is the handler for the "domain" command.
func (cv *Converter) DoDomain(line string) bool {
	line = strings.TrimSpace(line)
	if line == "" {
		respond("domain %q", cv.domain)
		return false
	}
	cv.domain = strings.TrimPrefix(line, "@")
	return false
}

// HelpComment says "Shut up, golint!"
func (cv *Converter) HelpComment() {
	cv.helpOutput(`
Set the commit message used for changesets that have no comment.
`)
}

// DoComment is the handler for the "comment" command.
func (cv *Converter) DoComment(line string) bool {
	line = strings.TrimSpace(line)
	if line == "" {
		respond("comment %q", cv.defaultComment)
		return false
	}
	cv.defaultComment = line
	return false
}

// HelpAuthors says "Shut up, golint!"
func (cv *Converter) HelpAuthors() {
	cv.helpOutput(`
"authors read <file>" merges a contributor map of lines like

    jsmith = John Smith <john.smith@example.com>

"authors write [<file>]" writes a map covering every user in the loaded
journal, with synthesized addresses for users not yet mapped.
`)
}

// DoAuthors is the handler for the "authors" command.
func (cv *Converter) DoAuthors(line string) bool {
	args := tokens(line)
	if len(args) == 0 {
		croak("authors wants read or write")
		return false
	}
	switch args[0] {
	case "read":
		if len(args) != 2 {
			croak("authors read wants a file")
			return false
		}
		fp, err := os.Open(args[1])
		if err != nil {
			croak("author map open failed: %v", err)
			return false
		}
		defer fp.Close()
		if err := cv.authors.read(fp); err != nil {
			croak("reading author map: %v", err)
		}
	case "write":
		if cv.journal == nil {
			croak("no journal has been read")
			return false
		}
		var out io.Writer = control.baton
		if len(args) > 1 {
			fp, err := os.OpenFile(args[1], os.O_WRONLY|os.O_CREATE|os.O_TRUNC, userReadWriteMode)
			if err != nil {
				croak("author map create failed: %v", err)
				return false
			}
			defer fp.Close()
			out = fp
		}
		cv.authors.writeStub(out, cv.journal.users, cv.domain)
	default:
		croak("authors wants read or write, not %q", args[0])
	}
	return false
}

// HelpRunlog says "Shut up, golint!"
func (cv *Converter) HelpRunlog() {
	cv.helpOutput(`
Name the file exports append their audit log to. Every applied action,
skip and error is recorded there. Without an argument, report it.
`)
}

// DoRunlog is the handler for the "runlog" command.
func (cv *Converter) DoRunlog(line string) bool {
	line = strings.TrimSpace(line)
	if line == "" {
		respond("runlog %q", cv.runlogName)
		return false
	}
	rl, err := openRunLog(line)
	if err != nil {
		croak("run log open failed: %v", err)
		return false
	}
	cv.runlog.close()
	cv.runlog = rl
	cv.runlogName = line
	return false
}

// HelpRetry says "Shut up, golint!"
func (cv *Converter) HelpRetry() {
	cv.helpOutput(`
Choose what happens when a filesystem or VCS operation fails during
an export:

prompt       ask Abort, Retry, Ignore? each time
abort        stop the export (the default)
ignore       skip the operation and carry on
N[,ignore]   retry N times, then abort (or ignore)
`)
}

// DoRetry is the handler for the "retry" command.
func (cv *Converter) DoRetry(line string) bool {
	line = strings.TrimSpace(line)
	if line == "" {
		respond("retry %v", cv.decider)
		return false
	}
	d, err := parseRetryPolicy(line)
	if err != nil {
		croak("%v", err)
		return false
	}
	cv.decider = d
	cv.retrySet = true
	return false
}

// HelpSettings says "Shut up, golint!"
func (cv *Converter) HelpSettings() {
	cv.helpOutput(`
Apply a YAML settings file. Its keys are domain, encoding,
default-comment, retry, authors, runlog, log (a list of +class/-class
entries) and flags (a map of option names to booleans).
`)
}

// DoSettings is the handler for the "settings" command.
func (cv *Converter) DoSettings(line string) bool {
	args := tokens(line)
	if len(args) != 1 {
		croak("settings wants exactly one file")
		return false
	}
	fp, err := os.Open(args[0])
	if err != nil {
		croak("settings open failed: %v", err)
		return false
	}
	defer fp.Close()
	s, err := readSettings(fp)
	if err != nil {
		croak("in %s: %v", args[0], err)
		return false
	}
	cv.applySettings(s)
	return false
}

func (cv *Converter) applySettings(s *settings) {
	if s.Encoding != "" {
		cv.DoEncoding(s.Encoding)
	}
	if s.Domain != "" {
		cv.DoDomain(s.Domain)
	}
	if s.DefaultComment != "" {
		cv.DoComment(s.DefaultComment)
	}
	if s.Retry != "" {
		cv.DoRetry(s.Retry)
	}
	if s.Authors != "" {
		cv.DoAuthors("read " + shellquote.Join(s.Authors))
	}
	if s.RunLog != "" {
		cv.DoRunlog(s.RunLog)
	}
	if len(s.Log) > 0 {
		cv.DoLog(strings.Join(s.Log, " "))
	}
	names := make([]string, 0, len(s.Flags))
	for k := range s.Flags {
		names = append(names, k)
	}
	sort.Strings(names)
	for _, k := range names {
		tweakFlagOptions(k, s.Flags[k])
	}
}

// HelpExport says "Shut up, golint!"
func (cv *Converter) HelpExport() {
	cv.helpOutput(`
Replay the loaded journal into a git repository at the given directory,
creating it if needed. Each journal root is placed at its relative path
under the directory. An interrupt stops the export between actions.
`)
}

// DoExport is the handler for the "export" command.
func (cv *Converter) DoExport(line string) bool {
	args := tokens(line)
	if len(args) != 1 {
		croak("export wants exactly one target directory")
		return false
	}
	if cv.journal == nil {
		croak("no journal has been read")
		return false
	}
	if len(cv.journal.roots) == 0 {
		croak("journal declares no root project")
		return false
	}
	target, err := filepath.Abs(args[0])
	if err != nil {
		croak("%v", err)
		return false
	}
	mapper := newPathMapper()
	for _, root := range cv.journal.roots {
		mapper.setRootPath(root.id, filepath.Join(target, root.path))
	}
	x := newExporter(exportConfig{
		history:        cv.journal,
		vcs:            newGitDriver(target),
		mapper:         mapper,
		decider:        cv.decider,
		authors:        cv.authors,
		domain:         cv.domain,
		defaultComment: cv.defaultComment,
		runlog:         cv.runlog,
	})
	cv.lastStats = x.stats
	changesets := cv.journal.changesets
	done := cv.worker.add("export to "+target, func(ctx context.Context) error {
		return x.run(ctx, changesets)
	})
	err = <-done
	if errors.Is(err, errAborted) {
		croak("export to %s aborted", target)
	} else if err != nil {
		croak("export to %s failed: %v", target, err)
	}
	control.baton.printLogString(x.stats.String())
	return false
}

// HelpStats says "Shut up, golint!"
func (cv *Converter) HelpStats() {
	cv.helpOutput(`
Report counts of items, changesets and actions in the loaded journal,
and the counters of the most recent export.
`)
}

// DoStats is the handler for the "stats" command.
func (cv *Converter) DoStats(line string) bool {
	if cv.journal == nil && cv.lastStats == nil {
		croak("nothing to report")
		return false
	}
	if cv.journal != nil {
		control.baton.printLogString(cv.journal.stats().String())
	}
	if cv.lastStats != nil {
		control.baton.printLogString(cv.lastStats.String())
	}
	return false
}

func isOptionFlag(name string) bool {
	for _, opt := range optionFlags {
		if opt[0] == name {
			return true
		}
	}
	return false
}

// tweakFlagOptions sets each option named in line to val. With no
// names it lists every option.
func tweakFlagOptions(line string, val bool) {
	names := strings.Fields(strings.Replace(line, ",", " ", -1))
	if len(names) == 0 {
		for _, opt := range optionFlags {
			fmt.Fprintf(control.baton, "\t%s = %v\n", opt[0], control.flagOptions[opt[0]])
		}
		return
	}
	for _, name := range names {
		if !isOptionFlag(name) {
			croak("no such option flag as '%s'", name)
			continue
		}
		control.flagOptions[name] = val
		if name == "progress" {
			control.baton.setInteractivity(val)
		}
	}
}

// HelpSet says "Shut up, golint!"
func (cv *Converter) HelpSet() {
	cv.helpOutput(`
Set a boolean option to control vss2git's behavior. With no arguments,
displays the state of all flags. The following flags are defined:

`)
	for _, opt := range optionFlags {
		fmt.Fprintf(control.baton, "%s:\n%s\n", opt[0], opt[1])
	}
}

// DoSet is the handler for the "set" command.
func (cv *Converter) DoSet(line string) bool {
	tweakFlagOptions(line, true)
	return false
}

// HelpClear says "Shut up, golint!"
func (cv *Converter) HelpClear() {
	cv.helpOutput(`
Clear a boolean option. With no arguments, displays the state of all
flags.
`)
}

// CompleteClear is a completion hook across flag options that are set
func (cv *Converter) CompleteClear(text string) []string {
	out := make([]string, 0)
	for _, x := range optionFlags {
		if strings.HasPrefix(x[0], text) && control.flagOptions[x[0]] {
			out = append(out, x[0])
		}
	}
	sort.Strings(out)
	return out
}

// DoClear is the handler for the "clear" command.
func (cv *Converter) DoClear(line string) bool {
	tweakFlagOptions(line, false)
	return false
}

// HelpLog says "Shut up, golint!"
func (cv *Converter) HelpLog() {
	cv.helpOutput(`
Without an argument, list all log message classes, prepending a + if
that class is enabled and a - if not. Otherwise, it expects a list of
+class and -class entries; "all" names every class.

The classes are:
`)
	for _, name := range logClasses() {
		fmt.Fprintln(control.baton, name)
	}
}

// logClasses names the log classes in mask-bit order.
func logClasses() []string {
	names := make([]string, 0, len(logtags))
	for name := range logtags {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		return logtags[names[i]] < logtags[names[j]]
	})
	return names
}

// adjustLogMask applies a list of +class and -class entries to mask.
// Nothing is applied if any entry is bad.
func adjustLogMask(mask uint, line string) (uint, error) {
	for _, tok := range strings.Fields(strings.Replace(line, ",", " ", -1)) {
		class := tok[1:]
		bits, ok := logtags[class]
		if class == "all" {
			bits, ok = ^uint(0), true
		}
		switch {
		case tok[0] != '+' && tok[0] != '-':
			return 0, fmt.Errorf("log entry %q should start with a + or a -", tok)
		case !ok:
			return 0, fmt.Errorf("no such log class as %q", class)
		case tok[0] == '+':
			mask |= bits
		default:
			mask &^= bits
		}
	}
	return mask, nil
}

// logState shows every class as +class or -class, four to a line.
func logState() string {
	var out strings.Builder
	out.WriteString("log")
	for i, name := range logClasses() {
		if i > 0 && i%4 == 0 {
			out.WriteString("\n\t")
		}
		if logEnable(logtags[name]) {
			out.WriteString(" +" + name)
		} else {
			out.WriteString(" -" + name)
		}
	}
	return out.String()
}

// DoLog is the handler for the "log" command.
func (cv *Converter) DoLog(line string) bool {
	if strings.TrimSpace(line) == "" {
		fmt.Fprintln(control.baton, logState())
		return false
	}
	mask, err := adjustLogMask(control.logmask, line)
	if err != nil {
		croak("%v", err)
		return false
	}
	control.logmask = mask
	respond(logState())
	return false
}

func main() {
	ctx := context.Background()
	control.init()
	cv := newConverter()
	interpreter := kommandant.NewKommandant(cv)
	interpreter.EnableReadline(isTerminal(0))

	defer func() {
		maybePanic := recover()
		cv.worker.wait()
		cv.runlog.close()
		control.baton.Sync()
		if maybePanic != nil {
			panic(maybePanic)
		}
		if control.getAbort() {
			os.Exit(1)
		} else {
			os.Exit(0)
		}
	}()

	if len(os.Args[1:]) == 0 {
		os.Args = append(os.Args, "-")
	}

	interpreter.PreLoop(ctx)
	stop := false
	for _, arg := range os.Args[1:] {
		for _, acmd := range strings.Split(arg, ";") {
			if acmd == "-" {
				if isTerminal(0) {
					control.flagOptions["interactive"] = true
				}
				if isTerminal(1) {
					control.flagOptions["progress"] = true
				}
				control.baton.setInteractivity(control.flagOptions["progress"])
				if control.flagOptions["interactive"] && !cv.retrySet {
					cv.decider = newPromptDecider()
				}
				interpreter.CmdLoop(ctx, "")
			} else {
				// Makes "vss2git --help" and "vss2git --version"
				// work as expected.
				if strings.HasPrefix(acmd, "--") {
					acmd = acmd[2:]
				}
				acmd = interpreter.PreCmd(ctx, acmd)
				stop = interpreter.OneCmd(ctx, acmd)
				stop = interpreter.PostCmd(ctx, stop, acmd)
				if stop || (control.getAbort() && !control.flagOptions["relax"]) {
					break
				}
			}
		}
		if stop || (control.getAbort() && !control.flagOptions["relax"]) {
			break
		}
	}
	interpreter.PostLoop(ctx)
	// Fall through to defer hook.
}
