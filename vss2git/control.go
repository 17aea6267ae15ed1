/*
 * Global control state, logging and filesystem helpers
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"time"

	fqme "gitlab.com/esr/fqme"
	terminal "golang.org/x/crypto/ssh/terminal"
)

// Classed exceptions, thrown with panic(throw(...)) and caught in a
// deferred catch(class, recover()). Two classes exist:
//
// parse = malformed history journal; the read is abandoned.
//
// command = bad interpreter command; control returns to the command loop.
//
// Replay never throws. Its failures are error returns that go through
// the retry decider.
type exception struct {
	class   string
	message string
}

func (e exception) Error() string {
	return e.message
}

func throw(class string, msg string, args ...interface{}) *exception {
	return &exception{class: class, message: fmt.Sprintf(msg, args...)}
}

// catch returns the exception if it is of class accept and repanics on
// anything else.
func catch(accept string, x interface{}) *exception {
	if x == nil {
		return nil
	}
	if e, ok := x.(*exception); ok {
		if e.class == accept {
			return e
		}
		fmt.Fprintf(os.Stderr, "vss2git: %s exception while expecting %s: %s\n", e.class, accept, e.message)
	}
	panic(x)
}

const userReadWriteMode = 0644       // rw-r--r--
const userReadWriteSearchMode = 0775 // rwxrwxr-x

func exists(pathname string) bool {
	_, err := os.Stat(pathname)
	return !os.IsNotExist(err)
}

func isdir(pathname string) bool {
	st, err := os.Stat(pathname)
	return err == nil && st.Mode().IsDir()
}

/*
 * Log classes. A new class needs a constant here and an entry in
 * logtags so the log command can name it.
 */

const (
	logSHOUT    uint = 1 << iota // Errors and urgent messages
	logWARN                      // Exceptional condition, probably not bug
	logBATON                     // Export meter lines
	logCOMMANDS                  // Show VCS commands as they are executed
	logREPLAY                    // Each revision as it is dispatched
	logMAPPER                    // Path-mapper bookkeeping
	logCONTENT                   // Content writes, with diffs of overwritten files
	logVCS                       // Commit and tag decisions
)

var logtags = map[string]uint{
	"shout":    logSHOUT,
	"warn":     logWARN,
	"baton":    logBATON,
	"commands": logCOMMANDS,
	"replay":   logREPLAY,
	"mapper":   logMAPPER,
	"content":  logCONTENT,
	"vcs":      logVCS,
}

var optionFlags = [...][2]string{
	{"committer-is-author",
		`Record the changeset author as committer too, instead of the
identity of the user running the conversion.
`},
	{"interactive",
		`Enable interactive responses even when not on a tty.
`},
	{"progress",
		`Show the export meter even when not on a tty.
`},
	{"quiet",
		`Leave timings out of export reports.
`},
	{"relax",
		`Keep executing commands after one fails.
`},
	{"testmode",
		`Use a fixed committer identity and leave wall-clock times out of
the run log, for reproducible test output.
`},
}

// Control is global context.
type Control struct {
	logmask     uint
	logfp       io.Writer
	logmutex    sync.Mutex
	logcounter  int
	baton       *Baton
	flagOptions map[string]bool
	signals     chan os.Signal
	// Raised by errors and interrupts; stops command processing.
	abortLock   sync.Mutex
	abortScript bool
	// Cancels the export in flight, if any.
	cancelRun context.CancelFunc
}

var control Control

func (ctx *Control) isInteractive() bool {
	return ctx.flagOptions["interactive"]
}

func (ctx *Control) init() {
	ctx.flagOptions = make(map[string]bool)
	ctx.logmask = (logWARN << 1) - 1
	ctx.baton = newBaton(os.Stdout, false)
	ctx.logfp = ctx.baton
	ctx.signals = make(chan os.Signal, 1)
	signal.Notify(ctx.signals, os.Interrupt)
	go func() {
		for range ctx.signals {
			ctx.setAbort(true)
			respond("interrupted, stopping at the next action boundary")
		}
	}()
}

func (ctx *Control) getAbort() bool {
	ctx.abortLock.Lock()
	defer ctx.abortLock.Unlock()
	return ctx.abortScript
}

// setAbort raises or clears the abort flag. Raising it also cancels
// a running export; the worker notices at its next checkpoint.
func (ctx *Control) setAbort(cond bool) {
	ctx.abortLock.Lock()
	defer ctx.abortLock.Unlock()
	ctx.abortScript = cond
	if cond && ctx.cancelRun != nil {
		ctx.cancelRun()
	}
}

func (ctx *Control) setRunCancel(cancel context.CancelFunc) {
	ctx.abortLock.Lock()
	defer ctx.abortLock.Unlock()
	ctx.cancelRun = cancel
}

// whoami is the identity recorded as committer.
func whoami() (string, string) {
	if control.flagOptions["testmode"] {
		return "Fred J. Foonly", "foonly@foo.com"
	}
	name, email, err := fqme.WhoAmI()
	if err == nil {
		return name, email
	}
	if logEnable(logWARN) {
		logit("can't deduce user identity: %v", err)
	}
	return "vss2git", "vss2git@localhost"
}

func isTerminal(fd int) bool {
	return terminal.IsTerminal(fd)
}

/*
 * Logging and responding
 */

func logEnable(logbits uint) bool {
	return (control.logmask & logbits) != 0
}

// croak reports a command failure and raises the abort flag unless
// relax is set.
func croak(msg string, args ...interface{}) {
	line := "vss2git: " + fmt.Sprintf(msg, args...) + "\n"
	if control.baton != nil {
		control.baton.printLogString(line)
	} else {
		os.Stderr.WriteString(line)
	}
	if !control.flagOptions["relax"] {
		control.setAbort(true)
	}
}

func logit(msg string, args ...interface{}) {
	leader := "vss2git"
	if _, ok := control.logfp.(*os.File); ok {
		leader = rfc3339(time.Now())
	}
	line := leader + ": " + fmt.Sprintf(msg, args...) + "\n"
	control.logmutex.Lock()
	defer control.logmutex.Unlock()
	if control.logfp == nil {
		os.Stderr.WriteString(line)
	} else {
		control.logfp.Write([]byte(line))
	}
	control.logcounter++
}

// respond is for console messages that shouldn't be logged
func respond(msg string, args ...interface{}) {
	if control.isInteractive() {
		control.baton.printLogString("vss2git: " + fmt.Sprintf(msg, args...) + "\n")
	}
}

func rfc3339(t time.Time) string {
	// Don't use time.RFC3339, it emits +00:00 for UTC.
	return t.UTC().Format("2006-01-02T15:04:05Z")
}
