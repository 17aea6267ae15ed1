/*
 * Console output and the export meter
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

package main

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"time"
)

// Baton owns the console. Everything written goes through one
// goroutine so that log lines and the export meter on the status line
// never interleave.
type Baton struct {
	stream  io.Writer
	channel chan batonMsg
	meter   exportMeter
}

type batonKind uint8

const (
	batonLine   batonKind = iota // printed once, above the status line
	batonStatus                  // replaces the status line
	batonSync                    // reply is closed once everything before it is out
)

type batonMsg struct {
	kind  batonKind
	text  []byte
	reply chan struct{}
}

// Rate-limit meter redraws
const meterInterval = 500 * time.Millisecond

// exportMeter tracks how far through its changesets an export has got.
type exportMeter struct {
	sync.Mutex
	enabled bool
	start   time.Time
	redrawn time.Time
	done    int
	total   int
	current string
}

func newBaton(stream io.Writer, progress bool) *Baton {
	b := &Baton{stream: stream, channel: make(chan batonMsg)}
	b.meter.enabled = progress
	go b.run(terminfo("cr"), terminfo("el"))
	return b
}

func (b *Baton) run(toColumnZero []byte, clearToEOL []byte) {
	var status []byte
	clear := func() {
		b.stream.Write(toColumnZero)
		b.stream.Write(clearToEOL)
	}
	for msg := range b.channel {
		switch msg.kind {
		case batonSync:
			close(msg.reply)
		case batonLine:
			if status != nil {
				clear()
			}
			b.stream.Write(msg.text)
			if !bytes.HasSuffix(msg.text, []byte{'\n'}) {
				b.stream.Write([]byte{'\n'})
			}
			if status != nil {
				b.stream.Write(status)
			}
		case batonStatus:
			clear()
			b.stream.Write(msg.text)
			status = msg.text
		}
	}
}

func (b *Baton) setInteractivity(enabled bool) {
	if b != nil {
		b.meter.Lock()
		b.meter.enabled = enabled
		b.meter.Unlock()
	}
}

// printLogString queues text to be printed as a line of its own.
func (b *Baton) printLogString(text string) {
	if b != nil {
		b.channel <- batonMsg{kind: batonLine, text: []byte(text)}
	}
}

func (b *Baton) Write(p []byte) (int, error) {
	if b != nil {
		b.channel <- batonMsg{kind: batonLine, text: append([]byte(nil), p...)}
	}
	return len(p), nil
}

// Sync waits until everything queued for output has been written.
func (b *Baton) Sync() {
	if b != nil {
		reply := make(chan struct{})
		b.channel <- batonMsg{kind: batonSync, reply: reply}
		<-reply
	}
}

func (b *Baton) startMeter(total int) {
	if b == nil {
		return
	}
	b.meter.Lock()
	if !b.meter.enabled {
		b.meter.Unlock()
		return
	}
	b.meter.start = time.Now()
	b.meter.redrawn = time.Time{}
	b.meter.done = 0
	b.meter.total = total
	b.meter.current = ""
	b.meter.Unlock()
}

// advance records that cs has been exported.
func (b *Baton) advance(cs *Changeset) {
	if b == nil {
		return
	}
	b.meter.Lock()
	if !b.meter.enabled || b.meter.start.IsZero() {
		b.meter.Unlock()
		return
	}
	b.meter.done++
	b.meter.current = fmt.Sprintf("%s by %s", rfc3339(cs.stamp), cs.user)
	redraw := time.Since(b.meter.redrawn) > meterInterval || b.meter.done == b.meter.total
	var line bytes.Buffer
	if redraw {
		b.meter.redrawn = time.Now()
		b.meter.render(&line, true)
	}
	b.meter.Unlock()
	if redraw {
		b.channel <- batonMsg{kind: batonStatus, text: line.Bytes()}
		if logEnable(logBATON) {
			logit("%s", line.String())
		}
	}
}

// endMeter leaves a final summary line and clears the status line.
func (b *Baton) endMeter() {
	if b == nil {
		return
	}
	var line bytes.Buffer
	b.meter.Lock()
	if b.meter.start.IsZero() {
		b.meter.Unlock()
		return
	}
	b.meter.render(&line, false)
	b.meter.start = time.Time{}
	b.meter.total = 0
	b.meter.Unlock()
	b.channel <- batonMsg{kind: batonStatus}
	b.printLogString(line.String())
}

func (m *exportMeter) render(w io.Writer, detail bool) {
	elapsed := time.Since(m.start)
	fmt.Fprintf(w, "export %d/%d changesets", m.done, m.total)
	if m.total > 0 {
		fmt.Fprintf(w, " (%.1f%%)", 100*float64(m.done)/float64(m.total))
	}
	if !detail {
		fmt.Fprintf(w, " in %v", elapsed.Round(time.Second))
		return
	}
	if m.done > 0 && elapsed > time.Second {
		rate := float64(m.done) / elapsed.Seconds()
		eta := time.Duration(float64(m.total-m.done) / rate * float64(time.Second))
		fmt.Fprintf(w, ", %.1f/s, eta %v", rate, eta.Round(time.Second))
	}
	if m.current != "" {
		fmt.Fprintf(w, ", at %s", m.current)
	}
}

// terminfo asks tput for a terminal control string, nil if unavailable.
func terminfo(capability string) []byte {
	if !isTerminal(int(os.Stdout.Fd())) {
		return nil
	}
	out, err := exec.Command("tput", capability).Output()
	if err != nil {
		return nil
	}
	return out
}
