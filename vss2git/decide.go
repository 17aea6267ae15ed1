/*
 * Abort/Retry/Ignore decisions for failed replay operations
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

package main

import (
	"fmt"
	"strconv"
	"strings"

	readline "github.com/chzyer/readline"
)

type disposition uint8

const (
	dispRetry disposition = iota
	dispIgnore
	dispAbort
)

func (d disposition) String() string {
	switch d {
	case dispRetry:
		return "retry"
	case dispIgnore:
		return "ignore"
	case dispAbort:
		return "abort"
	}
	return fmt.Sprintf("disposition-%d", d)
}

// A decider is asked what to do each time one replay operation fails.
// attempt counts from 1 for the first failure of the operation.
type decider interface {
	decide(legend string, attempt int, err error) disposition
}

// policyDecider retries an operation up to retries times, then gives
// up the way then says.
type policyDecider struct {
	retries int
	then    disposition
}

func (p policyDecider) decide(legend string, attempt int, err error) disposition {
	if attempt <= p.retries {
		return dispRetry
	}
	return p.then
}

func (p policyDecider) String() string {
	if p.retries == 0 {
		return p.then.String()
	}
	return fmt.Sprintf("%d,%s", p.retries, p.then)
}

// promptDecider puts the question to the operator.
type promptDecider struct {
	input func(prompt string) string
}

func newPromptDecider() *promptDecider {
	return &promptDecider{input: input}
}

func (p *promptDecider) decide(legend string, attempt int, err error) disposition {
	control.baton.Sync()
	for {
		prompt := fmt.Sprintf("%s failed: %v\nAbort, Retry, Ignore? ", legend, err)
		if attempt > 1 {
			prompt = fmt.Sprintf("(attempt %d) ", attempt) + prompt
		}
		answer := strings.ToLower(strings.TrimSpace(p.input(prompt)))
		switch {
		case strings.HasPrefix(answer, "a"):
			return dispAbort
		case strings.HasPrefix(answer, "r"):
			return dispRetry
		case strings.HasPrefix(answer, "i"):
			return dispIgnore
		}
	}
}

func (p *promptDecider) String() string {
	return "prompt"
}

func input(prompt string) string {
	rl, err := readline.New(prompt)
	if err != nil {
		// No terminal to ask on; treat like an interrupt.
		return "abort"
	}
	defer rl.Close()
	line, err := rl.Readline()
	if err != nil {
		return "abort"
	}
	return line
}

// parseRetryPolicy understands the argument of the retry command:
// "prompt", "ignore", "abort", or "N[,ignore|abort]".
func parseRetryPolicy(spec string) (decider, error) {
	spec = strings.TrimSpace(spec)
	switch spec {
	case "prompt":
		return newPromptDecider(), nil
	case "ignore":
		return policyDecider{0, dispIgnore}, nil
	case "abort":
		return policyDecider{0, dispAbort}, nil
	}
	fields := strings.SplitN(spec, ",", 2)
	n, err := strconv.Atoi(strings.TrimSpace(fields[0]))
	if err != nil || n < 0 {
		return nil, fmt.Errorf("ill-formed retry policy %q", spec)
	}
	then := dispAbort
	if len(fields) == 2 {
		switch strings.TrimSpace(fields[1]) {
		case "ignore":
			then = dispIgnore
		case "abort":
		default:
			return nil, fmt.Errorf("retry policy must end with ignore or abort, not %q", fields[1])
		}
	}
	return policyDecider{n, then}, nil
}
