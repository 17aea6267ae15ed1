/*
 * Author mapping
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

package main

import (
	"bufio"
	"fmt"
	"io"
	"regexp"
	"sort"
	"strings"
)

// Contributor associates a legacy user name with a DVCS-style identity.
type Contributor struct {
	name     string
	fullname string
	email    string
}

func (cb Contributor) String() string {
	return fmt.Sprintf("%s = %s <%s>\n", cb.name, cb.fullname, cb.email)
}

// authorMap is keyed by lowercased legacy user name.
type authorMap struct {
	entries map[string]Contributor
}

func newAuthorMap() *authorMap {
	return &authorMap{entries: make(map[string]Contributor)}
}

var attributionRE = regexp.MustCompile(`([^<]*\s*)<([^>]*)>+(\s*.*)`)

// read merges a contributor map in the usual format:
//
//     jrh = J. Random Hacker <jrh@foobar.com>
//
// Blank lines and lines beginning with # are ignored. Malformed lines
// are logged and skipped.
func (am *authorMap) read(fp io.Reader) error {
	scanner := bufio.NewScanner(fp)
	var lineno int
	complain := func(msg string, args ...interface{}) {
		if logEnable(logWARN) {
			logit("author map line %d: "+msg, append([]interface{}{lineno}, args...)...)
		}
	}
	for scanner.Scan() {
		lineno++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.SplitN(line, "=", 2)
		if len(fields) != 2 {
			complain("no '=' in %q", line)
			continue
		}
		local := strings.TrimSpace(fields[0])
		m := attributionRE.FindStringSubmatch(strings.TrimSpace(fields[1]))
		if m == nil || local == "" {
			complain("malformed attribution %q", line)
			continue
		}
		fullname := strings.TrimSpace(m[1])
		email := strings.TrimSpace(m[2])
		if email == "" {
			complain("can't recognize address in %q", line)
			continue
		}
		if fullname == "" {
			fullname = local
		}
		am.entries[strings.ToLower(local)] = Contributor{local, fullname, email}
	}
	return scanner.Err()
}

// synthesizeAddress makes an address for a user the map doesn't know:
// the lowercased name with dots for whitespace, at domain.
func synthesizeAddress(user string, domain string) string {
	local := strings.ToLower(strings.Join(strings.Fields(user), "."))
	if local == "" {
		local = "unknown"
	}
	if domain == "" {
		domain = "localhost"
	}
	return local + "@" + domain
}

// resolve gives the name and address to record for a legacy user.
func (am *authorMap) resolve(user string, domain string) (string, string) {
	if am != nil {
		if cb, ok := am.entries[strings.ToLower(user)]; ok {
			return cb.fullname, cb.email
		}
	}
	return user, synthesizeAddress(user, domain)
}

// writeStub emits a map covering users, mapped entries as they are and
// the rest with synthesized addresses, ready for hand completion.
func (am *authorMap) writeStub(w io.Writer, users []string, domain string) {
	sorted := append([]string(nil), users...)
	sort.Strings(sorted)
	for _, user := range sorted {
		name, address := am.resolve(user, domain)
		fmt.Fprint(w, Contributor{user, name, address}.String())
	}
}
