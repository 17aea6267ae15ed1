package main

import (
	"bytes"
	"strings"
	"testing"
)

func TestAuthorMapRead(t *testing.T) {
	am := newAuthorMap()
	text := `# legacy users
jrh = J. Random Hacker <jrh@foobar.com>
esr=Eric S. Raymond <esr@thyrsus.com> -0500

broken line
nomail = Nobody <>
bare = <bare@example.com>
`
	if err := am.read(strings.NewReader(text)); err != nil {
		t.Fatal(err)
	}
	assertIntEqual(t, len(am.entries), 3)
	name, address := am.resolve("JRH", "example.com")
	assertEqual(t, name, "J. Random Hacker")
	assertEqual(t, address, "jrh@foobar.com")
	name, address = am.resolve("esr", "")
	assertEqual(t, name, "Eric S. Raymond")
	assertEqual(t, address, "esr@thyrsus.com")
	name, _ = am.resolve("bare", "")
	assertEqual(t, name, "bare")
}

func TestSynthesizedAddresses(t *testing.T) {
	assertEqual(t, synthesizeAddress("John Smith", "example.com"), "john.smith@example.com")
	assertEqual(t, synthesizeAddress("  Mary\tAnn  Lee ", "corp.example"), "mary.ann.lee@corp.example")
	assertEqual(t, synthesizeAddress("", "example.com"), "unknown@example.com")
	assertEqual(t, synthesizeAddress("admin", ""), "admin@localhost")

	var unmapped *authorMap
	name, address := unmapped.resolve("John Smith", "example.com")
	assertEqual(t, name, "John Smith")
	assertEqual(t, address, "john.smith@example.com")
}

func TestAuthorStub(t *testing.T) {
	am := newAuthorMap()
	if err := am.read(strings.NewReader("jrh = J. Random Hacker <jrh@foobar.com>\n")); err != nil {
		t.Fatal(err)
	}
	var out bytes.Buffer
	am.writeStub(&out, []string{"zed", "jrh", "Ann Lee"}, "example.com")
	expect := "Ann Lee = Ann Lee <ann.lee@example.com>\n" +
		"jrh = J. Random Hacker <jrh@foobar.com>\n" +
		"zed = zed <zed@example.com>\n"
	assertEqual(t, out.String(), expect)

	// A stub reads back as the same mapping.
	again := newAuthorMap()
	if err := again.read(&out); err != nil {
		t.Fatal(err)
	}
	name, address := again.resolve("ann lee", "elsewhere.org")
	assertEqual(t, name, "Ann Lee")
	assertEqual(t, address, "ann.lee@example.com")
}
