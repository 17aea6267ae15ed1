package main

import (
	"io/ioutil"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const endToEndJournal = `#vss2git journal
root AAAA .
item AAAA project $
item BAAA project src
item CAAA file main.c
item DAAA file README
blob CAAA 1 1078142400 blobs/main.1
blob CAAA 2 1078146000 blobs/main.2
blob DAAA 1 1078142400 blobs/readme.1

changeset 1078142400 "John Smith"
comment Initial import
add AAAA target=BAAA
add BAAA target=CAAA version=1
add AAAA target=DAAA version=1
end
changeset 1078146000 "Mary Major"
edit CAAA version=2
label AAAA label="Beta 1"
end
changeset 1078149600 "John Smith"
rename BAAA target=BAAA name=source oldname=src
end
`

func writeJournal(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	files := map[string]string{
		"history.journal": endToEndJournal,
		"blobs/main.1":    "int main() { return 0; }\n",
		"blobs/main.2":    "int main() { return 1; }\n",
		"blobs/readme.1":  "Read me.\n",
		"authors.map":     "mary major = Mary Major <mm@corp.example>\n",
	}
	for name, text := range files {
		path := filepath.Join(dir, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), userReadWriteSearchMode))
		require.NoError(t, ioutil.WriteFile(path, []byte(text), userReadWriteMode), name)
	}
	return dir
}

func TestConverterEndToEnd(t *testing.T) {
	needGit(t)
	assert := assert.New(t)
	dir := writeJournal(t)
	target := filepath.Join(dir, "out")

	cv := newConverter()
	defer cv.worker.wait()
	cv.DoRead(filepath.Join(dir, "history.journal"))
	require.NotNil(t, cv.journal)
	cv.DoDomain("@example.com")
	cv.DoAuthors("read " + filepath.Join(dir, "authors.map"))
	cv.DoExport(target)
	require.NotNil(t, cv.lastStats)
	assert.EqualValues(3, cv.lastStats.count("changesets"))
	assert.EqualValues(3, cv.lastStats.count("commits"))
	assert.EqualValues(1, cv.lastStats.count("tags"))

	log := gitOutput(t, target, "log", "--reverse", "--format=%an <%ae>|%s")
	assert.Equal(strings.Join([]string{
		"John Smith <john.smith@example.com>|Initial import",
		"Mary Major <mm@corp.example>|no comment",
		"John Smith <john.smith@example.com>|no comment",
	}, "\n"), log)
	assert.Equal("Beta_1", gitOutput(t, target, "describe", "--tags", "HEAD~1"))
	assert.Equal("README\nsource/main.c", gitOutput(t, target, "ls-files"))
	assert.Equal("int main() { return 1; }\n", readText(t, filepath.Join(target, "source", "main.c")))
}

func TestApplySettings(t *testing.T) {
	dir := writeJournal(t)
	cv := newConverter()
	defer cv.worker.wait()
	s := &settings{
		Domain:         "corp.example",
		DefaultComment: "(none)",
		Retry:          "2,ignore",
		Authors:        filepath.Join(dir, "authors.map"),
	}
	cv.applySettings(s)
	assert.Equal(t, "corp.example", cv.domain)
	assert.Equal(t, "(none)", cv.defaultComment)
	assert.Equal(t, policyDecider{2, dispIgnore}, cv.decider)
	assert.True(t, cv.retrySet)
	name, address := cv.authors.resolve("Mary Major", "")
	assert.Equal(t, "Mary Major", name)
	assert.Equal(t, "mm@corp.example", address)
}

func TestAdjustLogMask(t *testing.T) {
	assert := assert.New(t)
	mask, err := adjustLogMask(logSHOUT|logWARN, "+mapper,-warn +vcs")
	require.NoError(t, err)
	assert.Equal(logSHOUT|logMAPPER|logVCS, mask)

	mask, err = adjustLogMask(logSHOUT, "-all +content")
	require.NoError(t, err)
	assert.Equal(logCONTENT, mask)

	for _, bad := range []string{"mapper", "+nosuch", "+mapper -", "+"} {
		_, err = adjustLogMask(logSHOUT, bad)
		assert.Error(err, bad)
	}
	assert.Equal([]string{"shout", "warn", "baton", "commands"}, logClasses()[:4])
}

func TestLogState(t *testing.T) {
	save := control.logmask
	defer func() { control.logmask = save }()
	control.logmask = logSHOUT | logREPLAY
	assertEqual(t, logState(), "log +shout -warn -baton -commands\n\t+replay -mapper -content -vcs")
}

func TestTweakFlagOptions(t *testing.T) {
	defer delete(control.flagOptions, "quiet")
	defer delete(control.flagOptions, "committer-is-author")
	tweakFlagOptions("quiet, committer-is-author", true)
	assertTrue(t, control.flagOptions["quiet"])
	assertTrue(t, control.flagOptions["committer-is-author"])
	tweakFlagOptions("quiet", false)
	assertBool(t, control.flagOptions["quiet"], false)
	assertTrue(t, isOptionFlag("testmode"))
	assertBool(t, isOptionFlag("nosuch"), false)
}
