package scm

import (
	"testing"

	"github.com/haatos/conveyor/internal/material"
	"github.com/stretchr/testify/assert"
)

const svnLogXML = `<?xml version="1.0" encoding="UTF-8"?>
<log>
<logentry revision="42">
<author>alice</author>
<date>2025-03-01T12:00:00.000000Z</date>
<paths>
<path action="A">/trunk/new.txt</path>
<path action="M">/trunk/old.txt</path>
</paths>
<msg>add new file</msg>
</logentry>
<logentry revision="41">
<author>bob</author>
<date>2025-02-28T09:30:00.000000Z</date>
<paths>
<path action="D">/trunk/gone.txt</path>
</paths>
<msg>remove file</msg>
</logentry>
</log>`

func TestParseSvnLog(t *testing.T) {
	t.Run("success - entries with files", func(t *testing.T) {
		// act
		mods, err := parseSvnLog(svnLogXML)

		// assert
		assert.NoError(t, err)
		assert.Len(t, mods, 2)
		assert.Equal(t, "42", mods[0].Revision)
		assert.Equal(t, "alice", mods[0].Author)
		assert.Equal(t, "add new file", mods[0].Comment)
		assert.Equal(t, []material.ModifiedFile{
			{Path: "/trunk/new.txt", Action: material.FileAdded},
			{Path: "/trunk/old.txt", Action: material.FileModified},
		}, mods[0].Files)
		assert.Equal(t, []material.ModifiedFile{
			{Path: "/trunk/gone.txt", Action: material.FileDeleted},
		}, mods[1].Files)
	})
	t.Run("failure - not xml", func(t *testing.T) {
		_, err := parseSvnLog("svn: E170013: unable to connect")

		assert.Error(t, err)
	})
}

func TestExternalURL(t *testing.T) {
	assert.Equal(t, "https://example.com/libs/util", externalURL("libs/util - https://example.com/libs/util"))
	assert.Equal(t, "", externalURL("plain text without a url"))
}
