package metadata

import (
	"strings"
	"testing"

	"dstransfer/pkg/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const tiffProfile = `<?xml version="1.0" encoding="UTF-8"?>
<datastreamProfile xmlns="http://www.fedora.info/definitions/1/0/management/" pid="coll:1" dsID="TIFF">
  <dsLabel>scan-0001.tif</dsLabel>
  <dsVersionID>TIFF.0</dsVersionID>
  <dsCreateDate>2024-03-01T10:00:00.000Z</dsCreateDate>
  <dsState>A</dsState>
  <dsMIME>image/tiff</dsMIME>
  <dsFormatURI/>
  <dsControlGroup>M</dsControlGroup>
  <dsSize>1048576</dsSize>
  <dsAltID>first</dsAltID>
  <dsAltID>second</dsAltID>
  <dsLocation>coll:1+TIFF+TIFF.0</dsLocation>
  <dsChecksumType>MD5</dsChecksumType>
  <dsChecksum>B1946AC92492D2347C6235B4D2611184</dsChecksum>
</datastreamProfile>`

func TestParseShallowProfile(t *testing.T) {
	doc, err := ParseShallow(strings.NewReader(tiffProfile), ProfileRoot)
	require.NoError(t, err)

	assert.Equal(t, ProfileRoot, doc.Root())

	label, ok := doc.Get("dsLabel")
	assert.True(t, ok)
	assert.Equal(t, "scan-0001.tif", label)

	format, ok := doc.Get("dsFormatURI")
	assert.True(t, ok, "empty element is present with an empty value")
	assert.Empty(t, format)

	_, ok = doc.Get("dsNotThere")
	assert.False(t, ok)

	assert.Equal(t, []string{
		"dsLabel", "dsVersionID", "dsCreateDate", "dsState", "dsMIME", "dsFormatURI",
		"dsControlGroup", "dsSize", "dsAltID", "dsLocation", "dsChecksumType", "dsChecksum",
	}, doc.Keys())
}

func TestParseShallowDuplicateKeys(t *testing.T) {
	doc, err := ParseShallow(strings.NewReader(tiffProfile), ProfileRoot)
	require.NoError(t, err)

	last, ok := doc.Get("dsAltID")
	assert.True(t, ok)
	assert.Equal(t, "second", last)
	assert.Equal(t, []string{"first", "second"}, doc.All("dsAltID"))
}

func TestParseShallowNestedChildIsAbsent(t *testing.T) {
	input := `<datastreamProfile>
  <dsLabel>outer</dsLabel>
  <dsExtra><inner>x</inner>text</dsExtra>
  <dsMIME>text/plain</dsMIME>
</datastreamProfile>`

	doc, err := ParseShallow(strings.NewReader(input), ProfileRoot)
	require.NoError(t, err)

	_, ok := doc.Get("dsExtra")
	assert.False(t, ok)
	assert.Contains(t, doc.Keys(), "dsExtra")
	assert.Empty(t, doc.All("dsExtra"))

	mime, ok := doc.Get("dsMIME")
	assert.True(t, ok)
	assert.Equal(t, "text/plain", mime, "parsing continues after a nested child")

	fields := doc.Fields()
	require.Len(t, fields, 3)
	assert.False(t, fields[1].Present)
}

func TestParseShallowTrimsText(t *testing.T) {
	doc, err := ParseShallow(strings.NewReader("<r>\n  <a>\n   value \n</a></r>"), "r")
	require.NoError(t, err)

	v, _ := doc.Get("a")
	assert.Equal(t, "value", v)
}

func TestParseShallowErrors(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr error
	}{
		{"wrong root", `<objectProfile><dsLabel>x</dsLabel></objectProfile>`, types.ErrUnexpectedRoot},
		{"empty", ``, nil},
		{"not xml", `this is not xml`, nil},
		{"truncated", `<datastreamProfile><dsLabel>x</dsLabel>`, nil},
		{"mismatched tags", `<datastreamProfile><dsLabel>x</dsMIME></datastreamProfile>`, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc, err := ParseShallow(strings.NewReader(tt.input), ProfileRoot)
			require.Error(t, err)
			assert.Nil(t, doc)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			}
		})
	}
}
