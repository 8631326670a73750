package metadata

import (
	"strconv"

	"dstransfer/pkg/types"
)

// Element names of a datastreamProfile document.
const (
	ProfileRoot = "datastreamProfile"

	KeyLabel        = "dsLabel"
	KeyVersionID    = "dsVersionID"
	KeyCreateDate   = "dsCreateDate"
	KeyState        = "dsState"
	KeyMIME         = "dsMIME"
	KeyControlGroup = "dsControlGroup"
	KeySize         = "dsSize"
	KeyLocation     = "dsLocation"
	KeyChecksumType = "dsChecksumType"
	KeyChecksum     = "dsChecksum"
)

// DatastreamProperties is the repository's description of one datastream.
type DatastreamProperties struct {
	Address types.ObjectAddress
	doc     *Document
}

// NewDatastreamProperties wraps a parsed datastream profile for addr.
func NewDatastreamProperties(addr types.ObjectAddress, doc *Document) *DatastreamProperties {
	return &DatastreamProperties{Address: addr, doc: doc}
}

func (p *DatastreamProperties) Get(key string) (string, bool) {
	return p.doc.Get(key)
}

func (p *DatastreamProperties) Keys() []string {
	return p.doc.Keys()
}

func (p *DatastreamProperties) value(key string) string {
	v, _ := p.doc.Get(key)
	return v
}

func (p *DatastreamProperties) Label() string        { return p.value(KeyLabel) }
func (p *DatastreamProperties) Checksum() string     { return p.value(KeyChecksum) }
func (p *DatastreamProperties) ChecksumType() string { return p.value(KeyChecksumType) }
func (p *DatastreamProperties) MIMEType() string     { return p.value(KeyMIME) }
func (p *DatastreamProperties) Location() string     { return p.value(KeyLocation) }
func (p *DatastreamProperties) State() string        { return p.value(KeyState) }

func (p *DatastreamProperties) ControlGroup() types.ControlGroup {
	return types.ParseControlGroup(p.value(KeyControlGroup))
}

// Size returns the declared byte count. ok is false when dsSize is absent,
// not a number, or negative.
func (p *DatastreamProperties) Size() (size int64, ok bool) {
	raw, present := p.doc.Get(KeySize)
	if !present {
		return 0, false
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

// DeterministicSize reports whether the datastream is MANAGED with a known
// non-zero size, i.e. whether a download must stop after exactly that many
// bytes.
func (p *DatastreamProperties) DeterministicSize() bool {
	n, ok := p.Size()
	return p.ControlGroup() == types.ControlGroupManaged && ok && n > 0
}
