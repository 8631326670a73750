package types

import (
	"fmt"
	"strings"
)

type PID string
type DatastreamID string

// ObjectAddress identifies one datastream of one repository object.
type ObjectAddress struct {
	PID          PID
	DatastreamID DatastreamID
}

func NewObjectAddress(pid, datastreamID string) ObjectAddress {
	return ObjectAddress{PID: PID(pid), DatastreamID: DatastreamID(datastreamID)}
}

func (a ObjectAddress) String() string {
	return fmt.Sprintf("%s/%s", a.PID, a.DatastreamID)
}

// Validate rejects empty identifiers and identifiers that would escape the
// datastream path when joined into a URL.
func (a ObjectAddress) Validate() error {
	if a.PID == "" {
		return fmt.Errorf("object pid is required")
	}
	if a.DatastreamID == "" {
		return fmt.Errorf("datastream id is required")
	}
	for _, part := range []string{string(a.PID), string(a.DatastreamID)} {
		if strings.ContainsAny(part, "/?#") || part == "." || part == ".." {
			return fmt.Errorf("invalid identifier %q", part)
		}
	}
	return nil
}

// ControlGroup is the repository's storage placement policy for a datastream.
type ControlGroup string

const (
	ControlGroupManaged    ControlGroup = "M"
	ControlGroupReferenced ControlGroup = "E"
	ControlGroupRedirect   ControlGroup = "R"
	ControlGroupInline     ControlGroup = "X"
	ControlGroupUnknown    ControlGroup = ""
)

// ParseControlGroup maps the repository's single letter code (any case) to a
// ControlGroup. Unrecognized codes map to ControlGroupUnknown.
func ParseControlGroup(s string) ControlGroup {
	switch ControlGroup(strings.ToUpper(strings.TrimSpace(s))) {
	case ControlGroupManaged:
		return ControlGroupManaged
	case ControlGroupReferenced:
		return ControlGroupReferenced
	case ControlGroupRedirect:
		return ControlGroupRedirect
	case ControlGroupInline:
		return ControlGroupInline
	default:
		return ControlGroupUnknown
	}
}

func (c ControlGroup) String() string {
	switch c {
	case ControlGroupManaged:
		return "managed"
	case ControlGroupReferenced:
		return "referenced"
	case ControlGroupRedirect:
		return "redirect"
	case ControlGroupInline:
		return "inline"
	default:
		return "unknown"
	}
}

type Direction string

const (
	DirectionDownload Direction = "download"
	DirectionUpload   Direction = "upload"
)
