// Package ingest renders FOXML 1.1 ingest documents for local files.
package ingest

import (
	"encoding/xml"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"text/template"

	"dstransfer/pkg/storage"
	"dstransfer/pkg/types"

	"github.com/gabriel-vasile/mimetype"
	"go.uber.org/zap"
)

// DateLayout is the UTC timestamp format Fedora expects in FOXML.
const DateLayout = "2006-01-02T15:04:05.000Z"

// DublinCore is the descriptive record embedded in the DC datastream.
type DublinCore struct {
	Title       string `mapstructure:"title" json:"title"`
	Creator     string `mapstructure:"creator" json:"creator"`
	Subject     string `mapstructure:"subject" json:"subject"`
	Description string `mapstructure:"description" json:"description"`
	Publisher   string `mapstructure:"publisher" json:"publisher"`
}

// Settings controls the objects a Generator produces.
type Settings struct {
	Collection   string
	DatastreamID string
	// MIMEType is detected from file content when empty.
	MIMEType     string
	ChecksumType string
	// EmbedDigest writes the content checksum into the document. Some
	// repository versions reject a DIGEST on ingest, so only the type is
	// written by default.
	EmbedDigest bool
	// FirstSequence is the number of the first PID; 0 means 1.
	FirstSequence int
	DC            DublinCore
}

// Object is one rendered digital object.
type Object struct {
	PID          string
	Collection   string
	Label        string
	Created      string
	DatastreamID string
	ControlGroup types.ControlGroup
	MIMEType     string
	ChecksumType string
	Checksum     string
	Location     string
	DC           DublinCore
}

// Generator assigns sequential PIDs within a collection and renders FOXML
// for local files. It is safe for concurrent use.
type Generator struct {
	settings Settings
	verifier *storage.Verifier
	logger   *zap.Logger

	mu   sync.Mutex
	next int
}

// NewGenerator validates settings and fills in defaults.
func NewGenerator(settings Settings, verifier *storage.Verifier, logger *zap.Logger) (*Generator, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if verifier == nil {
		verifier = storage.NewVerifier(0)
	}
	if settings.Collection == "" {
		return nil, fmt.Errorf("collection is required")
	}
	if settings.DatastreamID == "" {
		settings.DatastreamID = "CONTENT"
	}
	if settings.ChecksumType == "" {
		settings.ChecksumType = "MD5"
	}
	alg, err := storage.LookupAlgorithm(settings.ChecksumType)
	if err != nil {
		return nil, err
	}
	settings.ChecksumType = alg.Name

	addr := types.NewObjectAddress(settings.Collection+":1", settings.DatastreamID)
	if err := addr.Validate(); err != nil {
		return nil, fmt.Errorf("invalid ingest settings: %w", err)
	}

	next := settings.FirstSequence
	if next <= 0 {
		next = 1
	}

	return &Generator{
		settings: settings,
		verifier: verifier,
		logger:   logger,
		next:     next,
	}, nil
}

func (g *Generator) nextPID() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	pid := fmt.Sprintf("%s:%d", g.settings.Collection, g.next)
	g.next++
	return pid
}

// Describe builds the object for localPath. Managed objects are copied into
// the repository on ingest; externally referenced ones are not.
func (g *Generator) Describe(localPath string, managed bool) (Object, error) {
	abs, err := filepath.Abs(localPath)
	if err != nil {
		return Object{}, fmt.Errorf("failed to resolve %s: %w", localPath, err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return Object{}, fmt.Errorf("failed to stat %s: %w", localPath, err)
	}
	if info.IsDir() {
		return Object{}, fmt.Errorf("%s is a directory", localPath)
	}

	mimeType := g.settings.MIMEType
	if mimeType == "" {
		detected, err := mimetype.DetectFile(abs)
		if err != nil {
			return Object{}, fmt.Errorf("failed to detect content type of %s: %w", localPath, err)
		}
		mimeType, _, _ = strings.Cut(detected.String(), ";")
	}

	obj := Object{
		PID:          g.nextPID(),
		Collection:   g.settings.Collection,
		Label:        filepath.Base(abs),
		Created:      info.ModTime().UTC().Format(DateLayout),
		DatastreamID: g.settings.DatastreamID,
		ControlGroup: types.ControlGroupReferenced,
		MIMEType:     mimeType,
		ChecksumType: g.settings.ChecksumType,
		Location:     "file://" + filepath.ToSlash(abs),
		DC:           g.settings.DC,
	}
	if managed {
		obj.ControlGroup = types.ControlGroupManaged
	}
	if obj.DC.Title == "" {
		obj.DC.Title = obj.Label
	}

	if g.settings.EmbedDigest {
		sum, err := g.verifier.ChecksumFile(g.settings.ChecksumType, abs)
		if err != nil {
			return Object{}, err
		}
		obj.Checksum = sum
	}
	return obj, nil
}

// Render writes obj as a FOXML 1.1 document.
func (g *Generator) Render(w io.Writer, obj Object) error {
	if err := foxmlTemplate.Execute(w, obj); err != nil {
		return fmt.Errorf("failed to render %s: %w", obj.PID, err)
	}
	return nil
}

// WriteFile describes localPath and writes its document to outPath.
func (g *Generator) WriteFile(localPath, outPath string, managed bool) (Object, error) {
	obj, err := g.Describe(localPath, managed)
	if err != nil {
		return Object{}, err
	}

	f, err := os.Create(outPath)
	if err != nil {
		return Object{}, fmt.Errorf("failed to create %s: %w", outPath, err)
	}
	if err := g.Render(f, obj); err != nil {
		f.Close()
		return Object{}, err
	}
	if err := f.Close(); err != nil {
		return Object{}, fmt.Errorf("failed to close %s: %w", outPath, err)
	}

	g.logger.Info("Ingest document written",
		zap.String("pid", obj.PID),
		zap.String("local_path", localPath),
		zap.String("output", outPath),
		zap.String("control_group", obj.ControlGroup.String()))
	return obj, nil
}

func escapeXML(s string) (string, error) {
	var b strings.Builder
	if err := xml.EscapeText(&b, []byte(s)); err != nil {
		return "", err
	}
	return b.String(), nil
}

var foxmlTemplate = template.Must(template.New("foxml").Funcs(template.FuncMap{
	"x":    escapeXML,
	"code": func(c types.ControlGroup) string { return string(c) },
}).Parse(`<?xml version="1.0" encoding="UTF-8"?>
<foxml:digitalObject PID="{{x .PID}}"
                     VERSION="1.1"
                     xmlns:foxml="info:fedora/fedora-system:def/foxml#"
                     xmlns:xsi="http://www.w3.org/2001/XMLSchema-instance"
                     xsi:schemaLocation="info:fedora/fedora-system:def/foxml# http://www.fedora.info/definitions/1/0/foxml1-1.xsd">
  <foxml:objectProperties>
    <foxml:property NAME="info:fedora/fedora-system:def/model#state" VALUE="A"/>
    <foxml:property NAME="info:fedora/fedora-system:def/model#label" VALUE="{{x .Label}}"/>
    <foxml:property NAME="info:fedora/fedora-system:def/model#createdDate" VALUE="{{.Created}}"/>
    <foxml:property NAME="info:fedora/fedora-system:def/view#lastModifiedDate" VALUE="{{.Created}}"/>
  </foxml:objectProperties>
  <foxml:datastream ID="DC" CONTROL_GROUP="X" STATE="A">
    <foxml:datastreamVersion ID="DC.0" CREATED="{{.Created}}" MIMETYPE="text/xml" LABEL="Dublin Core">
      <foxml:contentDigest TYPE="{{x .ChecksumType}}"/>
      <foxml:xmlContent>
        <oai_dc:dc xmlns:oai_dc="http://www.openarchives.org/OAI/2.0/oai_dc/" xmlns:dc="http://purl.org/dc/elements/1.1/">
          <dc:title>{{x .DC.Title}}</dc:title>
          <dc:identifier>{{x .PID}}</dc:identifier>
{{- with .DC.Creator}}
          <dc:creator>{{x .}}</dc:creator>
{{- end}}
{{- with .DC.Subject}}
          <dc:subject>{{x .}}</dc:subject>
{{- end}}
{{- with .DC.Description}}
          <dc:description>{{x .}}</dc:description>
{{- end}}
{{- with .DC.Publisher}}
          <dc:publisher>{{x .}}</dc:publisher>
{{- end}}
        </oai_dc:dc>
      </foxml:xmlContent>
    </foxml:datastreamVersion>
  </foxml:datastream>
  <foxml:datastream ID="RELS-EXT" CONTROL_GROUP="X" STATE="A">
    <foxml:datastreamVersion ID="RELS-EXT.0" CREATED="{{.Created}}" MIMETYPE="application/rdf+xml" LABEL="Fedora Collection ID">
      <foxml:xmlContent>
        <rdf:RDF xmlns:rdf="http://www.w3.org/1999/02/22-rdf-syntax-ns#" xmlns:rel="info:fedora/fedora-system:def/relations-external#">
          <rdf:Description rdf:about="info:fedora/{{x .PID}}">
            <rel:isMemberOfCollection rdf:resource="info:fedora/{{x .Collection}}:{{x .Collection}}"/>
          </rdf:Description>
        </rdf:RDF>
      </foxml:xmlContent>
    </foxml:datastreamVersion>
  </foxml:datastream>
  <foxml:datastream ID="{{x .DatastreamID}}" CONTROL_GROUP="{{code .ControlGroup}}" STATE="A">
    <foxml:datastreamVersion ID="{{x .DatastreamID}}.0" CREATED="{{.Created}}" MIMETYPE="{{x .MIMEType}}" LABEL="{{x .Label}}">
      <foxml:contentDigest TYPE="{{x .ChecksumType}}"{{with .Checksum}} DIGEST="{{x .}}"{{end}}/>
      <foxml:contentLocation REF="{{x .Location}}" TYPE="URL"/>
    </foxml:datastreamVersion>
  </foxml:datastream>
</foxml:digitalObject>
`))
