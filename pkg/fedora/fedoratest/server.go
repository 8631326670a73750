// Package fedoratest provides an in-process repository that speaks the subset
// of the Fedora 3 REST API used by dstransfer.
package fedoratest

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"dstransfer/pkg/auth"
	"dstransfer/pkg/config"
	"dstransfer/pkg/storage"
)

const Root = "/fedora/"

// Datastream is one stored datastream. The Reported* and Omit fields make
// the profile disagree with the stored content.
type Datastream struct {
	Label        string
	MIME         string
	ControlGroup string
	ChecksumType string
	Checksum     string
	Content      []byte

	// ReportedChecksum replaces the checksum in the profile when set.
	ReportedChecksum string
	// ReportedSize replaces dsSize in the profile when positive.
	ReportedSize int64
	// OmitSize drops dsSize from the profile.
	OmitSize bool
	// StallAfter makes the content handler hang after that many bytes.
	StallAfter int
}

// Request is a request observed by the server.
type Request struct {
	Method string
	Path   string
	Query  url.Values
}

// Server is an in-process Fedora REST endpoint holding datastreams in memory.
type Server struct {
	*httptest.Server

	mu               sync.Mutex
	username         string
	password         string
	profileRoot      string
	corruptChecksums bool
	datastreams      map[string]*Datastream
	requests         []Request
	verifier         *storage.Verifier
}

// NewServer starts a server that is closed when the test ends.
func NewServer(t testing.TB) *Server {
	s := &Server{
		profileRoot: "datastreamProfile",
		datastreams: make(map[string]*Datastream),
		verifier:    storage.NewVerifier(0),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET "+Root+"objects/{pid}/datastreams/{dsid}", s.handleProfile)
	mux.HandleFunc("GET "+Root+"objects/{pid}/datastreams/{dsid}/content", s.handleContent)
	mux.HandleFunc("POST "+Root+"objects/{pid}/datastreams/{dsid}", s.handleWrite)
	mux.HandleFunc("PUT "+Root+"objects/{pid}/datastreams/{dsid}", s.handleWrite)

	s.Server = httptest.NewServer(s.withAuth(mux))
	t.Cleanup(s.Close)
	return s
}

// RequireCredentials makes every request need HTTP basic credentials.
func (s *Server) RequireCredentials(username, password string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.username, s.password = username, password
}

// SetProfileRoot changes the root element of served profiles.
func (s *Server) SetProfileRoot(root string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.profileRoot = root
}

// CorruptChecksums makes every profile report a wrong checksum.
func (s *Server) CorruptChecksums() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.corruptChecksums = true
}

// Settings returns endpoint settings pointing at the server, with the
// required credentials when set.
func (s *Server) Settings() config.EndpointSettings {
	s.mu.Lock()
	username, password := s.username, s.password
	s.mu.Unlock()

	u, _ := url.Parse(s.URL)
	host, portStr, _ := net.SplitHostPort(u.Host)
	port, _ := strconv.Atoi(portStr)

	return config.EndpointSettings{
		Server:          host,
		Port:            port,
		Root:            Root,
		Transport:       config.SchemeHTTP,
		Username:        username,
		Password:        password,
		TLS:             auth.DefaultTLSOptions(),
		ConnectTimeout:  5 * time.Second,
		ResponseTimeout: 5 * time.Second,
	}
}

// Put stores a datastream. A missing checksum is computed from the content
// with ChecksumType (MD5 when unset).
func (s *Server) Put(pid, dsid string, ds Datastream) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if ds.ControlGroup == "" {
		ds.ControlGroup = "M"
	}
	if ds.ChecksumType == "" {
		ds.ChecksumType = "MD5"
	}
	if ds.Checksum == "" {
		ds.Checksum = s.digest(ds.ChecksumType, ds.Content)
	}
	s.datastreams[key(pid, dsid)] = &ds
}

// Datastream returns a copy of a stored datastream.
func (s *Server) Datastream(pid, dsid string) (Datastream, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ds, ok := s.datastreams[key(pid, dsid)]
	if !ok {
		return Datastream{}, false
	}
	return *ds, true
}

// Requests returns the requests seen so far.
func (s *Server) Requests() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Request(nil), s.requests...)
}

func key(pid, dsid string) string {
	return pid + "/" + dsid
}

func (s *Server) digest(algorithm string, content []byte) string {
	sum, err := s.verifier.Checksum(algorithm, bytes.NewReader(content))
	if err != nil {
		return "none"
	}
	return sum
}

func (s *Server) withAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.requests = append(s.requests, Request{Method: r.Method, Path: r.URL.Path, Query: r.URL.Query()})
		username, password := s.username, s.password
		s.mu.Unlock()

		if username != "" {
			user, pass, ok := r.BasicAuth()
			if !ok || user != username || pass != password {
				w.Header().Set("WWW-Authenticate", `Basic realm="fedora"`)
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) lookup(r *http.Request) (Datastream, bool) {
	return s.Datastream(r.PathValue("pid"), r.PathValue("dsid"))
}

func (s *Server) handleProfile(w http.ResponseWriter, r *http.Request) {
	ds, ok := s.lookup(r)
	if !ok {
		http.NotFound(w, r)
		return
	}

	s.mu.Lock()
	root, corrupt := s.profileRoot, s.corruptChecksums
	s.mu.Unlock()

	checksum := ds.Checksum
	if ds.ReportedChecksum != "" {
		checksum = ds.ReportedChecksum
	}
	if corrupt {
		checksum = strings.Repeat("0", len(checksum))
	}

	var b strings.Builder
	b.WriteString(xml.Header)
	fmt.Fprintf(&b, `<%s xmlns="http://www.fedora.info/definitions/1/0/management/" pid="%s" dsID="%s">`+"\n",
		root, escape(r.PathValue("pid")), escape(r.PathValue("dsid")))
	field := func(name, value string) {
		fmt.Fprintf(&b, "  <%s>%s</%s>\n", name, escape(value), name)
	}
	field("dsLabel", ds.Label)
	field("dsVersionID", r.PathValue("dsid")+".0")
	field("dsState", "A")
	field("dsMIME", ds.MIME)
	field("dsControlGroup", ds.ControlGroup)
	if !ds.OmitSize {
		size := int64(len(ds.Content))
		if ds.ReportedSize > 0 {
			size = ds.ReportedSize
		}
		field("dsSize", strconv.FormatInt(size, 10))
	}
	field("dsChecksumType", ds.ChecksumType)
	field("dsChecksum", checksum)
	fmt.Fprintf(&b, "</%s>\n", root)

	w.Header().Set("Content-Type", "text/xml")
	_, _ = io.WriteString(w, b.String())
}

func (s *Server) handleContent(w http.ResponseWriter, r *http.Request) {
	ds, ok := s.lookup(r)
	if !ok {
		http.NotFound(w, r)
		return
	}

	if ds.MIME != "" {
		w.Header().Set("Content-Type", ds.MIME)
	}

	if ds.StallAfter > 0 && ds.StallAfter < len(ds.Content) {
		_, _ = w.Write(ds.Content[:ds.StallAfter])
		if f, ok := w.(http.Flusher); ok {
			f.Flush()
		}
		<-r.Context().Done()
		return
	}

	w.Header().Set("Content-Length", strconv.Itoa(len(ds.Content)))
	_, _ = w.Write(ds.Content)
}

func (s *Server) handleWrite(w http.ResponseWriter, r *http.Request) {
	pid, dsid := r.PathValue("pid"), r.PathValue("dsid")
	q := r.URL.Query()

	content, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	checksumType := q.Get("checksumType")
	switch checksumType {
	case "":
		checksumType = "MD5"
	case "MD5", "SHA-1", "SHA-256", "SHA-384", "SHA-512", "DISABLED":
	default:
		http.Error(w, fmt.Sprintf("Unknown checksum type: %s", checksumType), http.StatusBadRequest)
		return
	}
	computed := s.digest(checksumType, content)
	if want := q.Get("checksum"); want != "" && !strings.EqualFold(want, computed) {
		http.Error(w, fmt.Sprintf("Checksum Mismatch: %s", computed), http.StatusBadRequest)
		return
	}

	existing, exists := s.Datastream(pid, dsid)
	ds := Datastream{
		Label:        existing.Label,
		MIME:         q.Get("mimeType"),
		ControlGroup: q.Get("controlGroup"),
		ChecksumType: checksumType,
		Checksum:     computed,
		Content:      content,
	}
	if label := q.Get("dsLabel"); label != "" {
		ds.Label = label
	}
	if ds.ControlGroup == "" {
		ds.ControlGroup = "M"
	}

	s.mu.Lock()
	s.datastreams[key(pid, dsid)] = &ds
	s.mu.Unlock()

	if r.Method == http.MethodPost || !exists {
		w.Header().Set("Location", r.URL.Path)
		w.WriteHeader(http.StatusCreated)
		return
	}
	s.handleProfile(w, r)
}

func escape(s string) string {
	var b strings.Builder
	_ = xml.EscapeText(&b, []byte(s))
	return b.String()
}
