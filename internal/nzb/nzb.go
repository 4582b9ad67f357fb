// Package nzb reads and writes NZB manifests, the XML index that lists
// the articles making up a Usenet binary post.
package nzb

import (
	"encoding/xml"
	"fmt"
	"io"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"time"

	ncerr "gonntp/internal/errors"
)

const format = "nzb"

// Namespace is the NZB 1.1 XML namespace.
const Namespace = "http://www.newzbin.com/DTD/2003/nzb"

const doctype = `<!DOCTYPE nzb PUBLIC "-//newzBin//DTD NZB 1.1//EN" "http://www.newzbin.com/DTD/nzb/nzb-1.1.dtd">`

// Manifest is a parsed NZB document.
type Manifest struct {
	Meta  map[string]string // <head> metadata by type (title, password, category...)
	Files []*File
}

// File is one posted file.
type File struct {
	Poster   string
	Date     time.Time
	Subject  string
	Groups   []string
	Segments []Segment // ordered by Number
}

// Segment is one article of a file.
type Segment struct {
	Number    int
	Bytes     int64
	MessageID string // without angle brackets
}

// ── XML shape ────────────────────────────────────────────────────────

type xmlNZB struct {
	XMLName xml.Name  `xml:"nzb"`
	Xmlns   string    `xml:"xmlns,attr,omitempty"`
	Head    *xmlHead  `xml:"head,omitempty"`
	Files   []xmlFile `xml:"file"`
}

type xmlHead struct {
	Meta []xmlMeta `xml:"meta"`
}

type xmlMeta struct {
	Type  string `xml:"type,attr"`
	Value string `xml:",chardata"`
}

type xmlFile struct {
	Poster   string       `xml:"poster,attr"`
	Date     string       `xml:"date,attr"`
	Subject  string       `xml:"subject,attr"`
	Groups   []string     `xml:"groups>group"`
	Segments []xmlSegment `xml:"segments>segment"`
}

type xmlSegment struct {
	Bytes     string `xml:"bytes,attr"`
	Number    string `xml:"number,attr"`
	MessageID string `xml:",chardata"`
}

// ── Parsing ──────────────────────────────────────────────────────────

// Parse reads an NZB document.  Segments are sorted by number; the
// numbering itself is checked by File.Validate, not here.
func Parse(r io.Reader) (*Manifest, error) {
	var doc xmlNZB
	dec := xml.NewDecoder(r)
	dec.Strict = false
	if err := dec.Decode(&doc); err != nil {
		return nil, &ncerr.ValidationError{Format: format, Offset: dec.InputOffset(), Message: "malformed xml", Err: err}
	}

	m := &Manifest{Meta: make(map[string]string)}
	if doc.Head != nil {
		for _, meta := range doc.Head.Meta {
			m.Meta[meta.Type] = strings.TrimSpace(meta.Value)
		}
	}

	for i, xf := range doc.Files {
		f := &File{
			Poster:  xf.Poster,
			Subject: xf.Subject,
		}
		if xf.Date != "" {
			ts, err := strconv.ParseInt(strings.TrimSpace(xf.Date), 10, 64)
			if err != nil {
				return nil, ncerr.Invalid(format, "file %d: bad date %q", i+1, xf.Date)
			}
			f.Date = time.Unix(ts, 0).UTC()
		}
		for _, g := range xf.Groups {
			if g = strings.TrimSpace(g); g != "" {
				f.Groups = append(f.Groups, g)
			}
		}
		for _, xs := range xf.Segments {
			seg, err := parseSegment(xs)
			if err != nil {
				return nil, ncerr.Invalid(format, "file %d: %v", i+1, err)
			}
			f.Segments = append(f.Segments, seg)
		}
		slices.SortStableFunc(f.Segments, func(a, b Segment) int { return a.Number - b.Number })
		m.Files = append(m.Files, f)
	}
	return m, nil
}

func parseSegment(xs xmlSegment) (Segment, error) {
	var s Segment
	n, err := strconv.Atoi(strings.TrimSpace(xs.Number))
	if err != nil {
		return s, fmt.Errorf("bad segment number %q", xs.Number)
	}
	s.Number = n
	if xs.Bytes != "" {
		if s.Bytes, err = strconv.ParseInt(strings.TrimSpace(xs.Bytes), 10, 64); err != nil || s.Bytes < 0 {
			return s, fmt.Errorf("segment %d: bad byte count %q", n, xs.Bytes)
		}
	}
	id := strings.TrimSpace(xs.MessageID)
	id = strings.TrimSuffix(strings.TrimPrefix(id, "<"), ">")
	if id == "" {
		return s, fmt.Errorf("segment %d: empty message-id", n)
	}
	s.MessageID = id
	return s, nil
}

// ── Queries ──────────────────────────────────────────────────────────

// Bytes is the sum of the segment sizes.
func (f *File) Bytes() int64 {
	var n int64
	for _, s := range f.Segments {
		n += s.Bytes
	}
	return n
}

// Validate checks that segments are numbered 1..n without gaps or
// duplicates.
func (f *File) Validate() error {
	if len(f.Segments) == 0 {
		return ncerr.Invalid(format, "%s: no segments", f.Subject)
	}
	seen := make(map[int]bool, len(f.Segments))
	for _, s := range f.Segments {
		if s.Number < 1 {
			return ncerr.Invalid(format, "%s: segment number %d", f.Subject, s.Number)
		}
		if seen[s.Number] {
			return ncerr.Invalid(format, "%s: duplicate segment %d", f.Subject, s.Number)
		}
		seen[s.Number] = true
	}
	if missing := f.MissingSegments(); len(missing) > 0 {
		return ncerr.Invalid(format, "%s: missing segments %v", f.Subject, missing)
	}
	return nil
}

// MissingSegments lists the numbers absent from 1..max.
func (f *File) MissingSegments() []int {
	if len(f.Segments) == 0 {
		return nil
	}
	seen := make(map[int]bool, len(f.Segments))
	hi := 0
	for _, s := range f.Segments {
		seen[s.Number] = true
		hi = max(hi, s.Number)
	}
	var missing []int
	for i := 1; i <= hi; i++ {
		if !seen[i] {
			missing = append(missing, i)
		}
	}
	return missing
}

var quoted = regexp.MustCompile(`"([^"]+)"`)

// Name guesses the file name from the subject: the first quoted string,
// or the subject itself.
func (f *File) Name() string {
	if m := quoted.FindStringSubmatch(f.Subject); m != nil {
		return m[1]
	}
	return strings.TrimSpace(f.Subject)
}

// TotalBytes is the sum over all files.
func (m *Manifest) TotalBytes() int64 {
	var n int64
	for _, f := range m.Files {
		n += f.Bytes()
	}
	return n
}

// Validate checks every file.
func (m *Manifest) Validate() error {
	if len(m.Files) == 0 {
		return ncerr.Invalid(format, "no files")
	}
	for _, f := range m.Files {
		if err := f.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// ── Writing ──────────────────────────────────────────────────────────

// Write serialises m as an NZB 1.1 document.  Metadata is written in
// key order.
func (m *Manifest) Write(w io.Writer) error {
	doc := xmlNZB{Xmlns: Namespace}
	if len(m.Meta) > 0 {
		doc.Head = &xmlHead{}
		keys := make([]string, 0, len(m.Meta))
		for k := range m.Meta {
			keys = append(keys, k)
		}
		slices.Sort(keys)
		for _, k := range keys {
			doc.Head.Meta = append(doc.Head.Meta, xmlMeta{Type: k, Value: m.Meta[k]})
		}
	}
	for _, f := range m.Files {
		xf := xmlFile{
			Poster:  f.Poster,
			Subject: f.Subject,
			Groups:  f.Groups,
		}
		if !f.Date.IsZero() {
			xf.Date = strconv.FormatInt(f.Date.Unix(), 10)
		}
		for _, s := range f.Segments {
			xf.Segments = append(xf.Segments, xmlSegment{
				Bytes:     strconv.FormatInt(s.Bytes, 10),
				Number:    strconv.Itoa(s.Number),
				MessageID: s.MessageID,
			})
		}
		doc.Files = append(doc.Files, xf)
	}

	if _, err := io.WriteString(w, xml.Header+doctype+"\n"); err != nil {
		return err
	}
	enc := xml.NewEncoder(w)
	enc.Indent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return err
	}
	_, err := io.WriteString(w, "\n")
	return err
}
