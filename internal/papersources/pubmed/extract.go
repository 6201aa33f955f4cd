package pubmed

import (
	"bytes"
	"encoding/xml"
	"errors"
	"io"
	"regexp"
	"strings"

	"golang.org/x/net/html/charset"

	"github.com/helixir/clinical-trial-extractor/internal/domain"
)

// Fields holds the values pulled out of one efetch PubmedArticle document.
// Every field is normalized; anything that could not be found is empty.
type Fields struct {
	PMID             string
	PMCID            string
	Title            string
	Abstract         string
	DOI              string
	PublicationDate  string
	Year             string
	Journal          string
	Authors          []string
	PublicationTypes []string
}

// Fallback tables. Each entry is an element path suffix; earlier entries win.
var (
	// TitlePaths are tried in order; the first non-empty title wins.
	TitlePaths = [][]string{
		{"Article", "ArticleTitle"},
		{"Article", "VernacularTitle"},
		{"Article", "Journal", "Title"},
	}

	// AbstractPaths are tried in order. A path selecting several elements
	// contributes all of them joined with a space. The first candidate reaching
	// domain.MinSubstantialAbstractLength wins, else the last non-empty one.
	AbstractPaths = []abstractCandidate{
		{Path: []string{"Article", "Abstract", "AbstractText"}, All: true},
		{Path: []string{"Article", "Abstract"}},
		{Path: []string{"OtherAbstract", "AbstractText"}, All: true},
	}

	// DOIPaths are tried in order with the attribute filter of each entry.
	DOIPaths = []attrPath{
		{Path: []string{"PubmedData", "ArticleIdList", "ArticleId"}, Attr: "IdType", Value: "doi"},
		{Path: []string{"Article", "ELocationID"}, Attr: "EIdType", Value: "doi"},
	}

	// DatePaths are tried in order; the first element carrying a year wins.
	DatePaths = [][]string{
		{"JournalIssue", "PubDate"},
		{"Article", "ArticleDate"},
		{"MedlineCitation", "DateCompleted"},
	}

	pmidPath        = []string{"MedlineCitation", "PMID"}
	pmcPath         = attrPath{Path: []string{"PubmedData", "ArticleIdList", "ArticleId"}, Attr: "IdType", Value: "pmc"}
	journalPath     = []string{"Article", "Journal", "Title"}
	authorPath      = []string{"AuthorList", "Author"}
	publicationPath = []string{"PublicationTypeList", "PublicationType"}
)

type abstractCandidate struct {
	Path []string
	All  bool
}

type attrPath struct {
	Path  []string
	Attr  string
	Value string
}

var fourDigitYear = regexp.MustCompile(`\b(1[89]|20)\d{2}\b`)

// ExtractFields parses an efetch XML document. It never fails: a malformed or
// truncated document yields whatever was collected before the parser stopped.
func ExtractFields(doc []byte) Fields {
	root := parseTree(doc)

	f := Fields{
		PMID:             root.firstText(pmidPath),
		PMCID:            root.firstWithAttr(pmcPath),
		Journal:          root.firstText(journalPath),
		Authors:          extractAuthors(root),
		PublicationTypes: root.allTexts(publicationPath),
	}

	for _, p := range TitlePaths {
		if f.Title = root.firstText(p); f.Title != "" {
			break
		}
	}

	f.Abstract = selectAbstract(root)

	for _, p := range DOIPaths {
		if f.DOI = root.firstWithAttr(p); f.DOI != "" {
			break
		}
	}

	f.PublicationDate, f.Year = extractDate(root)
	return f
}

func selectAbstract(root *node) string {
	var last string
	for _, c := range AbstractPaths {
		var text string
		if c.All {
			text = strings.Join(root.allTexts(c.Path), " ")
		} else {
			text = root.firstText(c.Path)
		}
		if text == "" {
			continue
		}
		if domain.IsSubstantial(text) {
			return text
		}
		last = text
	}
	return last
}

func extractAuthors(root *node) []string {
	var authors []string
	for _, a := range root.find(authorPath) {
		if collective := a.childText("CollectiveName"); collective != "" {
			authors = append(authors, collective)
			continue
		}
		name := strings.TrimSpace(a.childText("LastName") + " " + a.childText("Initials"))
		if name != "" {
			authors = append(authors, name)
		}
	}
	return authors
}

// extractDate composes "YYYY", "YYYY/Month" or "YYYY/Month/Day" from the first
// date element carrying a year. MedlineDate ("2020 Jan-Feb") supplies only the year.
func extractDate(root *node) (date, year string) {
	for _, p := range DatePaths {
		for _, n := range root.find(p) {
			y := n.childText("Year")
			if y == "" {
				if y = fourDigitYear.FindString(n.childText("MedlineDate")); y == "" {
					continue
				}
				return y, y
			}
			date = y
			if m := n.childText("Month"); m != "" {
				date += "/" + m
				if d := n.childText("Day"); d != "" {
					date += "/" + d
				}
			}
			return date, y
		}
	}
	return "", ""
}

// node is a minimal element tree that keeps each element's raw inner markup,
// so character references reach Normalize undecoded.
type node struct {
	name     string
	attrs    []xml.Attr
	parent   *node
	children []*node
	start    int64
	inner    []byte
}

func parseTree(doc []byte) *node {
	doc = toUTF8(doc)

	d := xml.NewDecoder(bytes.NewReader(doc))
	d.Strict = false
	d.Entity = xml.HTMLEntity
	// The document is already UTF-8; accept whatever label the prolog declares.
	d.CharsetReader = func(_ string, input io.Reader) (io.Reader, error) { return input, nil }

	root := &node{}
	cur := root
	prev := d.InputOffset()
	for {
		tok, err := d.Token()
		if err != nil {
			break
		}
		switch t := tok.(type) {
		case xml.StartElement:
			n := &node{name: t.Name.Local, attrs: t.Attr, parent: cur, start: d.InputOffset()}
			cur.children = append(cur.children, n)
			cur = n
		case xml.EndElement:
			if cur != root {
				cur.inner = slice(doc, cur.start, prev)
				cur = cur.parent
			}
		}
		prev = d.InputOffset()
	}

	// Close whatever the decoder left open with the content read so far.
	for ; cur != root; cur = cur.parent {
		cur.inner = slice(doc, cur.start, prev)
	}
	return root
}

func slice(doc []byte, from, to int64) []byte {
	if from < 0 || to > int64(len(doc)) || from > to {
		return nil
	}
	return doc[from:to]
}

var xmlDeclEncoding = regexp.MustCompile(`^\s*<\?xml[^>]*encoding\s*=\s*["']([A-Za-z0-9._-]+)["']`)

// toUTF8 transcodes documents that declare a non-UTF-8 encoding.
func toUTF8(doc []byte) []byte {
	m := xmlDeclEncoding.FindSubmatch(doc)
	if m == nil {
		return doc
	}
	label := strings.ToLower(string(m[1]))
	if label == "utf-8" || label == "utf8" || label == "us-ascii" {
		return doc
	}
	r, err := charset.NewReaderLabel(label, bytes.NewReader(doc))
	if err != nil {
		return doc
	}
	out, err := io.ReadAll(r)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) {
		return doc
	}
	return out
}

// matches reports whether the element names ending at n equal path.
func (n *node) matches(path []string) bool {
	cur := n
	for i := len(path) - 1; i >= 0; i-- {
		if cur == nil || cur.name != path[i] {
			return false
		}
		cur = cur.parent
	}
	return true
}

// find returns every element, in document order, whose path ends with path.
func (n *node) find(path []string) []*node {
	var out []*node
	var walk func(*node)
	walk = func(cur *node) {
		for _, c := range cur.children {
			if c.matches(path) {
				out = append(out, c)
			}
			walk(c)
		}
	}
	walk(n)
	return out
}

func (n *node) text() string {
	return Normalize(string(n.inner))
}

func (n *node) firstText(path []string) string {
	for _, m := range n.find(path) {
		if t := m.text(); t != "" {
			return t
		}
	}
	return ""
}

func (n *node) allTexts(path []string) []string {
	var out []string
	for _, m := range n.find(path) {
		if t := m.text(); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func (n *node) firstWithAttr(p attrPath) string {
	for _, m := range n.find(p.Path) {
		if !strings.EqualFold(m.attr(p.Attr), p.Value) {
			continue
		}
		if t := m.text(); t != "" {
			return t
		}
	}
	return ""
}

func (n *node) attr(name string) string {
	for _, a := range n.attrs {
		if a.Name.Local == name {
			return a.Value
		}
	}
	return ""
}

func (n *node) childText(name string) string {
	for _, c := range n.children {
		if c.name == name {
			return c.text()
		}
	}
	return ""
}
