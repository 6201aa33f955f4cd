package pubmed

import (
	"regexp"
	"strconv"
	"strings"
)

var (
	// markupTag matches an element tag. A letter (or / ! ?) must follow "<"
	// so comparison operators in prose ("p < 0.05 and n > 20") survive.
	markupTag = regexp.MustCompile(`<[A-Za-z/!?][^<>]*>`)

	// entityRef matches numeric (hex or decimal) and named character references.
	entityRef = regexp.MustCompile(`&(#[xX][0-9a-fA-F]+|#[0-9]+|[A-Za-z][A-Za-z0-9]*);`)

	// whitespaceRun covers ASCII whitespace and the Unicode space separators.
	whitespaceRun = regexp.MustCompile(`[\s\p{Z}\x{FEFF}]+`)
)

// hexEntities maps hexadecimal character references, by code point, to their
// replacement. Any hex reference not listed here becomes a space.
var hexEntities = map[int64]string{
	0x2002: " ", // en space
	0x2003: " ", // em space
	0x2008: " ", // punctuation space
	0x2009: " ", // thin space
	0x200a: " ", // hair space
	0xd7:   "×",
	0x2010: "-",
	0x2013: "–",
	0x2014: "—",
	0x2019: "'",
	0x201c: `"`,
	0x201d: `"`,
	0xb7:   "·", // middle dot, used as a decimal separator
}

// decimalEntities maps decimal character references. Everything else becomes a space.
var decimalEntities = map[int64]string{
	183: "·",
}

var namedEntities = map[string]string{
	"middot": "·",
	"amp":    "&",
	"lt":     "<",
	"gt":     ">",
	"quot":   `"`,
	"apos":   "'",
}

// Normalize turns a fragment of PubMed markup into plain prose: tags are
// stripped, a fixed table of character references is decoded, any other
// reference collapses to a space, and whitespace runs collapse to one space.
// Stripping and decoding repeat until neither changes the text, so doubly
// escaped input ("&amp;amp;", "&amp;#xb7;", "&lt;i&gt;") leaves no markup or
// reference behind and Normalize is idempotent.
//
// A "<" counts as a tag only when a letter or one of "/!?" follows it, so
// comparisons such as "p < 0.05" are kept.
func Normalize(raw string) string {
	if raw == "" {
		return ""
	}
	// Every pass that changes s makes it shorter, so the loop terminates.
	s := raw
	for {
		next := entityRef.ReplaceAllStringFunc(markupTag.ReplaceAllString(s, ""), decodeEntity)
		if next == s {
			break
		}
		s = next
	}
	s = whitespaceRun.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

func decodeEntity(ref string) string {
	body := ref[1 : len(ref)-1]
	switch {
	case strings.HasPrefix(body, "#x"), strings.HasPrefix(body, "#X"):
		if cp, err := strconv.ParseInt(body[2:], 16, 32); err == nil {
			if r, ok := hexEntities[cp]; ok {
				return r
			}
		}
		return " "
	case strings.HasPrefix(body, "#"):
		if cp, err := strconv.ParseInt(body[1:], 10, 32); err == nil {
			if r, ok := decimalEntities[cp]; ok {
				return r
			}
		}
		return " "
	default:
		if r, ok := namedEntities[body]; ok {
			return r
		}
		return " "
	}
}
