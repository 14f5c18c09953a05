// Package normalize turns company and person names into the deterministic keys
// shared by prospects, messages, caches and email generation.
package normalize

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// legalForms are entity suffixes dropped from company names (French and international).
var legalForms = map[string]bool{
	"sas": true, "sasu": true, "sarl": true, "eurl": true, "sa": true, "sci": true,
	"snc": true, "sccv": true, "selarl": true, "selas": true, "gmbh": true, "ltd": true,
	"llc": true, "inc": true, "bv": true, "nv": true, "spa": true, "plc": true,
	"ag": true, "co": true, "corp": true,
}

var (
	// "s.a.s." or "s.a.s" -> "sas"
	dottedAcronymRe = regexp.MustCompile(`\b(?:[\pL\d]\.){2,}(?:[\pL\d]\b)?`)
	nonWordRe       = regexp.MustCompile(`[^\pL\pN_\s]+`)
	spaceHyphenRe   = regexp.MustCompile(`[\s\-]+`)
	nonWordOnlyRe   = regexp.MustCompile(`[^\pL\pN_]+`)
	whitespaceRe    = regexp.MustCompile(`\s+`)
)

// StripAccents decomposes s and drops combining marks ("Éric" -> "Eric").
func StripAccents(s string) string {
	t := transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		return s
	}
	return out
}

// Company returns the matching key of a company name: lowercase, accent-free,
// punctuation-free, legal suffixes removed, single-spaced.
func Company(name string) string {
	s := strings.TrimSpace(strings.ToLower(name))
	if s == "" {
		return ""
	}
	s = StripAccents(s)
	s = dottedAcronymRe.ReplaceAllStringFunc(s, func(m string) string {
		return strings.ReplaceAll(m, ".", "")
	})
	s = strings.ReplaceAll(s, "&", " et ")
	s = nonWordRe.ReplaceAllString(s, " ")

	tokens := strings.Fields(s)
	kept := make([]string, 0, len(tokens))
	for i, tok := range tokens {
		// "& Co" style suffixes belong to the trading name.
		if legalForms[tok] && (i == 0 || tokens[i-1] != "et") {
			continue
		}
		kept = append(kept, tok)
	}
	return strings.Join(kept, " ")
}

// NamePart returns the slug of a first or last name used to build local parts.
// "Jean-Pierre" -> "jeanpierre". Empty input yields "".
func NamePart(name string) string {
	s := strings.TrimSpace(strings.ToLower(name))
	if s == "" {
		return ""
	}
	s = StripAccents(s)
	s = spaceHyphenRe.ReplaceAllString(s, "")
	return nonWordOnlyRe.ReplaceAllString(s, "")
}

// CompanySlug is Company with all whitespace removed. It keys the domain cache
// and seeds TLD guesses; it is not the company_key.
func CompanySlug(name string) string {
	return whitespaceRe.ReplaceAllString(Company(name), "")
}
