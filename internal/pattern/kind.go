// Package pattern generates addresses from naming rules and infers which rule
// a domain uses from the addresses it publishes.
package pattern

import (
	"strings"

	"github.com/sells-group/mailfinder/internal/normalize"
)

// Kind is one of the nine local-part construction rules.
type Kind int

// Kinds in priority order. Ties between rules resolve to the earliest.
const (
	PrenomNom  Kind = iota // first.last
	PNom                   // f.last
	PrenomNomC             // firstlast
	PNomC                  // flast
	PrenomUNom             // first_last
	NomPrenom              // last.first
	Prenom                 // first
	Nom                    // last
	NomP                   // lastf
)

// Default is the prior used when there is no evidence.
const Default = PrenomNom

var kindNames = [...]string{
	PrenomNom:  "prenom.nom",
	PNom:       "p.nom",
	PrenomNomC: "prenomnom",
	PNomC:      "pnom",
	PrenomUNom: "prenom_nom",
	NomPrenom:  "nom.prenom",
	Prenom:     "prenom",
	Nom:        "nom",
	NomP:       "nomp",
}

// All lists every kind in priority order.
func All() []Kind {
	return []Kind{PrenomNom, PNom, PrenomNomC, PNomC, PrenomUNom, NomPrenom, Prenom, Nom, NomP}
}

func (k Kind) String() string {
	if k < 0 || int(k) >= len(kindNames) {
		return "unknown"
	}
	return kindNames[k]
}

// Valid reports whether k is one of the nine rules.
func (k Kind) Valid() bool {
	return k >= PrenomNom && k <= NomP
}

// Parse maps a wire name such as "p.nom" to its Kind.
func Parse(name string) (Kind, bool) {
	name = strings.ToLower(strings.TrimSpace(name))
	for i, n := range kindNames {
		if n == name {
			return Kind(i), true
		}
	}
	return 0, false
}

// Local builds the local part from already-normalized first and last names.
// An empty first name degrades the initial-based rules to the last name.
func (k Kind) Local(first, last string) string {
	initial := ""
	if first != "" {
		initial = first[:1]
	}
	switch k {
	case PrenomNom:
		return first + "." + last
	case PNom:
		if initial == "" {
			return last
		}
		return initial + "." + last
	case PrenomNomC:
		return first + last
	case PNomC:
		return initial + last
	case PrenomUNom:
		return first + "_" + last
	case NomPrenom:
		return last + "." + first
	case Prenom:
		return first
	case Nom:
		return last
	case NomP:
		return last + initial
	}
	return first + "." + last
}

// Generate returns the address for a person at domain under kind. It reports
// false when the first name, last name or domain normalize to nothing.
func Generate(first, last, domain string, kind Kind) (string, bool) {
	f := normalize.NamePart(first)
	l := normalize.NamePart(last)
	domain = strings.ToLower(strings.TrimSpace(domain))
	if f == "" || l == "" || domain == "" {
		return "", false
	}
	return kind.Local(f, l) + "@" + domain, true
}

// Candidates returns one address per kind, preferred first, then the rest in
// priority order. An address produced by several kinds is listed once, under
// the first of them.
func Candidates(first, last, domain string, preferred *Kind) []Candidate {
	order := All()
	if preferred != nil && preferred.Valid() {
		order = append([]Kind{*preferred}, without(order, *preferred)...)
	}
	var out []Candidate
	seen := make(map[string]bool)
	for _, k := range order {
		email, ok := Generate(first, last, domain, k)
		if !ok || seen[email] {
			continue
		}
		seen[email] = true
		out = append(out, Candidate{Kind: k, Email: email})
	}
	return out
}

// Candidate is a generated address and the rule that built it.
type Candidate struct {
	Kind  Kind
	Email string
}

func without(kinds []Kind, k Kind) []Kind {
	out := make([]Kind, 0, len(kinds))
	for _, x := range kinds {
		if x != k {
			out = append(out, x)
		}
	}
	return out
}
