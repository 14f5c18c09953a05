package importer

import (
	"sort"
	"strings"

	"github.com/rotisserie/eris"
)

// Canonical column names.
const (
	ColFirstname = "firstname"
	ColLastname  = "lastname"
	ColCompany   = "company"
	ColEmail     = "email"
	ColSubject   = "subject"
	ColBody      = "body_text"
)

var (
	firstnameSyn = []string{"firstname", "prenom", "first_name", "prénom", "first"}
	lastnameSyn  = []string{"lastname", "nom", "last_name", "family_name", "last", "nom_de_famille"}
	companySyn   = []string{"company", "entreprise", "societe", "société", "organization", "organisation", "compagnie"}
	emailSyn     = []string{"email", "e-mail", "mail", "adresse_email", "adresse_mail", "email_address", "courriel", "adresse"}
	subjectSyn   = []string{"subject", "objet", "sujet", "titre", "title"}
	bodySyn      = []string{"body_text", "message", "body", "content", "contenu", "texte", "corps"}
)

// ProspectColumns lists the synonyms of each prospect column.
var ProspectColumns = map[string][]string{
	ColFirstname: firstnameSyn,
	ColLastname:  lastnameSyn,
	ColCompany:   companySyn,
}

// MessageColumns lists the synonyms of each message column.
var MessageColumns = map[string][]string{
	ColCompany: companySyn,
	ColSubject: subjectSyn,
	ColBody:    bodySyn,
}

// Mapping maps a canonical column to its index in the header, or -1.
type Mapping map[string]int

// Detect matches header cells against synonyms, case-insensitively. For each
// canonical column the first synonym present wins.
func Detect(header []string, columns map[string][]string) Mapping {
	idx := make(map[string]int, len(header))
	for i, h := range header {
		key := strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))
		if _, dup := idx[key]; !dup {
			idx[key] = i
		}
	}

	m := make(Mapping, len(columns))
	for col, syns := range columns {
		m[col] = -1
		for _, syn := range syns {
			if i, ok := idx[syn]; ok {
				m[col] = i
				break
			}
		}
	}
	return m
}

// Missing returns the canonical columns without a header match, sorted.
func (m Mapping) Missing() []string {
	var out []string
	for col, i := range m {
		if i < 0 {
			out = append(out, col)
		}
	}
	sort.Strings(out)
	return out
}

// Require returns an error naming every missing column.
func (m Mapping) Require() error {
	if missing := m.Missing(); len(missing) > 0 {
		return eris.Errorf("importer: missing columns: %s", strings.Join(missing, ", "))
	}
	return nil
}
