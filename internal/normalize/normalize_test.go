package normalize

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCompany(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want string
	}{
		{"Acme SAS", "acme"},
		{"ACME S.A.S.", "acme"},
		{"acme s.a.s", "acme"},
		{"  Société Générale  ", "societe generale"},
		{"Dupont & Fils SARL", "dupont et fils"},
		{"Acme & Co", "acme et co"},
		{"Müller GmbH", "muller"},
		{"L'Oréal", "l oreal"},
		{"Big-Corp Inc.", "big"},
		{"", ""},
		{"SAS", ""},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, Company(tt.in))
		})
	}
}

func TestCompany_Idempotent(t *testing.T) {
	t.Parallel()

	inputs := []string{
		"Acme SAS", "ACME S.A.S.", "Acme & Co", "Co & Acme", "x & SAS Co",
		"Éditions du Seuil", "J.P. Morgan Corp", "  ", "Trois   Espaces  SA",
	}
	for _, in := range inputs {
		once := Company(in)
		assert.Equal(t, once, Company(once), "input %q", in)
	}
}

func TestNamePart(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "jeanpierre", NamePart("Jean-Pierre"))
	assert.Equal(t, "helene", NamePart("Hélène"))
	assert.Equal(t, "delafontaine", NamePart("de La Fontaine"))
	assert.Equal(t, "obrien", NamePart("O'Brien"))
	assert.Equal(t, "", NamePart(""))
	assert.Equal(t, "", NamePart("  - "))
}

func TestCompanySlug(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "acmeetco", CompanySlug("Acme & Co"))
	assert.Equal(t, "societegenerale", CompanySlug("Société Générale SA"))
	assert.Equal(t, "", CompanySlug(""))
}

func TestStripAccents(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "Eric Cote", StripAccents("Éric Côté"))
	assert.Equal(t, "plain", StripAccents("plain"))
}
