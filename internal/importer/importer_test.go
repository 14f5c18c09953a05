package importer

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/mailfinder/internal/model"
	"github.com/sells-group/mailfinder/internal/store"
)

func newTestStore(t *testing.T) store.Store {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func createTestXLSX(t *testing.T, rows [][]string) string {
	t.Helper()
	f := xlsx.NewFile()
	sheet, err := f.AddSheet("Sheet1")
	require.NoError(t, err)
	for _, rowData := range rows {
		row := sheet.AddRow()
		for _, v := range rowData {
			row.AddCell().SetString(v)
		}
	}
	path := filepath.Join(t.TempDir(), "prospects.xlsx")
	require.NoError(t, f.Save(path))
	return path
}

func TestReadCSV_UTF8WithBOM(t *testing.T) {
	data := append([]byte{0xEF, 0xBB, 0xBF}, []byte("Prénom,Nom,Société\nÉlodie,Durand,Crème SA\n")...)
	tbl, err := ReadCSV(data)
	require.NoError(t, err)
	assert.Equal(t, "utf-8", tbl.Encoding)
	assert.Equal(t, []string{"Prénom", "Nom", "Société"}, tbl.Header)
	require.Len(t, tbl.Rows, 1)
	assert.Equal(t, "Élodie", tbl.Rows[0][0])
}

func TestReadCSV_Latin1(t *testing.T) {
	// "Société" with é as 0xE9.
	data := []byte("prenom,nom,soci\xe9t\xe9\nJean,Dupont,Caf\xe9 SARL\n")
	tbl, err := ReadCSV(data)
	require.NoError(t, err)
	assert.Equal(t, "latin-1", tbl.Encoding)
	assert.Equal(t, "société", tbl.Header[2])
	assert.Equal(t, "Café SARL", tbl.Rows[0][2])
}

func TestReadCSV_Windows1252(t *testing.T) {
	// 0x92 is a right single quote in cp1252 and a C1 control in latin-1.
	data := []byte("prenom,nom,entreprise\nJean,D\x92Alembert,Acme\n")
	tbl, err := ReadCSV(data)
	require.NoError(t, err)
	assert.Equal(t, "cp1252", tbl.Encoding)
	assert.Equal(t, "D’Alembert", tbl.Rows[0][1])
}

func TestReadCSV_SkipsBlankRows(t *testing.T) {
	tbl, err := ReadCSV([]byte("a,b\n1,2\n,\n3,4\n"))
	require.NoError(t, err)
	assert.Len(t, tbl.Rows, 2)
}

func TestReadFile_XLSX(t *testing.T) {
	path := createTestXLSX(t, [][]string{
		{"First_Name", "Last_Name", "Organisation"},
		{"Paul", "Martin", "Acme"},
	})
	tbl, err := ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "xlsx", tbl.Encoding)
	assert.Equal(t, [][]string{{"Paul", "Martin", "Acme"}}, tbl.Rows)
}

func TestReadFile_Unsupported(t *testing.T) {
	path := filepath.Join(t.TempDir(), "x.txt")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o600))
	_, err := ReadFile(path)
	assert.Error(t, err)
}

func TestDetect(t *testing.T) {
	m := Detect([]string{" Entreprise ", "PRENOM", "family_name", "Courriel"}, withEmailColumn(ProspectColumns))
	assert.Equal(t, 0, m[ColCompany])
	assert.Equal(t, 1, m[ColFirstname])
	assert.Equal(t, 2, m[ColLastname])
	assert.Equal(t, 3, m[ColEmail])
	assert.Empty(t, m.Missing())

	m = Detect([]string{"objet"}, MessageColumns)
	assert.Equal(t, []string{"body_text", "company"}, m.Missing())
	assert.EqualError(t, m.Require(), "importer: missing columns: body_text, company")
}

func TestDetect_FirstSynonymWins(t *testing.T) {
	m := Detect([]string{"message", "body_text"}, map[string][]string{ColBody: bodySyn})
	assert.Equal(t, 1, m[ColBody])
}

func TestImportProspects(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	tbl := &Table{
		Header: []string{"prenom", "nom", "societe", "email"},
		Rows: [][]string{
			{"Jean", "Dupont", "Acme S.A.S.", " Jean.Dupont@Acme.fr "},
			{"Marie", "Curie", "Acme SAS", ""},
			{"", "Nobody", "Acme", ""},
		},
		Encoding: "utf-8",
	}

	res, err := ImportProspects(ctx, st, tbl, true)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Imported)
	assert.Equal(t, 1, res.Skipped)
	assert.Equal(t, 1, res.WithEmail)

	prospects, err := st.ListProspects(ctx, store.ProspectFilter{})
	require.NoError(t, err)
	require.Len(t, prospects, 2)
	assert.Equal(t, prospects[0].CompanyKey, prospects[1].CompanyKey)

	remaining, err := st.ListProspects(ctx, store.ProspectFilter{WithoutSuggestion: true})
	require.NoError(t, err)
	require.Len(t, remaining, 1)
	assert.Equal(t, "Marie", remaining[0].Firstname)

	rows, err := st.ListSuggestionRows(ctx)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "jean.dupont@acme.fr", rows[0].Email)
	assert.Equal(t, "acme.fr", rows[0].Domain)
	assert.Equal(t, model.PatternManual, rows[0].Pattern)
	assert.Equal(t, model.SuggestionImported, rows[0].Status)
	assert.InDelta(t, 1.0, rows[0].Confidence, 1e-9)
}

func TestImportProspects_WithoutEmailIgnoresEmailColumn(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	tbl := &Table{
		Header: []string{"firstname", "lastname", "company", "email"},
		Rows:   [][]string{{"Jean", "Dupont", "Acme", "jean@acme.fr"}},
	}
	res, err := ImportProspects(ctx, st, tbl, false)
	require.NoError(t, err)
	assert.Zero(t, res.WithEmail)

	rows, err := st.ListSuggestionRows(ctx)
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestImportProspects_MissingColumns(t *testing.T) {
	_, err := ImportProspects(context.Background(), newTestStore(t), &Table{Header: []string{"prenom"}}, true)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "company, lastname")
	assert.NotContains(t, err.Error(), "email")
}

func TestImportMessages(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	tbl := &Table{
		Header: []string{"Entreprise", "Objet", "Corps"},
		Rows: [][]string{
			{"Acme SAS", "Bonjour", "Premier"},
			{"ACME", "Bonjour", "Second"},
			{"", "x", "y"},
		},
	}
	res, err := ImportMessages(ctx, st, tbl)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Imported)
	assert.Equal(t, 1, res.Skipped)

	latest, err := st.LatestMessages(ctx)
	require.NoError(t, err)
	require.Contains(t, latest, "acme")
	assert.Equal(t, "Second", latest["acme"].BodyText)
}

func TestManualSuggestion(t *testing.T) {
	s := ManualSuggestion(7, " Paul@Acme.FR", model.SuggestionManual)
	assert.Equal(t, int64(7), s.ProspectID)
	assert.Equal(t, "paul@acme.fr", s.Email)
	assert.Equal(t, "acme.fr", s.Domain)
	assert.Equal(t, model.SuggestionManual, s.Status)
}

func TestExportOutbox(t *testing.T) {
	sent := time.Date(2026, 5, 1, 9, 30, 0, 0, time.UTC)
	var buf bytes.Buffer
	err := ExportOutbox(&buf, []model.OutboxEntry{
		{ID: 1, Company: "Acme", Email: "jean@acme.fr", Subject: "Bonjour, Jean", Status: model.OutboxSent, SentAt: &sent},
		{ID: 2, Company: "Beta", Status: model.OutboxError, ErrorMessage: "EMAIL_NOT_FOUND, MESSAGE_NOT_FOUND"},
	})
	require.NoError(t, err)

	out := buf.String()
	assert.True(t, strings.HasPrefix(out, "\ufeffid,company,email"))
	assert.Contains(t, out, `1,Acme,jean@acme.fr,,,"Bonjour, Jean",,SENT,,2026-05-01T09:30:00Z`)
	assert.Contains(t, out, `2,Beta,,,,,,ERROR,"EMAIL_NOT_FOUND, MESSAGE_NOT_FOUND",`)

	tbl, err := ReadCSV(buf.Bytes())
	require.NoError(t, err)
	assert.Equal(t, "id", tbl.Header[0])
	assert.Len(t, tbl.Rows, 2)
}
