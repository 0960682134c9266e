package importer

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Polzer1999/remix-of-automate-qualifier/internal/store"
)

const sample = `infos_client,phase_1,phase_2,phase_3,phase_4
"Entreprise: Voltaïa | Secteur: Énergie renouvelable | Besoin: Veille des appels d'offres","Bonjour, présentez-vous","Combien d'AO par mois ?","On peut filtrer par région","Démo jeudi"
"Entreprise: Banque Nord | Secteur: Finance | Besoin: Relances, ""lettrage"" et rapprochement",Intro,"Explo
sur deux lignes",Affinage,Next
trop,peu,de colonnes
`

type fakeWriter struct {
	batches [][]store.ReferenceCall
	err     error
}

func (f *fakeWriter) InsertReferenceCalls(_ context.Context, calls []store.ReferenceCall) error {
	if f.err != nil {
		return f.err
	}
	f.batches = append(f.batches, calls)
	return nil
}

func TestParseClientInfo(t *testing.T) {
	info := ParseClientInfo("Entreprise: Voltaïa | Secteur: Énergie | Besoin: Veille AO")
	assert.Equal(t, "Voltaïa", info.Company)
	assert.Equal(t, "Énergie", info.Sector)
	assert.Equal(t, "Veille AO", info.Need)
	assert.Equal(t, "Entreprise: Voltaïa | Secteur: Énergie | Besoin: Veille AO", info.Context)

	partial := ParseClientInfo("secteur: retail")
	assert.Empty(t, partial.Company)
	assert.Equal(t, "retail", partial.Sector)

	middle := ParseClientInfo("Besoin: reporting | Entreprise: Acme")
	assert.Equal(t, "reporting", middle.Need)
	assert.Equal(t, "Acme", middle.Company)
}

func TestParse(t *testing.T) {
	batch := uuid.New()
	calls, bad, err := Parse(strings.NewReader(sample), batch)
	require.NoError(t, err)

	assert.Equal(t, 1, bad)
	require.Len(t, calls, 2)

	assert.Equal(t, "Voltaïa", calls[0].Company)
	assert.Equal(t, "Énergie renouvelable", calls[0].Sector)
	assert.Equal(t, "Démo jeudi", calls[0].NextSteps)
	assert.Equal(t, batch, calls[0].ImportBatchID)

	assert.Equal(t, `Relances, "lettrage" et rapprochement`, calls[1].Need)
	assert.Equal(t, "Explo\nsur deux lignes", calls[1].Exploration)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(calls[1].RawData, &raw))
	assert.Equal(t, float64(3), raw["line_number"])
	assert.Contains(t, raw["infos_client"], "Banque Nord")
}

func TestImport(t *testing.T) {
	w := &fakeWriter{}
	im := New(w, slog.New(slog.NewTextHandler(io.Discard, nil)))

	report, err := im.Import(context.Background(), strings.NewReader(sample), false)
	require.NoError(t, err)

	assert.Equal(t, 2, report.Imported)
	assert.Equal(t, 1, report.Errors)
	require.Len(t, w.batches, 1)
	assert.Equal(t, report.BatchID, w.batches[0][0].ImportBatchID)
}

func TestImport_DryRunWritesNothing(t *testing.T) {
	w := &fakeWriter{}
	im := New(w, slog.New(slog.NewTextHandler(io.Discard, nil)))

	report, err := im.Import(context.Background(), strings.NewReader(sample), true)
	require.NoError(t, err)

	assert.Equal(t, 2, report.Imported)
	assert.Empty(t, w.batches)
}

func TestImport_FailedBatchCountsAsErrors(t *testing.T) {
	w := &fakeWriter{err: errors.New("constraint violation")}
	im := New(w, slog.New(slog.NewTextHandler(io.Discard, nil)))

	report, err := im.Import(context.Background(), strings.NewReader(sample), false)
	require.NoError(t, err)

	assert.Equal(t, 0, report.Imported)
	assert.Equal(t, 3, report.Errors)
}
