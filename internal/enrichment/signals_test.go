package enrichment

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKeywordExtractor_Extract(t *testing.T) {
	k := DefaultKeywords()

	tests := []struct {
		name    string
		text    string
		sectors []string
		needs   []string
		roles   []string
	}{
		{
			name: "no signal",
			text: "Bonjour, je voudrais en savoir plus",
		},
		{
			name:    "billing hits finance axis",
			text:    "On passe trop de temps sur la facturation",
			sectors: []string{"finance"},
			needs:   []string{"facturation"},
		},
		{
			name:    "case folded",
			text:    "Nous sommes une PME de LOGISTIQUE",
			sectors: []string{"logistique"},
		},
		{
			name: "short term needs whole word",
			text: "un petit souci de temps",
		},
		{
			name:    "short term as a word",
			text:    "je suis DSI, on gère l'IT",
			sectors: []string{"tech"},
			roles:   []string{"it"},
		},
		{
			name:    "multi word term",
			text:    "notre supply chain et nos tableaux de bord",
			sectors: []string{"logistique"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := k.Extract(tt.text)
			assert.Equal(t, tt.sectors, got.Sectors)
			assert.Equal(t, tt.needs, got.Needs)
			assert.Equal(t, tt.roles, got.Roles)
		})
	}
}

func TestSignals_Empty(t *testing.T) {
	assert.True(t, Signals{}.Empty())
	assert.True(t, Signals{Roles: []string{"it"}}.Empty())
	assert.False(t, Signals{Needs: []string{"data"}}.Empty())
}

func TestContainsTerm_Boundaries(t *testing.T) {
	assert.True(t, containsTerm("rh et paie", "rh"))
	assert.True(t, containsTerm("service-rh", "rh"))
	assert.False(t, containsTerm("rhétorique", "rh"))
	assert.False(t, containsTerm("", "rh"))
	assert.False(t, containsTerm("abc", ""))
}
