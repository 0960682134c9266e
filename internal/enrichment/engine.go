// Package enrichment augments the base system prompt with historical
// discovery calls chosen from keyword signals in the conversation.
package enrichment

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/Polzer1999/remix-of-automate-qualifier/internal/metrics"
	"github.com/Polzer1999/remix-of-automate-qualifier/internal/prompt"
	"github.com/Polzer1999/remix-of-automate-qualifier/internal/store"
)

const (
	coldSampleSize = 6
	warmLimit      = 3
	phaseMaxRunes  = 300
	needMaxRunes   = 150
)

type Mode string

const (
	ModeCold     Mode = "cold"
	ModeWarm     Mode = "warm"
	ModeDegraded Mode = "degraded"
)

// Dialogue phases, inferred from the number of visitor turns.
const (
	PhaseIntroduction = "introduction"
	PhaseExploration  = "exploration"
	PhaseRefinement   = "affinage"
	PhaseNextSteps    = "next_steps"
)

// ReferenceSource reads the discovery-call corpus. *store.Store satisfies it.
type ReferenceSource interface {
	SampleIntroductions(ctx context.Context, limit int) ([]store.ReferenceCall, error)
	FindBySectors(ctx context.Context, sectors []string, limit int) ([]store.ReferenceCall, error)
	SampleReferences(ctx context.Context, limit int) ([]store.ReferenceCall, error)
}

// ReferenceMeta is what the client shows as "similar calls used".
type ReferenceMeta struct {
	Entreprise string `json:"entreprise"`
	Secteur    string `json:"secteur"`
	Phase      string `json:"phase"`
}

type Result struct {
	SystemPrompt string
	References   []ReferenceMeta
	Mode         Mode
	Signals      Signals
}

type Engine struct {
	template  *prompt.Template
	extractor SignalExtractor
	refs      ReferenceSource
	logger    *slog.Logger
	metrics   *metrics.Metrics
}

func NewEngine(tpl *prompt.Template, ex SignalExtractor, refs ReferenceSource, logger *slog.Logger, m *metrics.Metrics) *Engine {
	return &Engine{
		template:  tpl,
		extractor: ex,
		refs:      refs,
		logger:    logger,
		metrics:   m,
	}
}

// Enrich builds the system prompt for the next model call from the full
// conversation history. Corpus errors never fail the turn: the base prompt
// is returned in degraded mode.
func (e *Engine) Enrich(ctx context.Context, history []store.Message) Result {
	texts := make([]string, len(history))
	for i, m := range history {
		texts[i] = m.Content
	}
	signals := e.extractor.Extract(strings.Join(texts, " "))

	var res Result
	var err error
	if signals.Empty() {
		res, err = e.cold(ctx)
	} else {
		res, err = e.warm(ctx, signals, InferPhase(history))
	}
	if err != nil {
		e.logger.Warn("enrichment failed, using base prompt", "error", err)
		res = Result{SystemPrompt: e.template.Render(), Mode: ModeDegraded}
	}
	res.Signals = signals
	e.metrics.EnrichmentMode(string(res.Mode))
	return res
}

func (e *Engine) cold(ctx context.Context) (Result, error) {
	calls, err := e.refs.SampleIntroductions(ctx, coldSampleSize)
	if err != nil {
		return Result{}, fmt.Errorf("sample introductions: %w", err)
	}

	var b strings.Builder
	b.WriteString("## PREMIER ÉCHANGE (style des appels de découverte de Paul)\n\n")
	b.WriteString("Aucun secteur ni besoin n'est encore identifié. Ne propose aucune solution. ")
	b.WriteString("Pose UNE question ouverte et exploratoire pour comprendre le contexte du visiteur.\n")
	if len(calls) > 0 {
		b.WriteString("\nExemples d'introductions réelles dont tu peux t'inspirer pour le ton :\n\n")
		for i, c := range calls {
			fmt.Fprintf(&b, "%d. %s\n", i+1, truncate(c.Introduction, phaseMaxRunes))
		}
	}

	return Result{
		SystemPrompt: e.template.Compose(b.String()),
		Mode:         ModeCold,
	}, nil
}

func (e *Engine) warm(ctx context.Context, signals Signals, phase string) (Result, error) {
	var calls []store.ReferenceCall
	if len(signals.Sectors) > 0 {
		found, err := e.refs.FindBySectors(ctx, signals.Sectors, warmLimit)
		if err != nil {
			return Result{}, fmt.Errorf("find references by sector: %w", err)
		}
		calls = found
	}
	if len(calls) == 0 {
		sample, err := e.refs.SampleReferences(ctx, warmLimit)
		if err != nil {
			return Result{}, fmt.Errorf("sample references: %w", err)
		}
		calls = sample
	}
	if len(calls) > warmLimit {
		calls = calls[:warmLimit]
	}

	var b strings.Builder
	b.WriteString("## MÉTHODE DE PAUL (basée sur ses appels de découverte réels)\n\n")
	fmt.Fprintf(&b, "Contexte détecté: %s | %s", orNone(signals.Sectors), orNone(signals.Needs))
	if len(signals.Roles) > 0 {
		fmt.Fprintf(&b, " | interlocuteur: %s", strings.Join(signals.Roles, ", "))
	}
	fmt.Fprintf(&b, "\nPhase actuelle de l'échange: %s\n\n", phase)

	refs := make([]ReferenceMeta, 0, len(calls))
	for i, c := range calls {
		company := fallback(c.Company, "Client")
		sector := fallback(c.Sector, "Non spécifié")
		refs = append(refs, ReferenceMeta{Entreprise: company, Secteur: sector, Phase: phase})

		fmt.Fprintf(&b, "### Appel %d: %s\n", i+1, company)
		fmt.Fprintf(&b, "Secteur: %s\n", sector)
		fmt.Fprintf(&b, "Besoin: %s\n\n", truncate(fallback(c.Need, "Non spécifié"), needMaxRunes))
		writePhase(&b, "Introduction", c.Introduction)
		writePhase(&b, "Exploration", c.Exploration)
		writePhase(&b, "Affinage", c.Refinement)
		writePhase(&b, "Next steps", c.NextSteps)
		b.WriteString("---\n\n")
	}
	b.WriteString("**IMPORTANT:** Utilise ces techniques de Paul pour adapter ton approche de qualification. ")
	b.WriteString("Pose des questions similaires, garde le même style de découverte progressive et adapte-toi au secteur.\n")

	return Result{
		SystemPrompt: e.template.Compose(b.String()),
		References:   refs,
		Mode:         ModeWarm,
	}, nil
}

// InferPhase maps the number of visitor turns to a dialogue phase.
func InferPhase(history []store.Message) string {
	turns := 0
	for _, m := range history {
		if m.Role == store.RoleUser {
			turns++
		}
	}
	switch {
	case turns <= 1:
		return PhaseIntroduction
	case turns <= 3:
		return PhaseExploration
	case turns <= 5:
		return PhaseRefinement
	default:
		return PhaseNextSteps
	}
}

func writePhase(b *strings.Builder, name, text string) {
	if strings.TrimSpace(text) == "" {
		return
	}
	fmt.Fprintf(b, "**Phase %s (méthode Paul):**\n%s\n\n", name, truncate(text, phaseMaxRunes))
}

// truncate cuts s to at most n runes, marking the cut with an ellipsis.
func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}

func fallback(s, def string) string {
	if strings.TrimSpace(s) == "" {
		return def
	}
	return s
}

func orNone(labels []string) string {
	if len(labels) == 0 {
		return "-"
	}
	return strings.Join(labels, ", ")
}
