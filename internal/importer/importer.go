// Package importer loads historical discovery calls from their CSV export
// into the reference corpus.
package importer

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"regexp"
	"strings"

	"github.com/google/uuid"

	"github.com/Polzer1999/remix-of-automate-qualifier/internal/store"
)

const (
	minColumns = 5
	batchSize  = 100
)

var (
	companyRe = regexp.MustCompile(`(?i)Entreprise:\s*([^|]+)`)
	sectorRe  = regexp.MustCompile(`(?i)Secteur:\s*([^|]+)`)
	needRe    = regexp.MustCompile(`(?i)Besoin:\s*([^|]+?)(?:\s*\||$)`)
)

// Writer persists a batch of reference calls atomically. *store.Store
// satisfies it.
type Writer interface {
	InsertReferenceCalls(ctx context.Context, calls []store.ReferenceCall) error
}

type Report struct {
	Imported int       `json:"imported"`
	Errors   int       `json:"errors"`
	BatchID  uuid.UUID `json:"batch_id"`
}

type ClientInfo struct {
	Company string
	Sector  string
	Need    string
	Context string
}

// ParseClientInfo splits the "infos_client" cell, a "|" separated list of
// "Label: value" segments. Context keeps the whole cell.
func ParseClientInfo(cell string) ClientInfo {
	info := ClientInfo{Context: cell}
	if m := companyRe.FindStringSubmatch(cell); m != nil {
		info.Company = strings.TrimSpace(m[1])
	}
	if m := sectorRe.FindStringSubmatch(cell); m != nil {
		info.Sector = strings.TrimSpace(m[1])
	}
	if m := needRe.FindStringSubmatch(cell); m != nil {
		info.Need = strings.TrimSpace(m[1])
	}
	return info
}

// Parse reads the export: a header row, then rows of infos_client followed
// by the four phase transcripts. Rows with too few columns or broken
// quoting are counted in the returned error total and skipped.
func Parse(r io.Reader, batchID uuid.UUID) ([]store.ReferenceCall, int, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true
	cr.TrimLeadingSpace = true

	var calls []store.ReferenceCall
	bad := 0
	header := true
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		var perr *csv.ParseError
		if errors.As(err, &perr) {
			bad++
			continue
		}
		if err != nil {
			return nil, bad, fmt.Errorf("read csv: %w", err)
		}
		if header {
			header = false
			continue
		}
		if len(rec) < minColumns {
			bad++
			continue
		}

		line, _ := cr.FieldPos(0)
		for i := range rec {
			rec[i] = strings.TrimSpace(rec[i])
		}
		info := ParseClientInfo(rec[0])
		raw, err := json.Marshal(map[string]any{
			"infos_client": rec[0],
			"line_number":  line,
		})
		if err != nil {
			return nil, bad, fmt.Errorf("marshal raw data: %w", err)
		}

		calls = append(calls, store.ReferenceCall{
			Company:       info.Company,
			Sector:        info.Sector,
			Need:          info.Need,
			Context:       info.Context,
			Introduction:  rec[1],
			Exploration:   rec[2],
			Refinement:    rec[3],
			NextSteps:     rec[4],
			RawData:       raw,
			ImportBatchID: batchID,
		})
	}
	return calls, bad, nil
}

type Importer struct {
	writer Writer
	logger *slog.Logger
}

func New(w Writer, logger *slog.Logger) *Importer {
	return &Importer{writer: w, logger: logger}
}

// Import parses r and writes the rows in batches under one import batch id.
// A failed batch counts all its rows as errors; later batches still run.
// With dryRun nothing is written.
func (im *Importer) Import(ctx context.Context, r io.Reader, dryRun bool) (Report, error) {
	report := Report{BatchID: uuid.New()}

	calls, bad, err := Parse(r, report.BatchID)
	if err != nil {
		return report, err
	}
	report.Errors = bad

	if dryRun {
		report.Imported = len(calls)
		im.logger.Info("import dry run", "rows", len(calls), "errors", bad)
		return report, nil
	}

	for start := 0; start < len(calls); start += batchSize {
		end := min(start+batchSize, len(calls))
		if err := im.writer.InsertReferenceCalls(ctx, calls[start:end]); err != nil {
			if ctx.Err() != nil {
				return report, ctx.Err()
			}
			im.logger.Error("import batch failed", "batch_id", report.BatchID, "rows", end-start, "error", err)
			report.Errors += end - start
			continue
		}
		report.Imported += end - start
	}

	im.logger.Info("import completed",
		"batch_id", report.BatchID, "imported", report.Imported, "errors", report.Errors)
	return report, nil
}
