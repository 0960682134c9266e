package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

type importRequest struct {
	CSVData string `json:"csvData" validate:"required"`
	DryRun  bool   `json:"dryRun"`
}

type importResponse struct {
	Success  bool   `json:"success"`
	Imported int    `json:"imported"`
	Errors   int    `json:"errors"`
	BatchID  string `json:"batch_id"`
	Message  string `json:"message"`
}

// handleImport serves POST /api/v1/discovery-calls/import.
func (s *Server) handleImport(w http.ResponseWriter, r *http.Request) {
	var req importRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 32<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := s.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, "csvData is required")
		return
	}

	report, err := s.importer.Import(r.Context(), strings.NewReader(req.CSVData), req.DryRun)
	if err != nil {
		s.logger.Error("import discovery calls", "error", err)
		writeError(w, http.StatusInternalServerError, "import failed")
		return
	}

	writeJSON(w, http.StatusOK, importResponse{
		Success:  true,
		Imported: report.Imported,
		Errors:   report.Errors,
		BatchID:  report.BatchID.String(),
		Message:  fmt.Sprintf("Successfully imported %d discovery calls", report.Imported),
	})
}
