// Package export renders stored pipeline runs as downloadable reports.
package export

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jung-kurt/gofpdf"

	"github.com/driveline/driveline/internal/store"
	"github.com/driveline/driveline/pkg/errors"
)

// Format is a supported export format
type Format string

const (
	FormatJSON Format = "json"
	FormatPDF  Format = "pdf"
)

// Result is a rendered report with its content type
type Result struct {
	Data        []byte
	ContentType string
	Filename    string
}

// Service renders pipeline runs into reports
type Service struct{}

// NewService creates an export service
func NewService() *Service {
	return &Service{}
}

// Export renders the run in the requested format
func (s *Service) Export(run *store.PipelineRun, format Format) (*Result, error) {
	switch format {
	case FormatJSON:
		return s.exportJSON(run)
	case FormatPDF:
		return s.exportPDF(run)
	default:
		return nil, errors.NewValidationError(fmt.Sprintf("unsupported export format: %s", format))
	}
}

func (s *Service) exportJSON(run *store.PipelineRun) (*Result, error) {
	payload := map[string]interface{}{
		"export_info": map[string]interface{}{
			"generated_at": time.Now(),
			"format":       "json",
			"version":      "1.0",
		},
		"run": run,
	}

	data, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return nil, errors.NewInternalError("failed to marshal run").WithCause(err)
	}

	return &Result{
		Data:        data,
		ContentType: "application/json",
		Filename:    fmt.Sprintf("strategy_%s.json", run.SnapshotID),
	}, nil
}

func (s *Service) exportPDF(run *store.PipelineRun) (*Result, error) {
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.AddPage()

	pdf.SetFont("Arial", "B", 16)
	pdf.Cell(40, 10, "Driver Strategy Report")
	pdf.Ln(15)

	pdf.SetFont("Arial", "B", 12)
	pdf.Cell(40, 10, "Run")
	pdf.Ln(8)

	pdf.SetFont("Arial", "", 10)
	pdf.Cell(40, 6, fmt.Sprintf("Snapshot: %s", run.SnapshotID))
	pdf.Ln(6)
	pdf.Cell(40, 6, fmt.Sprintf("Status: %s", run.Status))
	pdf.Ln(6)
	pdf.Cell(40, 6, fmt.Sprintf("Provider: %s", orDash(run.Provider)))
	pdf.Ln(6)
	pdf.Cell(40, 6, fmt.Sprintf("Elapsed: %d ms", run.ElapsedMs))
	pdf.Ln(6)
	if run.Synthetic {
		pdf.Cell(40, 6, "Note: strategy was synthesized from partial results")
		pdf.Ln(6)
	}
	pdf.Ln(6)

	pdf.SetFont("Arial", "B", 12)
	pdf.Cell(40, 10, "Strategy")
	pdf.Ln(8)

	pdf.SetFont("Arial", "", 10)
	for _, line := range strings.Split(run.Strategy, "\n") {
		pdf.MultiCell(180, 5, line, "", "L", false)
	}

	if run.ErrorDetail != "" {
		pdf.Ln(6)
		pdf.SetFont("Arial", "B", 12)
		pdf.Cell(40, 10, "Diagnostics")
		pdf.Ln(8)
		pdf.SetFont("Arial", "", 9)
		pdf.MultiCell(180, 5, run.ErrorDetail, "", "L", false)
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, errors.NewInternalError("failed to render PDF").WithCause(err)
	}

	return &Result{
		Data:        buf.Bytes(),
		ContentType: "application/pdf",
		Filename:    fmt.Sprintf("strategy_%s.pdf", run.SnapshotID),
	}, nil
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
