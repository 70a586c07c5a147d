package report

import (
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"

	"leadline/internal/domain"
)

const (
	PipelineSheet = "Pipeline"
	SummarySheet  = "Summary"
)

var pipelineHeaders = []string{
	"Lead Number", "Company", "Contact", "Deal Type", "Stage", "Sub Stage",
	"Temperature", "Status", "Probability", "Estimated Value", "Weighted Value",
	"Stage Entered", "Final Value", "Lost Reason", "Created",
}

var summaryHeaders = []string{"Stage", "Leads", "Total Value", "Weighted Value"}

// WritePipeline renders leads and the per-stage summary as an XLSX workbook.
func WritePipeline(w io.Writer, leads []domain.Lead, summary []domain.StageSummary) error {
	f := excelize.NewFile()
	defer f.Close()

	if _, err := f.NewSheet(PipelineSheet); err != nil {
		return fmt.Errorf("create sheet: %w", err)
	}
	if _, err := f.NewSheet(SummarySheet); err != nil {
		return fmt.Errorf("create sheet: %w", err)
	}
	if err := f.DeleteSheet("Sheet1"); err != nil {
		return err
	}
	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#E0E0E0"}, Pattern: 1},
	})
	if err != nil {
		return fmt.Errorf("create style: %w", err)
	}

	if err := writeHeader(f, PipelineSheet, pipelineHeaders, headerStyle); err != nil {
		return err
	}
	for i, l := range leads {
		var finalValue any = ""
		if l.FinalValue != nil {
			finalValue = *l.FinalValue
		}
		row := []any{
			l.LeadNumber, l.CompanyName, l.ContactName, string(l.DealType), string(l.Stage), l.SubStage,
			l.Temperature, string(l.TemperatureStatus), l.Probability, l.EstimatedValue,
			l.EstimatedValue * float64(l.Probability) / 100,
			l.StageEnteredAt, finalValue, l.LostReason, l.CreatedAt,
		}
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(PipelineSheet, cell, &row); err != nil {
			return fmt.Errorf("write lead %s: %w", l.LeadNumber, err)
		}
	}
	if err := f.SetColWidth(PipelineSheet, "A", "O", 16); err != nil {
		return err
	}

	if err := writeHeader(f, SummarySheet, summaryHeaders, headerStyle); err != nil {
		return err
	}
	var totalCount int
	var total, weighted float64
	for i, s := range summary {
		row := []any{string(s.Stage), s.Count, s.TotalValue, s.WeightedValue}
		cell, _ := excelize.CoordinatesToCellName(1, i+2)
		if err := f.SetSheetRow(SummarySheet, cell, &row); err != nil {
			return err
		}
		totalCount += s.Count
		total += s.TotalValue
		weighted += s.WeightedValue
	}
	totalRow := []any{"total", totalCount, total, weighted}
	cell, _ := excelize.CoordinatesToCellName(1, len(summary)+2)
	if err := f.SetSheetRow(SummarySheet, cell, &totalRow); err != nil {
		return err
	}

	index, err := f.GetSheetIndex(PipelineSheet)
	if err != nil {
		return err
	}
	f.SetActiveSheet(index)
	_, err = f.WriteTo(w)
	return err
}

func writeHeader(f *excelize.File, sheet string, headers []string, style int) error {
	if err := f.SetSheetRow(sheet, "A1", &headers); err != nil {
		return err
	}
	last, err := excelize.CoordinatesToCellName(len(headers), 1)
	if err != nil {
		return err
	}
	return f.SetCellStyle(sheet, "A1", last, style)
}
