package excel

import (
	"fmt"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/nurpe/sealed-bids/internal/model"
)

const (
	summarySheet   = "Summary"
	rankingSheet   = "Ranking"
	committeeSheet = "Committee"
)

type Generator struct{}

func NewGenerator() *Generator {
	return &Generator{}
}

func (g *Generator) Generate(report model.OpeningReport) ([]byte, error) {
	file := excelize.NewFile()
	defer file.Close()

	if err := file.SetSheetName("Sheet1", summarySheet); err != nil {
		return nil, err
	}
	g.writeSummary(file, report)

	if _, err := file.NewSheet(rankingSheet); err != nil {
		return nil, err
	}
	g.writeRanking(file, report)

	if _, err := file.NewSheet(committeeSheet); err != nil {
		return nil, err
	}
	g.writeCommittee(file, report)

	file.SetActiveSheet(0)
	buf, err := file.WriteToBuffer()
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (g *Generator) writeSummary(file *excelize.File, report model.OpeningReport) {
	set := func(cell string, value interface{}) {
		_ = file.SetCellValue(summarySheet, cell, value)
	}

	summary := report.Summary
	set("A1", "Tender")
	set("B1", report.TenderRef)
	set("A2", "Title")
	set("B2", report.TenderTitle)
	set("A3", "Session")
	set("B3", report.SessionID.String())
	set("A4", "Scheduled at")
	set("B4", formatDateTime(report.ScheduledAt))
	set("A5", "Started at")
	set("B5", formatDateTimePtr(report.StartedAt))
	set("A6", "Completed at")
	set("B6", formatDateTime(report.CompletedAt))
	set("A7", "Bids opened")
	set("B7", summary.Count)
	set("A8", "Lowest")
	set("B8", summary.Lowest.StringFixed(2))
	set("A9", "Highest")
	set("B9", summary.Highest.StringFixed(2))
	set("A10", "Average")
	set("B10", summary.Average.StringFixed(2))
	set("A11", "Currency")
	if summary.MixedCurrency {
		set("B11", "mixed")
	} else {
		set("B11", summary.Currency)
	}
	set("A12", "Report digest")
	set("B12", report.Digest)
	set("A13", "Generated at")
	set("B13", formatDateTime(report.GeneratedAt))

	_ = file.SetColWidth(summarySheet, "A", "A", 18)
	_ = file.SetColWidth(summarySheet, "B", "B", 70)
}

func (g *Generator) writeRanking(file *excelize.File, report model.OpeningReport) {
	set := func(cell string, value interface{}) {
		_ = file.SetCellValue(rankingSheet, cell, value)
	}

	headers := []string{
		"Rank",
		"Supplier",
		"Supplier ID",
		"Amount",
		"Currency",
		"Validity, days",
		"Sealed at",
		"Opened at",
		"Bid ID",
		"Ciphertext digest",
	}
	for i, header := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		set(cell, header)
	}

	for i, entry := range report.Ranking {
		row := i + 2
		set(fmt.Sprintf("A%d", row), entry.Rank)
		set(fmt.Sprintf("B%d", row), entry.SupplierName)
		set(fmt.Sprintf("C%d", row), entry.SupplierID.String())
		set(fmt.Sprintf("D%d", row), entry.Amount.StringFixed(2))
		set(fmt.Sprintf("E%d", row), entry.Currency)
		set(fmt.Sprintf("F%d", row), entry.ValidityDays)
		set(fmt.Sprintf("G%d", row), formatDateTime(entry.SealedAt))
		set(fmt.Sprintf("H%d", row), formatDateTime(entry.OpenedAt))
		set(fmt.Sprintf("I%d", row), entry.BidID.String())
		set(fmt.Sprintf("J%d", row), entry.CiphertextDigest)
	}

	_ = file.SetColWidth(rankingSheet, "A", "A", 8)
	_ = file.SetColWidth(rankingSheet, "B", "C", 38)
	_ = file.SetColWidth(rankingSheet, "D", "F", 14)
	_ = file.SetColWidth(rankingSheet, "G", "H", 20)
	_ = file.SetColWidth(rankingSheet, "I", "J", 40)
}

func (g *Generator) writeCommittee(file *excelize.File, report model.OpeningReport) {
	set := func(cell string, value interface{}) {
		_ = file.SetCellValue(committeeSheet, cell, value)
	}

	set("A1", "Name")
	set("B1", "Role")
	set("C1", "Attended")
	set("D1", "Confirmed at")
	set("E1", "User ID")
	for i, member := range report.Committee {
		row := i + 2
		set(fmt.Sprintf("A%d", row), member.Name)
		set(fmt.Sprintf("B%d", row), member.Role)
		set(fmt.Sprintf("C%d", row), member.Attended)
		set(fmt.Sprintf("D%d", row), formatDateTimePtr(member.AttendedAt))
		set(fmt.Sprintf("E%d", row), member.UserID.String())
	}

	_ = file.SetColWidth(committeeSheet, "A", "B", 30)
	_ = file.SetColWidth(committeeSheet, "C", "D", 20)
	_ = file.SetColWidth(committeeSheet, "E", "E", 38)
}

func formatDateTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format("2006-01-02 15:04:05")
}

func formatDateTimePtr(t *time.Time) string {
	if t == nil {
		return ""
	}
	return formatDateTime(*t)
}
