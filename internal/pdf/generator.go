package pdf

import (
	"bytes"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/jung-kurt/gofpdf"
	"golang.org/x/image/font/gofont/gobold"
	"golang.org/x/image/font/gofont/goregular"

	"github.com/nurpe/sealed-bids/internal/model"
)

const fontName = "ReportSans"

type Generator struct {
	regular []byte
	bold    []byte
}

// NewGenerator embeds a Unicode TrueType font into every report so supplier
// and member names keep their script. fontFile replaces the bundled Go fonts
// for both styles when set.
func NewGenerator(fontFile string) (*Generator, error) {
	g := &Generator{regular: goregular.TTF, bold: gobold.TTF}
	if path := strings.TrimSpace(fontFile); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read report font: %w", err)
		}
		g.regular, g.bold = data, data
	}
	if len(g.regular) == 0 {
		return nil, fmt.Errorf("font data is empty")
	}

	check := gofpdf.New("L", "mm", "A4", "")
	g.addFonts(check)
	if err := check.Error(); err != nil {
		return nil, fmt.Errorf("load report font: %w", err)
	}
	return g, nil
}

func (g *Generator) addFonts(pdf *gofpdf.Fpdf) {
	pdf.AddUTF8FontFromBytes(fontName, "", g.regular)
	pdf.AddUTF8FontFromBytes(fontName, "B", g.bold)
}

func (g *Generator) Generate(report model.OpeningReport) ([]byte, error) {
	pdf := gofpdf.New("L", "mm", "A4", "")
	pdf.SetMargins(15, 15, 15)
	pdf.SetTitle(fmt.Sprintf("Bid opening report %s", report.TenderRef), true)
	g.addFonts(pdf)
	pdf.AddPage()

	pdf.SetFont(fontName, "B", 14)
	pdf.CellFormat(0, 10, "Bid Opening Report", "", 1, "C", false, 0, "")

	pdf.SetFont(fontName, "", 11)
	pdf.CellFormat(0, 6, fmt.Sprintf("Tender %s: %s", safeValue(report.TenderRef), safeValue(report.TenderTitle)), "", 1, "C", false, 0, "")
	pdf.CellFormat(0, 6, fmt.Sprintf("Session %s", report.SessionID), "", 1, "C", false, 0, "")
	pdf.Ln(4)

	pdf.SetFont(fontName, "B", 12)
	pdf.CellFormat(0, 8, "Session", "", 1, "L", false, 0, "")
	pdf.SetFont(fontName, "", 10)
	lines := []string{
		fmt.Sprintf("Scheduled: %s", formatDateTime(report.ScheduledAt)),
		fmt.Sprintf("Started: %s", formatDateTimePtr(report.StartedAt)),
		fmt.Sprintf("Completed: %s", formatDateTime(report.CompletedAt)),
	}
	for _, line := range lines {
		pdf.MultiCell(0, 5, line, "", "L", false)
	}
	pdf.Ln(2)

	pdf.SetFont(fontName, "B", 12)
	pdf.CellFormat(0, 8, "Committee attendance", "", 1, "L", false, 0, "")
	attendanceWidths := []float64{90, 50, 40, 60}
	drawTableRow(pdf, []string{"Name", "Role", "Attended", "Confirmed at"}, attendanceWidths, true)
	for _, member := range report.Committee {
		attended := "no"
		if member.Attended {
			attended = "yes"
		}
		drawTableRow(pdf, []string{
			member.Name,
			safeValue(member.Role),
			attended,
			formatDateTimePtr(member.AttendedAt),
		}, attendanceWidths, false)
	}
	pdf.Ln(4)

	pdf.SetFont(fontName, "B", 12)
	pdf.CellFormat(0, 8, "Ranking", "", 1, "L", false, 0, "")
	rankingWidths := []float64{14, 70, 40, 20, 22, 42, 59}
	drawTableRow(pdf, []string{"Rank", "Supplier", "Amount", "Cur.", "Validity", "Sealed at", "Ciphertext digest"}, rankingWidths, true)
	for _, entry := range report.Ranking {
		drawTableRow(pdf, []string{
			fmt.Sprintf("%d", entry.Rank),
			entry.SupplierName,
			entry.Amount.StringFixed(2),
			entry.Currency,
			fmt.Sprintf("%d d", entry.ValidityDays),
			formatDateTime(entry.SealedAt),
			shortDigest(entry.CiphertextDigest),
		}, rankingWidths, false)
	}
	if len(report.Ranking) == 0 {
		pdf.MultiCell(0, 6, "No bids were submitted for this tender.", "", "L", false)
	}
	pdf.Ln(2)

	summary := report.Summary
	pdf.SetFont(fontName, "", 11)
	pdf.CellFormat(0, 6, fmt.Sprintf("Bids opened: %d", summary.Count), "", 1, "R", false, 0, "")
	if summary.Count > 0 {
		currency := summary.Currency
		pdf.CellFormat(0, 6, fmt.Sprintf("Lowest: %s %s", summary.Lowest.StringFixed(2), currency), "", 1, "R", false, 0, "")
		pdf.CellFormat(0, 6, fmt.Sprintf("Highest: %s %s", summary.Highest.StringFixed(2), currency), "", 1, "R", false, 0, "")
		pdf.CellFormat(0, 6, fmt.Sprintf("Average: %s %s", summary.Average.StringFixed(2), currency), "", 1, "R", false, 0, "")
	}
	if summary.MixedCurrency {
		pdf.SetTextColor(200, 0, 0)
		pdf.MultiCell(0, 6, "Warning: bids were submitted in different currencies; amounts are not converted.", "", "L", false)
		pdf.SetTextColor(0, 0, 0)
	}

	pdf.Ln(4)
	pdf.SetFont(fontName, "", 8)
	pdf.MultiCell(0, 4, fmt.Sprintf("Report digest (SHA-256): %s", safeValue(report.Digest)), "", "L", false)
	pdf.MultiCell(0, 4, fmt.Sprintf("Generated at %s", formatDateTime(report.GeneratedAt)), "", "L", false)

	pdf.Ln(4)
	pdf.SetFont(fontName, "B", 12)
	pdf.CellFormat(0, 8, "Signatures", "", 1, "L", false, 0, "")
	for _, member := range report.Committee {
		signatureBlock(pdf, safeValue(member.Role), member.Name)
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func drawTableRow(pdf *gofpdf.Fpdf, cols []string, widths []float64, header bool) {
	style := ""
	if header {
		style = "B"
	}
	pdf.SetFont(fontName, style, 9)
	for i, col := range cols {
		align := "L"
		if !header && i == 2 {
			align = "R"
		}
		pdf.CellFormat(widths[i], 7, col, "1", 0, align, false, 0, "")
	}
	pdf.Ln(-1)
}

func signatureBlock(pdf *gofpdf.Fpdf, label, name string) {
	pdf.SetFont(fontName, "", 11)
	pdf.CellFormat(0, 6, fmt.Sprintf("%s: ______________________ /%s/", label, safeValue(name)), "", 1, "L", false, 0, "")
}

func shortDigest(digest string) string {
	if len(digest) > 24 {
		return digest[:24] + "..."
	}
	return safeValue(digest)
}

func safeValue(value string) string {
	if strings.TrimSpace(value) == "" {
		return "-"
	}
	return value
}

func formatDateTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.UTC().Format("02.01.2006 15:04 MST")
}

func formatDateTimePtr(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return formatDateTime(*t)
}
