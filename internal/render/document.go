package render

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/you/jobcore/internal/domain"
)

// DocumentRenderer composes the subject's selected options and computed
// price into a one-page PDF summary.
type DocumentRenderer struct{}

func (DocumentRenderer) Kind() domain.ExportKind { return domain.ExportDocument }

func (DocumentRenderer) Render(_ context.Context, rec *domain.ExportRecord, snap *domain.SubjectSnapshot) (*Artifact, error) {
	lines := []string{
		fmt.Sprintf("Configuration: %s", snap.Name),
		fmt.Sprintf("Export: %s", rec.ID),
		"",
	}
	for _, o := range snap.Selected {
		lines = append(lines, fmt.Sprintf("%s: %s (%+.2f %s)", o.ComponentID, o.Label, o.PriceDelta, snap.Currency))
	}
	lines = append(lines,
		"",
		fmt.Sprintf("Base price: %.2f %s", snap.BasePrice, snap.Currency),
		fmt.Sprintf("Total: %.2f %s", snap.TotalPrice(), snap.Currency),
	)
	return &Artifact{Bytes: buildPDF(lines), MIME: "application/pdf", Ext: ".pdf"}, nil
}

func escapePDFText(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `(`, `\(`, `)`, `\)`)
	return r.Replace(s)
}

// buildPDF emits a minimal single-page PDF with one Helvetica text block.
func buildPDF(lines []string) []byte {
	var content bytes.Buffer
	content.WriteString("BT\n/F1 12 Tf\n72 720 Td\n16 TL\n")
	for _, l := range lines {
		fmt.Fprintf(&content, "(%s) Tj\nT*\n", escapePDFText(l))
	}
	content.WriteString("ET\n")

	objects := []string{
		"<< /Type /Catalog /Pages 2 0 R >>",
		"<< /Type /Pages /Kids [3 0 R] /Count 1 >>",
		"<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] /Contents 4 0 R /Resources << /Font << /F1 5 0 R >> >> >>",
		fmt.Sprintf("<< /Length %d >>\nstream\n%sendstream", content.Len(), content.String()),
		"<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica >>",
	}

	var out bytes.Buffer
	out.WriteString("%PDF-1.4\n")
	offsets := make([]int, len(objects))
	for i, obj := range objects {
		offsets[i] = out.Len()
		fmt.Fprintf(&out, "%d 0 obj\n%s\nendobj\n", i+1, obj)
	}

	xref := out.Len()
	fmt.Fprintf(&out, "xref\n0 %d\n", len(objects)+1)
	out.WriteString("0000000000 65535 f \n")
	for _, off := range offsets {
		fmt.Fprintf(&out, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&out, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", len(objects)+1, xref)
	return out.Bytes()
}
