// Package report renders analyzed session entries into a single paginated
// PDF document.
package report

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	_ "image/png"
	"math"
	"strings"
	"time"

	"github.com/jung-kurt/gofpdf"
	"github.com/nfnt/resize"
	"go.uber.org/zap"

	"github.com/skinocare/backend/internal/storage/models"
	"github.com/skinocare/backend/pkg/logger"
)

var (
	// ErrNoAnalyzedEntries means nothing in the session has a result yet.
	ErrNoAnalyzedEntries = errors.New("no analyzed entries to report")

	// ErrRender wraps any failure of the underlying rendering primitives.
	// Generation is all-or-nothing: on ErrRender no file is produced.
	ErrRender = errors.New("report rendering failed")
)

const (
	marginX = 15.0

	// Thumbnails are embedded into a fixed bounding box and downscaled
	// beforehand to keep the document size bounded.
	thumbBoxMM   = 40.0
	thumbMaxEdge = 256

	lineHeight   = 5.0
	bulletGap    = 2.0
	blockBreakAt = 40.0
	listBreakAt  = 60.0
	lineBreakAt  = 20.0
	pageTopY     = 20.0
)

const disclaimerLine1 = "Disclaimer: This analysis is provided for informational purposes only and should not replace"
const disclaimerLine2 = "professional medical advice. Please consult with a healthcare provider for a proper diagnosis."

type Config struct {
	ProductName string
	Title       string
}

type Assembler struct {
	cfg Config
	now func() time.Time
}

func NewAssembler(cfg Config) *Assembler {
	return &Assembler{
		cfg: cfg,
		now: time.Now,
	}
}

// FormatConfidence renders a [0,1] confidence as a percentage with one
// decimal place, rounding halves up (0.875 -> "87.5%", 0.8735 -> "87.4%").
func FormatConfidence(confidence float64) string {
	return fmt.Sprintf("%.1f%%", math.Round(confidence*1000)/10)
}

// DisplayClass renders a class label for humans: underscores become spaces.
func DisplayClass(label string) string {
	return strings.ReplaceAll(label, "_", " ")
}

// BuildReport renders all analyzed entries, in ascending original index
// order, into one PDF. Entries with a null result are skipped.
func (a *Assembler) BuildReport(entries []models.AnalysisEntry) ([]byte, error) {
	analyzed := make([]models.AnalysisEntry, 0, len(entries))
	for _, e := range entries {
		if e.Result != nil {
			analyzed = append(analyzed, e)
		}
	}

	if len(analyzed) == 0 {
		return nil, ErrNoAnalyzedEntries
	}

	pdf := gofpdf.New("P", "mm", "A4", "")
	tr := pdf.UnicodeTranslatorFromDescriptor("")
	pageWidth, pageHeight := pdf.GetPageSize()
	pdf.SetAutoPageBreak(false, 0)
	pdf.AddPage()

	a.writeHeader(pdf, tr, pageWidth)

	y := 50.0

	pdf.SetFont("Helvetica", "", 14)
	pdf.SetTextColor(0, 0, 0)
	pdf.Text(marginX, y, "Analysis Summary")
	y += 10

	pdf.SetFont("Helvetica", "", 10)
	pdf.Text(marginX, y, fmt.Sprintf("Total Images Analyzed: %d", len(analyzed)))
	y += 10

	for i, e := range analyzed {
		var err error
		y, err = a.writeEntry(pdf, tr, e, i, pageWidth, pageHeight, y)
		if err != nil {
			return nil, err
		}

		// Horizontal separator after every block except the last.
		if i < len(analyzed)-1 {
			pdf.SetDrawColor(200, 200, 200)
			pdf.Line(marginX, y-5, pageWidth-marginX, y-5)
		}
	}

	if y > pageHeight-blockBreakAt {
		pdf.AddPage()
		y = pageTopY
	}

	pdf.SetDrawColor(200, 200, 200)
	pdf.Line(marginX, y, pageWidth-marginX, y)
	y += 10

	pdf.SetFont("Helvetica", "", 9)
	pdf.SetTextColor(100, 100, 100)
	pdf.Text(marginX, y, disclaimerLine1)
	y += 5
	pdf.Text(marginX, y, disclaimerLine2)

	if pdf.Err() {
		return nil, fmt.Errorf("%w: %v", ErrRender, pdf.Error())
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRender, err)
	}

	logger.Info("Report generated",
		zap.Int("entries", len(analyzed)),
		zap.Int("bytes", buf.Len()),
	)

	return buf.Bytes(), nil
}

func (a *Assembler) writeHeader(pdf *gofpdf.Fpdf, tr func(string) string, pageWidth float64) {
	now := a.now()

	pdf.SetFont("Helvetica", "", 22)
	pdf.SetTextColor(0, 102, 204)
	pdf.Text(marginX, 20, tr(a.cfg.ProductName))

	pdf.SetFont("Helvetica", "", 10)
	pdf.SetTextColor(100, 100, 100)
	pdf.Text(pageWidth-60, 15, "Date: "+now.Format("January 2, 2006"))
	pdf.Text(pageWidth-60, 20, "Time: "+now.Format("03:04 PM"))

	pdf.SetFont("Helvetica", "", 16)
	pdf.SetTextColor(0, 0, 0)
	title := tr(a.cfg.Title)
	pdf.Text(pageWidth/2-pdf.GetStringWidth(title)/2, 35, title)

	pdf.SetDrawColor(200, 200, 200)
	pdf.Line(marginX, 40, pageWidth-marginX, 40)
}

func (a *Assembler) writeEntry(pdf *gofpdf.Fpdf, tr func(string) string, e models.AnalysisEntry, displayIndex int, pageWidth, pageHeight, y float64) (float64, error) {
	result := e.Result

	if y > pageHeight-blockBreakAt {
		pdf.AddPage()
		y = pageTopY
	}

	pdf.SetFont("Helvetica", "", 12)
	pdf.SetTextColor(0, 102, 204)
	pdf.Text(marginX, y, fmt.Sprintf("Image %d", displayIndex+1))
	y += 7

	if err := a.embedThumbnail(pdf, e, displayIndex, y); err != nil {
		return 0, err
	}
	y += thumbBoxMM + 5

	pdf.SetFont("Helvetica", "", 11)
	pdf.SetTextColor(0, 0, 0)
	pdf.Text(marginX, y, tr("Prediction: "+DisplayClass(result.Prediction.PredictedClass)))
	y += 5
	pdf.Text(marginX, y, "Confidence: "+FormatConfidence(result.Prediction.Confidence))
	y += 10

	pdf.SetFont("Helvetica", "", 10)
	pdf.Text(marginX, y, "Description:")
	y += 5

	textWidth := pageWidth - 2*marginX
	for _, line := range pdf.SplitLines([]byte(tr(result.Details.Description)), textWidth) {
		pdf.Text(marginX, y, string(line))
		y += lineHeight
	}
	y += 5

	if y > pageHeight-listBreakAt {
		pdf.AddPage()
		y = pageTopY
	}

	pdf.Text(marginX, y, "Treatment Options:")
	y += 5
	y = a.writeBullets(pdf, tr, result.Details.Treatment, textWidth, pageHeight, y)
	y += 5

	if y > pageHeight-listBreakAt {
		pdf.AddPage()
		y = pageTopY
	}

	pdf.Text(marginX, y, "Next Steps:")
	y += 5
	y = a.writeBullets(pdf, tr, result.Details.NextSteps, textWidth, pageHeight, y)

	y += 15
	return y, nil
}

// writeBullets reproduces every list item verbatim and unreordered, checking
// remaining page space after each item since lists are variable-length and
// can overflow mid-list.
func (a *Assembler) writeBullets(pdf *gofpdf.Fpdf, tr func(string) string, items []string, textWidth, pageHeight, y float64) float64 {
	if len(items) == 0 {
		pdf.Text(marginX, y, "No information available")
		return y + lineHeight + bulletGap
	}

	for _, item := range items {
		// SplitLines works on bytes: translated text is cp1252, not UTF-8,
		// and rune-based wrapping would index past the core font tables.
		for _, line := range pdf.SplitLines([]byte(tr("• "+item)), textWidth) {
			pdf.Text(marginX, y, string(line))
			y += lineHeight
		}
		y += bulletGap

		if y > pageHeight-lineBreakAt {
			pdf.AddPage()
			y = pageTopY
		}
	}

	return y
}

func (a *Assembler) embedThumbnail(pdf *gofpdf.Fpdf, e models.AnalysisEntry, displayIndex int, y float64) error {
	img, _, err := image.Decode(bytes.NewReader(e.Image))
	if err != nil {
		return fmt.Errorf("%w: decode image %d: %v", ErrRender, displayIndex+1, err)
	}

	thumb := resize.Thumbnail(thumbMaxEdge, thumbMaxEdge, img, resize.Lanczos3)

	var encoded bytes.Buffer
	if err := jpeg.Encode(&encoded, thumb, &jpeg.Options{Quality: 85}); err != nil {
		return fmt.Errorf("%w: encode thumbnail %d: %v", ErrRender, displayIndex+1, err)
	}

	name := fmt.Sprintf("entry-%d", displayIndex)
	opts := gofpdf.ImageOptions{ImageType: "JPG"}
	pdf.RegisterImageOptionsReader(name, opts, &encoded)
	pdf.ImageOptions(name, marginX, y, thumbBoxMM, thumbBoxMM, false, opts, 0, "")

	if pdf.Err() {
		err := pdf.Error()
		return fmt.Errorf("%w: embed image %d: %v", ErrRender, displayIndex+1, err)
	}

	return nil
}
