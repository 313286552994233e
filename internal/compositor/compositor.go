// Package compositor draws the overlay state onto decoded frames.
//
// Render is a pure function of (frame, state): it never mutates the input
// frame or the state and keeps no reference to either after returning.
package compositor

import (
	"image"
	"image/color"
	"image/draw"
	"slices"
	"strconv"
	"strings"
	"unicode"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"overlaycast/internal/media"
	"overlaycast/internal/overlay"
)

// LineKind identifies what a rendered line represents.
type LineKind string

const (
	LineRanking      LineKind = "ranking"
	LineAlert        LineKind = "alert"
	LinePaymentLabel LineKind = "payment_label"
	LinePaymentURL   LineKind = "payment_url"
)

// Line is one row of overlay text.
type Line struct {
	Kind LineKind
	Text string
}

// Layout constants in pixels.
const (
	marginX      = 10
	marginY      = 10
	linePitch    = 20
	panelPadding = 6
)

var (
	rankingColor = color.NRGBA{R: 255, G: 255, B: 255, A: 220}
	alertColor   = color.NRGBA{R: 255, G: 255, B: 0, A: 220}
	paymentColor = color.NRGBA{R: 0, G: 255, B: 255, A: 220}
	panelColor   = color.NRGBA{A: 140}
)

var face font.Face = basicfont.Face7x13

// Lines returns the text rows Render would draw, top to bottom: ranking in
// rank order, then one line per alert, then the payment label and URL when a
// link is present.
func Lines(state *overlay.State) []Line {
	if state.IsEmpty() {
		return nil
	}
	ranking := slices.Clone(state.Ranking)
	slices.SortStableFunc(ranking, func(a, b overlay.RankEntry) int { return a.Rank - b.Rank })

	lines := make([]Line, 0, len(ranking)+len(state.Alerts)+2)
	for _, entry := range ranking {
		text := "#" + strconv.Itoa(entry.Rank) + " " + foldASCII(entry.Identifier) + " " + formatAmount(entry.Amount)
		lines = append(lines, Line{Kind: LineRanking, Text: text})
	}
	for _, alert := range state.Alerts {
		lines = append(lines, Line{Kind: LineAlert, Text: foldASCII(alert.Message)})
	}
	if link := state.PaymentLink; link != nil {
		lines = append(lines,
			Line{Kind: LinePaymentLabel, Text: foldASCII(link.Label)},
			Line{Kind: LinePaymentURL, Text: foldASCII(link.URL)},
		)
	}
	return lines
}

// Render returns frame unchanged when state has nothing to draw. Otherwise it
// returns a new frame with copied pixels, the same timestamps, and the overlay
// drawn on top.
func Render(frame *media.Frame, state *overlay.State) *media.Frame {
	if frame == nil || frame.Image == nil {
		return frame
	}
	lines := Lines(state)
	if len(lines) == 0 {
		return frame
	}

	out := frame.Clone()
	dst := out.Image
	bounds := dst.Bounds()

	drawPanel(dst, lines)

	drawer := &font.Drawer{Dst: dst, Face: face}
	ascent := face.Metrics().Ascent.Ceil()
	y := bounds.Min.Y + marginY
	for _, line := range lines {
		if y >= bounds.Max.Y {
			break
		}
		drawer.Src = image.NewUniform(colorFor(line.Kind))
		drawer.Dot = fixed.P(bounds.Min.X+marginX, y+ascent)
		drawer.DrawString(line.Text)
		y += linePitch
	}
	return out
}

func drawPanel(dst *image.RGBA, lines []Line) {
	width := 0
	for _, line := range lines {
		if w := font.MeasureString(face, line.Text).Ceil(); w > width {
			width = w
		}
	}
	bounds := dst.Bounds()
	panel := image.Rect(
		bounds.Min.X+marginX-panelPadding,
		bounds.Min.Y+marginY-panelPadding,
		bounds.Min.X+marginX+width+panelPadding,
		bounds.Min.Y+marginY+len(lines)*linePitch+panelPadding,
	).Intersect(bounds)
	if panel.Empty() {
		return
	}
	draw.Draw(dst, panel, image.NewUniform(panelColor), image.Point{}, draw.Over)
}

func colorFor(kind LineKind) color.Color {
	switch kind {
	case LineAlert:
		return alertColor
	case LinePaymentLabel, LinePaymentURL:
		return paymentColor
	default:
		return rankingColor
	}
}

func formatAmount(amount float64) string {
	return strconv.FormatFloat(amount, 'f', -1, 64)
}

// foldASCII strips diacritics and replaces anything the bitmap face cannot draw.
func foldASCII(value string) string {
	if value == "" {
		return ""
	}
	folded, _, err := transform.String(transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC), value)
	if err != nil {
		folded = value
	}
	return strings.Map(func(r rune) rune {
		switch {
		case r == '\t' || r == '\n' || r == '\r':
			return ' '
		case r < 0x20 || r == 0x7f:
			return -1
		case r > 0x7e:
			return '?'
		default:
			return r
		}
	}, folded)
}
