package compositor

import (
	"bytes"
	"image"
	"image/color"
	"testing"

	"overlaycast/internal/media"
	"overlaycast/internal/overlay"
)

func testFrame(w, h int) *media.Frame {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for i := range img.Pix {
		img.Pix[i] = 40
	}
	frame := media.NewFrame(img)
	frame.PTS = media.Timestamp(12)
	return frame
}

func TestRenderEmptyStateIsIdentity(t *testing.T) {
	frame := testFrame(64, 32)
	original := append([]byte(nil), frame.Bytes()...)

	for _, state := range []*overlay.State{nil, {}} {
		out := Render(frame, state)
		if out != frame {
			t.Fatal("expected the same frame back for empty state")
		}
		if !bytes.Equal(out.Bytes(), original) {
			t.Fatal("pixels changed for empty state")
		}
	}
}

func TestRenderDrawsOnCopy(t *testing.T) {
	frame := testFrame(320, 120)
	original := append([]byte(nil), frame.Bytes()...)
	state := &overlay.State{Ranking: []overlay.RankEntry{{Rank: 1, Identifier: "ana", Amount: 50}}}

	out := Render(frame, state)
	if out == frame {
		t.Fatal("expected a new frame when drawing")
	}
	if !bytes.Equal(frame.Bytes(), original) {
		t.Fatal("input frame was mutated")
	}
	if bytes.Equal(out.Bytes(), original) {
		t.Fatal("expected overlay pixels in output")
	}
	if out.PTS == nil || *out.PTS != 12 || out.PTS == frame.PTS {
		t.Fatal("expected copied timestamps")
	}
	if !bandHasBrightPixel(out.Image, 10, 20) {
		t.Fatal("expected bright text pixels in first line band")
	}
}

func TestLinesOrderAndPaymentLink(t *testing.T) {
	state := &overlay.State{
		Ranking:     []overlay.RankEntry{{Rank: 1, Identifier: "José", Amount: 50.5}, {Rank: 2, Identifier: "bruno", Amount: 20}},
		Alerts:      []overlay.Alert{{Message: "Pix recebido de Joã"}},
		PaymentLink: &overlay.PaymentLink{URL: "https://pay.example/x", Label: "Doe"},
	}
	lines := Lines(state)
	want := []Line{
		{Kind: LineRanking, Text: "#1 Jose 50.5"},
		{Kind: LineRanking, Text: "#2 bruno 20"},
		{Kind: LineAlert, Text: "Pix recebido de Joa"},
		{Kind: LinePaymentLabel, Text: "Doe"},
		{Kind: LinePaymentURL, Text: "https://pay.example/x"},
	}
	if len(lines) != len(want) {
		t.Fatalf("expected %d lines, got %v", len(want), lines)
	}
	for i := range want {
		if lines[i] != want[i] {
			t.Fatalf("line %d: want %+v got %+v", i, want[i], lines[i])
		}
	}

	state.PaymentLink = nil
	for _, line := range Lines(state) {
		if line.Kind == LinePaymentLabel || line.Kind == LinePaymentURL {
			t.Fatalf("unexpected payment line without link: %+v", line)
		}
	}
}

func TestLinesSortRankingWithoutMutatingState(t *testing.T) {
	state := &overlay.State{Ranking: []overlay.RankEntry{
		{Rank: 3, Identifier: "carla", Amount: 5},
		{Rank: 1, Identifier: "ana", Amount: 50},
		{Rank: 2, Identifier: "bruno", Amount: 20},
	}}
	lines := Lines(state)
	want := []string{"#1 ana 50", "#2 bruno 20", "#3 carla 5"}
	if len(lines) != len(want) {
		t.Fatalf("expected %d lines, got %v", len(want), lines)
	}
	for i, text := range want {
		if lines[i].Text != text {
			t.Fatalf("line %d: want %q got %q", i, text, lines[i].Text)
		}
	}
	if state.Ranking[0].Rank != 3 {
		t.Fatalf("state ranking was reordered: %+v", state.Ranking)
	}
}

func TestRenderPaymentLinkOnlyDrawsLabelThenURL(t *testing.T) {
	state := &overlay.State{PaymentLink: &overlay.PaymentLink{URL: "https://p.example", Label: ""}}
	lines := Lines(state)
	if len(lines) != 2 || lines[0].Kind != LinePaymentLabel || lines[1].Kind != LinePaymentURL {
		t.Fatalf("expected label then url, got %+v", lines)
	}
	out := Render(testFrame(200, 80), state)
	if !bandHasColor(out.Image, 30, 20, func(c color.RGBA) bool { return c.G > 150 && c.B > 150 && c.R < 100 }) {
		t.Fatal("expected cyan url pixels on the second line")
	}
}

func TestRenderClipsToSmallFrames(t *testing.T) {
	state := &overlay.State{Alerts: []overlay.Alert{{Message: "a very long alert line that does not fit"}, {Message: "second"}}}
	out := Render(testFrame(16, 8), state)
	if out.Width != 16 || out.Height != 8 {
		t.Fatalf("unexpected geometry %dx%d", out.Width, out.Height)
	}
}

func TestFoldASCII(t *testing.T) {
	cases := []struct{ in, want string }{
		{"", ""},
		{"Ação", "Acao"},
		{"tab\there", "tab here"},
		{"emoji 🎉", "emoji ?"},
		{"bell\x07", "bell"},
	}
	for _, tc := range cases {
		if got := foldASCII(tc.in); got != tc.want {
			t.Errorf("foldASCII(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func bandHasBrightPixel(img *image.RGBA, y0, height int) bool {
	return bandHasColor(img, y0, height, func(c color.RGBA) bool { return c.R > 150 && c.G > 150 && c.B > 150 })
}

func bandHasColor(img *image.RGBA, y0, height int, match func(color.RGBA) bool) bool {
	b := img.Bounds()
	for y := y0; y < y0+height && y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			if match(img.RGBAAt(x, y)) {
				return true
			}
		}
	}
	return false
}
