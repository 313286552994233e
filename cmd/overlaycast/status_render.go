package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/mattn/go-isatty"

	"overlaycast/internal/preflight"
)

type statusKind int

const (
	statusInfo statusKind = iota
	statusOK
	statusWarn
	statusError
)

const (
	ansiReset  = "\x1b[0m"
	ansiRed    = "\x1b[31m"
	ansiGreen  = "\x1b[32m"
	ansiYellow = "\x1b[33m"
	ansiBlue   = "\x1b[34m"
)

const (
	statusLabelWidth = 20
	statusIndent     = "  "
)

type statusStyle struct {
	label string
	color string
}

var statusStyles = map[statusKind]statusStyle{
	statusInfo:  {"INFO", ansiBlue},
	statusOK:    {"OK", ansiGreen},
	statusWarn:  {"WARN", ansiYellow},
	statusError: {"ERROR", ansiRed},
}

// renderStatusLine formats "  Label:   [KIND] message", wrapped in the kind's
// colour when colorize is set.
func renderStatusLine(label string, kind statusKind, message string, colorize bool) string {
	style, ok := statusStyles[kind]
	if !ok {
		style = statusStyles[statusInfo]
	}
	badge := "[" + style.label + "]"
	if message != "" {
		badge += " " + message
	}
	line := fmt.Sprintf("%s%-*s %s", statusIndent, statusLabelWidth, label+":", badge)
	if colorize {
		return style.color + line + ansiReset
	}
	return line
}

func renderSectionHeader(title string, colorize bool) []string {
	line := fmt.Sprintf("== %s ==", strings.TrimSpace(title))
	rule := strings.Repeat("-", len(line))
	if colorize {
		line = ansiBlue + line + ansiReset
		rule = ansiBlue + rule + ansiReset
	}
	return []string{line, rule}
}

// checkLines renders a summary line followed by one line per check. Failed
// required checks are errors, failed optional checks are warnings.
func checkLines(results []preflight.Result, colorize bool) []string {
	var missing []string
	optionalMissing := 0
	body := make([]string, 0, len(results))
	for _, r := range results {
		switch {
		case r.Passed:
			body = append(body, renderStatusLine(r.Name, statusOK, r.Detail, colorize))
		case r.Optional:
			optionalMissing++
			body = append(body, renderStatusLine(r.Name, statusWarn, r.Detail, colorize))
		default:
			missing = append(missing, r.Name)
			body = append(body, renderStatusLine(r.Name, statusError, r.Detail, colorize))
		}
	}

	var summary string
	switch {
	case len(missing) > 0:
		summary = renderStatusLine("Summary", statusError, fmt.Sprintf("%d of %d required checks failed", len(missing), len(results)-optionalMissing), colorize)
	case optionalMissing > 0:
		summary = renderStatusLine("Summary", statusWarn, fmt.Sprintf("%d optional checks failed", optionalMissing), colorize)
	default:
		summary = renderStatusLine("Summary", statusOK, "All checks passed", colorize)
	}

	lines := append([]string{summary}, body...)
	if len(missing) > 0 {
		lines = append(lines, fmt.Sprintf("%sMissing dependencies: %s", statusIndent, strings.Join(missing, ", ")))
	}
	return lines
}

func shouldColorize(writer io.Writer) bool {
	file, ok := writer.(*os.File)
	if !ok {
		return false
	}
	fd := file.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}
