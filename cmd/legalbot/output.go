package main

import (
	"fmt"
	"os"
)

// ANSI SGR codes for the stderr printers.
const (
	sgrReset  = "\033[0m"
	sgrRed    = "\033[31m"
	sgrGreen  = "\033[32m"
	sgrYellow = "\033[33m"
	sgrBold   = "\033[1m"
)

// useColor honors both the --no-color flag and the NO_COLOR convention.
func useColor() bool {
	if noColor {
		return false
	}
	return os.Getenv("NO_COLOR") == ""
}

func paint(code, text string) string {
	if !useColor() {
		return text
	}
	return code + text + sgrReset
}

func printMarked(code, mark, format string, args ...any) {
	fmt.Fprintln(os.Stderr, paint(code, mark+" "+fmt.Sprintf(format, args...)))
}

func printSuccess(format string, args ...any) { printMarked(sgrGreen, "✓", format, args...) }
func printError(format string, args ...any)   { printMarked(sgrRed, "✗", format, args...) }
func printWarning(format string, args ...any) { printMarked(sgrYellow, "⚠", format, args...) }

// printStatus renders one indented "Label: value" line for the status command.
func printStatus(label string, format string, args ...any) {
	fmt.Fprintf(os.Stderr, "  %s %s\n", paint(sgrBold, label+":"), fmt.Sprintf(format, args...))
}
