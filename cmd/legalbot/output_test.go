package main

import "testing"

func TestPaintRespectsColorControls(t *testing.T) {
	restore := noColor
	defer func() { noColor = restore }()

	noColor = false
	t.Setenv("NO_COLOR", "")
	if got := paint(sgrGreen, "ok"); got != sgrGreen+"ok"+sgrReset {
		t.Errorf("paint() = %q, want colored output", got)
	}

	noColor = true
	if got := paint(sgrGreen, "ok"); got != "ok" {
		t.Errorf("paint() with --no-color = %q, want plain text", got)
	}

	noColor = false
	t.Setenv("NO_COLOR", "1")
	if got := paint(sgrRed, "fail"); got != "fail" {
		t.Errorf("paint() with NO_COLOR set = %q, want plain text", got)
	}
}
