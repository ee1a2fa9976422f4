//go:build !windows

package cmd

// statusLineWidth returns the content width to use for the status line given
// a detected terminal width (0 if undetectable). 80 characters is a
// reasonable minimum based on the minimum width of a VT100 terminal.
func statusLineWidth(detected int) int {
	if detected > 0 {
		return detected
	}
	return 80
}
