package cmd

// statusLineWidth returns the content width to use for the status line given
// a detected terminal width (0 if undetectable). One character of content is
// trimmed relative to the detected width because carriage return wipes don't
// work if the cursor has already printed a character in the last position of
// the line on Windows.
func statusLineWidth(detected int) int {
	if detected > 0 {
		return detected - 1
	}
	return 79
}
