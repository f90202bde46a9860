package sse

// Buffered returns the number of bytes waiting for a line terminator or a retry.
func Buffered(d *Decoder) int {
	return len(d.buf)
}
