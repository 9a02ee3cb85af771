package imagegen

// FixedSeed derives a stable seed from the prompt and style so that identical
// inputs reproduce the same provider output. Rolling polynomial hash over the
// characters, folded to a non-negative 31-bit value.
func FixedSeed(prompt, style string) int64 {
	var h int64
	for _, c := range prompt + style {
		h = h*31 + int64(c)
	}
	return h & 0x7FFFFFFF
}
