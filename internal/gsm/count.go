package gsm

// RuneBits returns the packed size of r: 7 for the default alphabet, 14 for
// extension characters, 0 when r cannot be represented.
func RuneBits(r rune) int {
	if _, ok := basicIndex[r]; ok {
		return 7
	}
	if _, ok := extensionIndex[r]; ok {
		return 14
	}
	return 0
}

// CountBits returns the packed size of s in bits. ok is false when any
// character cannot be represented.
func CountBits(s string) (bits int, ok bool) {
	ok = true
	for _, r := range s {
		n := RuneBits(r)
		if n == 0 {
			ok = false
			n = 7
		}
		bits += n
	}
	return bits, ok
}

// CountBytes returns the packed size of s in octets.
func CountBytes(s string) (int, bool) {
	bits, ok := CountBits(s)
	return (bits + 7) / 8, ok
}

// IsGSM reports whether every character of s is in the alphabet or its
// extension table.
func IsGSM(s string) bool {
	for _, r := range s {
		if RuneBits(r) == 0 {
			return false
		}
	}
	return true
}
