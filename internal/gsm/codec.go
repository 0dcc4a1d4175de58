package gsm

import (
	"errors"
	"fmt"
)

var ErrInvalidByte = errors.New("gsm: byte outside the default alphabet")

const carriageReturn = 0x0D

// Encode7Bit packs s into septets, least significant bit first. Characters
// outside the alphabet become '?'. When the last octet would carry seven
// spare bits they hold a CR so the receiver does not read an extra '@'.
func Encode7Bit(s string) []byte {
	sep := septets(s)
	if len(sep)%8 == 7 {
		sep = append(sep, carriageReturn)
	}
	return pack(sep)
}

// Decode7Bit unpacks septets produced by Encode7Bit or a message center.
func Decode7Bit(b []byte) string {
	sep := unpack(b)
	if len(b)%7 == 0 && len(sep) > 0 && sep[len(sep)-1] == carriageReturn && !escaped(sep, len(sep)-1) {
		sep = sep[:len(sep)-1]
	}
	return text(sep)
}

// Encode8Bit maps s to one septet value per byte.
func Encode8Bit(s string) []byte {
	return septets(s)
}

func Decode8Bit(b []byte) (string, error) {
	for i, v := range b {
		if v > 0x7F {
			return "", fmt.Errorf("%w: 0x%02X at offset %d", ErrInvalidByte, v, i)
		}
	}
	return text(b), nil
}

func pack(sep []byte) []byte {
	out := make([]byte, 0, (len(sep)*7+7)/8)
	var acc uint32
	bits := 0
	for _, s := range sep {
		acc |= uint32(s&0x7F) << bits
		bits += 7
		for bits >= 8 {
			out = append(out, byte(acc))
			acc >>= 8
			bits -= 8
		}
	}
	if bits > 0 {
		out = append(out, byte(acc))
	}
	return out
}

func unpack(b []byte) []byte {
	out := make([]byte, 0, len(b)*8/7)
	var acc uint32
	bits := 0
	for _, v := range b {
		acc |= uint32(v) << bits
		bits += 8
		for bits >= 7 {
			out = append(out, byte(acc&0x7F))
			acc >>= 7
			bits -= 7
		}
	}
	return out
}

// escaped reports whether sep[i] is consumed by a preceding escape.
func escaped(sep []byte, i int) bool {
	run := 0
	for j := i - 1; j >= 0 && sep[j] == Escape; j-- {
		run++
	}
	return run%2 == 1
}
