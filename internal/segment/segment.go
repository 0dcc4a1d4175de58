// Package segment splits message text into user data parts that each fit in
// one short message, adding a concatenation header when more than one part
// is needed.
package segment

import (
	"fmt"
	"math/rand"
	"sync/atomic"

	"github.com/danmuck/cimd/internal/gsm"
	"github.com/danmuck/cimd/internal/observability"
	"github.com/danmuck/cimd/internal/protocol"
	"golang.org/x/text/encoding/unicode"
)

const (
	DefaultMaxPartSize = 140
	HeaderSize         = 6
	MaxParts           = 255
)

var (
	ErrPartSize     = fmt.Errorf("segment: part size must exceed %d header bytes", HeaderSize)
	ErrTooManyParts = fmt.Errorf("segment: message needs more than %d parts", MaxParts)
)

var ucs2 = unicode.UTF16(unicode.BigEndian, unicode.IgnoreBOM)

type alphabet struct {
	name       string
	dataCoding int
	runeBits   func(r rune) int
	encode     func(s string) ([]byte, error)
}

var (
	gsmAlphabet = alphabet{
		name:       "gsm",
		dataCoding: protocol.DCSDefaultAlphabet,
		runeBits:   gsm.RuneBits,
		encode: func(s string) ([]byte, error) {
			return gsm.Encode7Bit(s), nil
		},
	}
	ucs2Alphabet = alphabet{
		name:       "ucs2",
		dataCoding: protocol.DCSUCS2,
		runeBits: func(r rune) int {
			if r > 0xFFFF {
				return 32
			}
			return 16
		},
		encode: func(s string) ([]byte, error) {
			return ucs2.NewEncoder().Bytes([]byte(s))
		},
	}
)

// Segmenter splits text into parts of at most MaxPartSize body bytes. Each
// multi-part message takes the next value of a reference counter seeded at
// random, so concurrent messages to one recipient do not share a reference.
type Segmenter struct {
	maxPartSize int
	ref         atomic.Uint32
}

func New(maxPartSize int) (*Segmenter, error) {
	if maxPartSize <= HeaderSize {
		return nil, ErrPartSize
	}
	s := &Segmenter{maxPartSize: maxPartSize}
	s.ref.Store(uint32(rand.Intn(256)))
	return s, nil
}

func (s *Segmenter) MaxPartSize() int {
	return s.maxPartSize
}

// Split encodes text with the GSM default alphabet when every character is
// representable and as UCS-2 otherwise.
func (s *Segmenter) Split(text string) ([]protocol.UserData, error) {
	a := ucs2Alphabet
	if gsm.IsGSM(text) {
		a = gsmAlphabet
	}

	totalBits := 0
	for _, r := range text {
		totalBits += a.runeBits(r)
	}
	total := (totalBits + 7) / 8

	if total <= s.maxPartSize {
		body, err := a.encode(text)
		if err != nil {
			return nil, fmt.Errorf("segment: encode %s: %w", a.name, err)
		}
		part, err := protocol.BinaryUserData(body, nil, a.dataCoding)
		if err != nil {
			return nil, err
		}
		observability.RecordSegmentation(a.name, 1)
		return []protocol.UserData{part}, nil
	}

	capacity := s.maxPartSize - HeaderSize
	if (total+capacity-1)/capacity > MaxParts {
		return nil, ErrTooManyParts
	}

	chunks := splitChunks(text, a.runeBits, capacity*8)
	if len(chunks) > MaxParts {
		return nil, ErrTooManyParts
	}

	ref := byte(s.ref.Add(1))
	parts := make([]protocol.UserData, 0, len(chunks))
	for i, chunk := range chunks {
		body, err := a.encode(chunk)
		if err != nil {
			return nil, fmt.Errorf("segment: encode %s: %w", a.name, err)
		}
		header := []byte{0x05, 0x00, 0x03, ref, byte(len(chunks)), byte(i + 1)}
		part, err := protocol.BinaryUserData(body, header, a.dataCoding)
		if err != nil {
			return nil, err
		}
		parts = append(parts, part)
	}
	observability.RecordSegmentation(a.name, len(parts))
	return parts, nil
}

// splitChunks packs whole characters greedily so escape pairs and surrogate
// pairs never straddle two parts.
func splitChunks(text string, runeBits func(rune) int, maxBits int) []string {
	var chunks []string
	start, bits := 0, 0
	for i, r := range text {
		n := runeBits(r)
		if bits+n > maxBits && i > start {
			chunks = append(chunks, text[start:i])
			start, bits = i, 0
		}
		bits += n
	}
	if start < len(text) {
		chunks = append(chunks, text[start:])
	}
	return chunks
}
