package gsm

// Escape switches the next septet to the extension table.
const Escape = 0x1B

const (
	replacement = '?'
	noChar      = rune(-1)
)

// basic is the GSM 03.38 default alphabet indexed by septet value. Index 0x09
// is the small c with cedilla form; 0x1B has no character.
var basic = [128]rune{
	'@', '£', '$', '¥', 'è', 'é', 'ù', 'ì', 'ò', 'ç', '\n', 'Ø', 'ø', '\r', 'Å', 'å',
	'Δ', '_', 'Φ', 'Γ', 'Λ', 'Ω', 'Π', 'Ψ', 'Σ', 'Θ', 'Ξ', noChar, 'Æ', 'æ', 'ß', 'É',
	' ', '!', '"', '#', '¤', '%', '&', '\'', '(', ')', '*', '+', ',', '-', '.', '/',
	'0', '1', '2', '3', '4', '5', '6', '7', '8', '9', ':', ';', '<', '=', '>', '?',
	'¡', 'A', 'B', 'C', 'D', 'E', 'F', 'G', 'H', 'I', 'J', 'K', 'L', 'M', 'N', 'O',
	'P', 'Q', 'R', 'S', 'T', 'U', 'V', 'W', 'X', 'Y', 'Z', 'Ä', 'Ö', 'Ñ', 'Ü', '§',
	'¿', 'a', 'b', 'c', 'd', 'e', 'f', 'g', 'h', 'i', 'j', 'k', 'l', 'm', 'n', 'o',
	'p', 'q', 'r', 's', 't', 'u', 'v', 'w', 'x', 'y', 'z', 'ä', 'ö', 'ñ', 'ü', 'à',
}

// extension maps septets following Escape to characters.
var extension = map[byte]rune{
	0x0A: '\f',
	0x14: '^',
	0x28: '{',
	0x29: '}',
	0x2F: '\\',
	0x3C: '[',
	0x3D: '~',
	0x3E: ']',
	0x40: '|',
	0x65: '€',
}

var (
	basicIndex     map[rune]byte
	extensionIndex map[rune]byte
)

func init() {
	basicIndex = make(map[rune]byte, len(basic))
	for i, r := range basic {
		if r != noChar {
			basicIndex[r] = byte(i)
		}
	}
	extensionIndex = make(map[rune]byte, len(extension))
	for code, r := range extension {
		extensionIndex[r] = code
	}
}

// septets maps s to septet values, escaping extension characters and
// replacing unrepresentable runes with '?'.
func septets(s string) []byte {
	out := make([]byte, 0, len(s))
	for _, r := range s {
		if code, ok := basicIndex[r]; ok {
			out = append(out, code)
			continue
		}
		if code, ok := extensionIndex[r]; ok {
			out = append(out, Escape, code)
			continue
		}
		out = append(out, basicIndex[replacement])
	}
	return out
}

// text maps septet values back to characters. An escape followed by a septet
// outside the extension table yields a space and the base character; a
// trailing lone escape yields a space.
func text(sep []byte) string {
	out := make([]rune, 0, len(sep))
	for i := 0; i < len(sep); i++ {
		c := sep[i] & 0x7F
		if c != Escape {
			out = append(out, basic[c])
			continue
		}
		if i+1 >= len(sep) {
			out = append(out, ' ')
			break
		}
		i++
		next := sep[i] & 0x7F
		if r, ok := extension[next]; ok {
			out = append(out, r)
			continue
		}
		out = append(out, ' ')
		if next != Escape {
			out = append(out, basic[next])
		}
	}
	return string(out)
}
