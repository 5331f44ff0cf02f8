package encoding

import "strings"

const gsm7Escape = 0x1B

// GSM 03.38 default alphabet, indexed by septet value
var gsm7ToUnicode = [128]rune{
	'@', '£', '$', '¥', 'è', 'é', 'ù', 'ì', 'ò', 'ç', '\n', 'Ø', 'ø', '\r', 'Å', 'å',
	'Δ', '_', 'Φ', 'Γ', 'Λ', 'Ω', 'Π', 'Ψ', 'Σ', 'Θ', 'Ξ', '\u00A0', 'Æ', 'æ', 'ß', 'É',
	' ', '!', '"', '#', '¤', '%', '&', '\'', '(', ')', '*', '+', ',', '-', '.', '/',
	'0', '1', '2', '3', '4', '5', '6', '7', '8', '9', ':', ';', '<', '=', '>', '?',
	'¡', 'A', 'B', 'C', 'D', 'E', 'F', 'G', 'H', 'I', 'J', 'K', 'L', 'M', 'N', 'O',
	'P', 'Q', 'R', 'S', 'T', 'U', 'V', 'W', 'X', 'Y', 'Z', 'Ä', 'Ö', 'Ñ', 'Ü', '§',
	'¿', 'a', 'b', 'c', 'd', 'e', 'f', 'g', 'h', 'i', 'j', 'k', 'l', 'm', 'n', 'o',
	'p', 'q', 'r', 's', 't', 'u', 'v', 'w', 'x', 'y', 'z', 'ä', 'ö', 'ñ', 'ü', 'à',
}

// Extended GSM 7-bit characters (prefixed with ESC 0x1B)
var gsm7BitExtended = map[rune]byte{
	'\f': 0x0A, // Form Feed
	'^':  0x14, // Circumflex
	'{':  0x28, // Left Brace
	'}':  0x29, // Right Brace
	'\\': 0x2F, // Backslash
	'[':  0x3C, // Left Bracket
	'~':  0x3D, // Tilde
	']':  0x3E, // Right Bracket
	'|':  0x40, // Pipe
	'€':  0x65, // Euro
}

// One way mappings: letters the alphabet lacks are folded onto a look-alike.
// Decoding the result yields the base letter, not the original.
var gsm7BitFolding = map[rune]byte{
	'°': 0x24, 'Ç': 0x09,
	'À': 0x41, 'Á': 0x41, 'Â': 0x41, 'Ã': 0x41,
	'È': 0x45, 'Ê': 0x45, 'Ë': 0x45,
	'Ì': 0x49, 'Í': 0x49, 'Î': 0x49, 'Ï': 0x49,
	'Ò': 0x4F, 'Ó': 0x4F, 'Ô': 0x4F, 'Õ': 0x4F,
	'Ù': 0x55, 'Ú': 0x55, 'Û': 0x55,
	'Ý': 0x59,
	'á': 0x61, 'â': 0x61, 'ã': 0x61,
	'ê': 0x65, 'ë': 0x65,
	'í': 0x69, 'î': 0x69, 'ï': 0x69,
	'ó': 0x6F, 'ô': 0x6F, 'õ': 0x6F,
	'ú': 0x75, 'û': 0x75,
	'ý': 0x79, 'ÿ': 0x79,
	// Greek capitals sharing a glyph with a Latin letter
	'Α': 0x41, 'Β': 0x42, 'Ε': 0x45, 'Ζ': 0x5A, 'Η': 0x48, 'Ι': 0x49, 'Κ': 0x4B,
	'Μ': 0x4D, 'Ν': 0x4E, 'Ο': 0x4F, 'Ρ': 0x50, 'Τ': 0x54, 'Υ': 0x59, 'Χ': 0x58,
}

var gsm7BitAlphabet map[rune]byte
var gsm7BitExtendedReverse map[byte]rune

func init() {
	gsm7BitAlphabet = make(map[rune]byte, len(gsm7ToUnicode))
	for septet, r := range gsm7ToUnicode {
		if septet == gsm7Escape {
			continue
		}
		gsm7BitAlphabet[r] = byte(septet)
	}

	gsm7BitExtendedReverse = make(map[byte]rune, len(gsm7BitExtended))
	for r, b := range gsm7BitExtended {
		gsm7BitExtendedReverse[b] = r
	}
}

// EncodeGSM7 converts UTF-8 text to unpacked GSM 03.38 septets, one per byte.
// Characters outside the alphabet become '?'.
func EncodeGSM7(text string) []byte {
	result := make([]byte, 0, len(text))
	for _, r := range text {
		if b, ok := gsm7BitAlphabet[r]; ok {
			result = append(result, b)
		} else if b, ok := gsm7BitExtended[r]; ok {
			result = append(result, gsm7Escape, b)
		} else if b, ok := gsm7BitFolding[r]; ok {
			result = append(result, b)
		} else {
			result = append(result, '?')
		}
	}
	return result
}

// DecodeGSM7 converts unpacked GSM 03.38 septets to UTF-8 text.
//
// Bytes with the high bit set are not septets and decode to '?'. An escape that
// is not followed by a known extension character decodes as a no-break space and
// the next byte is decoded on its own.
func DecodeGSM7(data []byte) string {
	var sb strings.Builder
	sb.Grow(len(data))

	for i := 0; i < len(data); i++ {
		b := data[i]
		switch {
		case b > 0x7F:
			sb.WriteByte('?')
		case b == gsm7Escape:
			if i+1 < len(data) {
				if r, ok := gsm7BitExtendedReverse[data[i+1]]; ok {
					sb.WriteRune(r)
					i++
					continue
				}
			}
			sb.WriteRune(gsm7ToUnicode[gsm7Escape])
		default:
			sb.WriteRune(gsm7ToUnicode[b])
		}
	}
	return sb.String()
}

// Pack7Bit packs septets (one per byte, high bit ignored) into octets.
// When the last octet would leave a whole septet of padding, a CR is packed
// there so the receiver does not read a trailing '@'.
func Pack7Bit(septets []byte) []byte {
	if len(septets)%8 == 7 {
		septets = append(septets[:len(septets):len(septets)], '\r')
	}

	packed := make([]byte, 0, (len(septets)*7+7)/8)
	var acc uint16
	bits := uint(0)
	for _, s := range septets {
		acc |= uint16(s&0x7F) << bits
		bits += 7
		if bits >= 8 {
			packed = append(packed, byte(acc))
			acc >>= 8
			bits -= 8
		}
	}
	if bits > 0 {
		packed = append(packed, byte(acc))
	}
	return packed
}

// Unpack7Bit reverses Pack7Bit.
func Unpack7Bit(packed []byte) []byte {
	count := len(packed) * 8 / 7
	septets := make([]byte, 0, count)

	var acc uint16
	bits := uint(0)
	for _, b := range packed {
		acc |= uint16(b) << bits
		bits += 8
		for bits >= 7 && len(septets) < count {
			septets = append(septets, byte(acc&0x7F))
			acc >>= 7
			bits -= 7
		}
	}

	if count > 0 && count%8 == 0 && septets[count-1] == '\r' {
		septets = septets[:count-1]
	}
	return septets
}
