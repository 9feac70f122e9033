// Package utf16x converts between UTF-8 strings and the UTF-16 code-unit
// sequences carried by long file name entries and GPT partition names.
package utf16x

import (
	"errors"
	"unicode/utf16"
	"unicode/utf8"
)

const (
	// 0xd800-0xdc00 encodes the high 10 bits of a pair.
	// 0xdc00-0xe000 encodes the low 10 bits of a pair.
	// the value is those 20 bits plus 0x10000.
	surr1 = 0xd800
	surr2 = 0xdc00
	surr3 = 0xe000

	surrSelf = 0x10000

	replacementChar = '�'
)

var (
	ErrInvalidUTF8  = errors.New("invalid utf8 sequence")
	ErrInvalidUTF16 = errors.New("invalid utf16 sequence")
)

// AppendUnits appends the UTF-16 code units of the UTF-8 string s to dst.
// Runes outside the BMP become surrogate pairs. Invalid UTF-8 fails.
func AppendUnits(dst []uint16, s string) ([]uint16, error) {
	for len(s) > 0 {
		r, size := utf8.DecodeRuneInString(s)
		if r == utf8.RuneError && size <= 1 {
			return dst, ErrInvalidUTF8
		}
		switch {
		case 0 <= r && r < surr1, surr3 <= r && r < surrSelf:
			dst = append(dst, uint16(r))
		case surrSelf <= r && r <= utf8.MaxRune:
			r1, r2 := utf16.EncodeRune(r)
			dst = append(dst, uint16(r1), uint16(r2))
		default:
			dst = append(dst, uint16(replacementChar))
		}
		s = s[size:]
	}
	return dst, nil
}

// AppendUTF8 appends the UTF-8 encoding of the UTF-16 code units in src
// to dst. Unpaired surrogates fail.
func AppendUTF8(dst []byte, src []uint16) ([]byte, error) {
	for i := 0; i < len(src); i++ {
		u := src[i]
		var r rune
		switch {
		case u < surr1, surr3 <= u:
			r = rune(u)
		case surr1 <= u && u < surr2 && i+1 < len(src) &&
			surr2 <= src[i+1] && src[i+1] < surr3:
			r = utf16.DecodeRune(rune(u), rune(src[i+1]))
			i++
		default:
			return dst, ErrInvalidUTF16
		}
		dst = utf8.AppendRune(dst, r)
	}
	return dst, nil
}

// Runes decodes the UTF-16 code units in src into a rune slice, pairing
// surrogates. Unpaired surrogates decode to U+FFFD.
func Runes(src []uint16) []rune {
	out := make([]rune, 0, len(src))
	for i := 0; i < len(src); i++ {
		u := src[i]
		switch {
		case u < surr1, surr3 <= u:
			out = append(out, rune(u))
		case surr1 <= u && u < surr2 && i+1 < len(src) &&
			surr2 <= src[i+1] && src[i+1] < surr3:
			out = append(out, utf16.DecodeRune(rune(u), rune(src[i+1])))
			i++
		default:
			out = append(out, replacementChar)
		}
	}
	return out
}
