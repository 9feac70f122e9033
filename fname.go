package fat

import (
	"strings"

	"golang.org/x/text/encoding/charmap"

	"github.com/openfat/fat/internal/utf16x"
)

// fname carries one parsed path component: the 8.3 short name bytes plus,
// when the component does not collapse to a clean uppercase 8.3 name, the
// UTF-16 long-name payload destined for LFN slots.
type fname struct {
	sfn   [11]byte // space padded, uppercase, OEM codepage
	lfn   []uint16 // nil when sfn represents the name exactly
	flags uint8
}

const (
	// fnameLFN: the component needs long-name slots.
	fnameLFN = 1 << iota
	// fnameLossy: the 8.3 derivation dropped information, so the short
	// alias takes a ~N numeric tail chosen against the directory.
	fnameLossy
)

func (fn *fname) isLFN() bool { return fn.flags&fnameLFN != 0 }

// lfnSlotCount returns how many long-name slots the component needs.
func (fn *fname) lfnSlotCount() int {
	if !fn.isLFN() {
		return 0
	}
	return (len(fn.lfn) + lfnSlotChars - 1) / lfnSlotChars
}

func isDirSeparator(c byte) bool { return c == '/' || c == '\\' }

func trimSeparatorPrefix(s string) string {
	for len(s) > 0 && isDirSeparator(s[0]) {
		s = s[1:]
	}
	return s
}

// Characters forbidden anywhere in a FAT name.
const invalidNameChars = `*?<>|":` + "\x7f"

// Characters legal in long names but not in 8.3 short names.
const sfnReservedChars = `+,;=[] `

// parsePathName consumes one path component of path and returns the
// remainder after any trailing separators. The empty remainder marks the
// last component.
func parsePathName(path string) (fn fname, rest string, err error) {
	end := 0
	for end < len(path) && !isDirSeparator(path[end]) {
		if path[end] < ' ' || strings.IndexByte(invalidNameChars, path[end]) >= 0 {
			return fn, "", errInvalidName
		}
		end++
	}
	name := path[:end]
	rest = trimSeparatorPrefix(path[end:])

	// FAT ignores trailing dots and spaces.
	name = strings.TrimRight(name, ". ")
	if name == "" {
		return fn, "", errInvalidName
	}
	fn.lfn, err = utf16x.AppendUnits(nil, name)
	if err != nil || len(fn.lfn) > lfnMaxChars {
		return fn, "", errInvalidName
	}
	lossy := makeSFN(&fn, name)
	if lossy {
		fn.flags = fnameLFN | fnameLossy
	} else if fn.sfnRoundTrips(name) {
		// Clean uppercase 8.3 name; no long entry needed.
		fn.flags = 0
		fn.lfn = nil
	} else {
		fn.flags = fnameLFN
	}
	return fn, rest, nil
}

// makeSFN derives the space-padded 8.3 bytes from name and reports
// whether the derivation lost information.
func makeSFN(fn *fname, name string) (lossy bool) {
	for i := range fn.sfn {
		fn.sfn[i] = ' '
	}
	base := name
	ext := ""
	if dot := strings.LastIndexByte(name, '.'); dot > 0 {
		base, ext = name[:dot], name[dot+1:]
	} else if dot == 0 {
		// Leading-dot names have no 8.3 form.
		lossy = true
		base = strings.TrimLeft(name, ".")
	}
	lossy = fillSFNField(fn.sfn[0:8], base) || lossy
	lossy = fillSFNField(fn.sfn[8:11], ext) || lossy
	if fn.sfn[0] == ' ' {
		fn.sfn[0] = '_'
		lossy = true
	}
	return lossy
}

// fillSFNField uppercases src into the OEM codepage, mapping what cannot
// be represented to '_'. Returns true when information was lost.
func fillSFNField(dst []byte, src string) (lossy bool) {
	i := 0
	for _, r := range src {
		if i >= len(dst) {
			return true
		}
		switch {
		case r == '.', r == ' ':
			lossy = true
			continue
		case r < 0x80:
			b := byte(r)
			if strings.IndexByte(sfnReservedChars, b) >= 0 {
				lossy = true
				b = '_'
			} else if b >= 'a' && b <= 'z' {
				b -= 'a' - 'A'
			}
			dst[i] = b
		default:
			// Extended characters go through the OEM codepage.
			b, ok := charmap.CodePage437.EncodeRune(upperRune(r))
			if !ok {
				lossy = true
				b = '_'
			}
			dst[i] = b
		}
		i++
	}
	return lossy
}

func upperRune(r rune) rune {
	if r >= 'a' && r <= 'z' {
		return r - ('a' - 'A')
	}
	return r
}

// sfnRoundTrips reports whether decoding the derived 8.3 bytes yields the
// original component, meaning no long entry is required.
func (fn *fname) sfnRoundTrips(name string) bool {
	return sfnString(fn.sfn) == name
}

// sfnString renders space-padded 8.3 bytes as NAME.EXT, mapping extended
// OEM bytes back through the codepage.
func sfnString(sfn [11]byte) string {
	var sb strings.Builder
	appendField := func(f []byte) {
		for _, b := range f {
			if b == ' ' {
				break
			}
			if b < 0x80 {
				sb.WriteByte(b)
			} else {
				sb.WriteRune(charmap.CodePage437.DecodeByte(b))
			}
		}
	}
	appendField(sfn[0:8])
	ext := sfn[8:11]
	if ext[0] != ' ' {
		sb.WriteByte('.')
		appendField(ext)
	}
	return sb.String()
}

// sfnWithTail returns the short name with a ~n numeric tail squeezed into
// the base field, per the usual alias generation rules.
func sfnWithTail(sfn [11]byte, n int) [11]byte {
	tail := "~" + itoa(n)
	baseLen := 0
	for baseLen < 8 && sfn[baseLen] != ' ' {
		baseLen++
	}
	if baseLen > 8-len(tail) {
		baseLen = 8 - len(tail)
	}
	copy(sfn[baseLen:8], tail)
	for i := baseLen + len(tail); i < 8; i++ {
		sfn[i] = ' '
	}
	return sfn
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	var buf [8]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	return string(buf[i:])
}

// lfnEqual compares two UTF-16 sequences exactly.
func lfnEqual(a, b []uint16) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// lfnToString decodes assembled long-name code units for listings.
func lfnToString(units []uint16) string {
	return string(utf16x.Runes(units))
}
