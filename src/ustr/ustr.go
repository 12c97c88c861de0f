// Package ustr represents table/object path bytes: a byte-oriented string
// type used as a map key throughout the object/table registry. Path bytes
// for a userspace-backed table arrive across the stream-table trust
// boundary (§4.6), so before they are used as a lookup key they are run
// through Sanitize, which strips non-graphic runes and applies Unicode
// normalization — §4.6 requires every field read from the untrusted shared
// buffer to be validated before use, and a path is exactly such a field.
// Grounded on the teacher's Ustr (biscuit/src/ustr), extended with
// golang.org/x/text/runes and golang.org/x/text/unicode/norm for the
// untrusted-input path.
package ustr

import (
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Ustr represents an immutable path or string used by the kernel.
type Ustr []uint8

// Isdot reports whether the string equals '.'.
func (us Ustr) Isdot() bool {
	return len(us) == 1 && us[0] == '.'
}

// Isdotdot reports whether the string equals '..'.
func (us Ustr) Isdotdot() bool {
	return len(us) == 2 && us[0] == '.' && us[1] == '.'
}

// Eq compares two Ustr values for equality.
func (us Ustr) Eq(s Ustr) bool {
	if len(us) != len(s) {
		return false
	}
	for i, v := range us {
		if v != s[i] {
			return false
		}
	}
	return true
}

// MkUstr creates an empty Ustr value.
func MkUstr() Ustr {
	return Ustr{}
}

// MkUstrDot returns a Ustr representing '.'.
func MkUstrDot() Ustr {
	return Ustr(".")
}

// MkUstrRoot returns a Ustr for the root directory '/'.
func MkUstrRoot() Ustr {
	return Ustr("/")
}

// DotDot is a reusable Ustr containing "..".
var DotDot = Ustr{'.', '.'}

// MkUstrSlice converts a NUL-terminated byte slice to a Ustr.
func MkUstrSlice(buf []uint8) Ustr {
	for i := 0; i < len(buf); i++ {
		if buf[i] == uint8(0) {
			return buf[:i]
		}
	}
	return buf
}

// Extend appends '/' and p to the current Ustr and returns the result.
func (us Ustr) Extend(p Ustr) Ustr {
	tmp := make(Ustr, len(us))
	copy(tmp, us)
	r := append(tmp, '/')
	return append(r, p...)
}

// ExtendStr appends '/' and the string p to the current Ustr.
func (us Ustr) ExtendStr(p string) Ustr {
	return us.Extend(Ustr(p))
}

// IsAbsolute reports whether the path begins with '/'.
func (us Ustr) IsAbsolute() bool {
	if len(us) == 0 {
		return false
	}
	return us[0] == '/'
}

// IndexByte returns the index of b in the string or -1 if not present.
func (us Ustr) IndexByte(b uint8) int {
	for i, v := range us {
		if v == b {
			return i
		}
	}
	return -1
}

// String converts the Ustr to a Go string.
func (us Ustr) String() string {
	return string(us)
}

// sanitizer strips control/format/unassigned/surrogate runes and folds to
// NFC, built once since transform.Transformer is reusable across calls.
var sanitizer = transform.Chain(
	runes.Remove(runes.In(unicode.C)),
	norm.NFC,
)

// Sanitize runs raw bytes read from a stream-table peer's shared buffer
// (a path argument to open/create/query, per §4.3) through graphic-rune
// filtering and NFC normalization before the result is safe to use as a
// Ustr map key. A path that decodes to invalid UTF-8 is treated as if it
// were empty, which callers reject with EInvalidArg per §8 boundary cases
// ("open on an empty path fails InvalidArgument").
func Sanitize(raw []byte) (Ustr, bool) {
	out, _, err := transform.Bytes(sanitizer, raw)
	if err != nil {
		return nil, false
	}
	return Ustr(out), true
}
