package spreadsheet

import (
	"fmt"
	"strings"
)

// Address identifies a single cell. Row and Col are 1-based; A1 is {1, 1}.
type Address struct {
	Row int
	Col int
}

// String renders the address in A1 notation.
func (a Address) String() string {
	return EncodeAddress(a.Row, a.Col)
}

// Valid reports whether both coordinates are positive.
func (a Address) Valid() bool {
	return a.Row >= 1 && a.Col >= 1
}

// EncodeAddress converts 1-based row and column indices to A1 notation.
// columns use bijective base-26: A=1, Z=26, AA=27, AZ=52, ZZ=702, AAA=703.
func EncodeAddress(row, col int) string {
	return columnLetters(col) + fmt.Sprintf("%d", row)
}

// columnLetters converts a 1-based column index to its letter run.
func columnLetters(col int) string {
	var b [8]byte
	i := len(b)
	for col > 0 {
		col--
		i--
		b[i] = byte('A' + col%26)
		col /= 26
	}
	return string(b[i:])
}

// columnIndex converts a letter run to its 1-based column index.
// letters must already be upper-case A-Z.
func columnIndex(letters string) int {
	col := 0
	for i := 0; i < len(letters); i++ {
		col = col*26 + int(letters[i]-'A'+1)
	}
	return col
}

// DecodeAddress parses A1 notation into an Address. the reference must be
// one or more upper-case letters followed by one or more digits, with a
// positive row; anything else is an InvalidArgument error.
func DecodeAddress(ref string) (Address, error) {
	letters, digits, ok := splitRef(ref)
	if !ok {
		return Address{}, NewApplicationError(InvalidArgument, fmt.Sprintf("invalid cell reference %q", ref))
	}
	row := 0
	for i := 0; i < len(digits); i++ {
		row = row*10 + int(digits[i]-'0')
		if row > maxRowLimit {
			return Address{}, NewApplicationError(InvalidArgument, fmt.Sprintf("row out of range in %q", ref))
		}
	}
	if row < 1 {
		return Address{}, NewApplicationError(InvalidArgument, fmt.Sprintf("row must be positive in %q", ref))
	}
	return Address{Row: row, Col: columnIndex(letters)}, nil
}

// maxRowLimit bounds decoded row numbers so hostile input cannot
// overflow the accumulator.
const maxRowLimit = 1 << 31

// splitRef separates a reference into its letter and digit runs. both
// runs must be non-empty and the letter run must precede the digits.
func splitRef(ref string) (letters, digits string, ok bool) {
	i := 0
	for i < len(ref) && ref[i] >= 'A' && ref[i] <= 'Z' {
		i++
	}
	j := i
	for j < len(ref) && ref[j] >= '0' && ref[j] <= '9' {
		j++
	}
	if i == 0 || j == i || j != len(ref) {
		return "", "", false
	}
	return ref[:i], ref[i:], true
}

// isCellRef reports whether text is a well-formed A1 reference. used by
// the lexer to distinguish cell references from identifiers.
func isCellRef(text string) bool {
	_, _, ok := splitRef(strings.ToUpper(text))
	return ok
}
