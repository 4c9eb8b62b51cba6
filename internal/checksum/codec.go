// Package checksum turns sequence numbers into short public codes and back.
//
// A code is the zero-padded sequence number, shuffled by one of ten
// permutations and prefixed with a weighted mod-11 check digit that also
// selects the permutation.  Codes look opaque to customers but are fully
// reversible and catch most single-character transcription errors.  They
// are not secret.
package checksum

import (
	"strconv"
	"strings"

	"github.com/iliyamo/cinema-order-saga/internal/errs"
)

// DefaultWidth is the number of sequence digits in a confirmation code.
const DefaultWidth = 5

var (
	defaultWeights = []int{3, 4, 5, 2, 4}

	// indexed by check digit; output position p takes source[perm[p]]
	defaultPermutations = [10][]int{
		{4, 1, 3, 0, 2},
		{2, 0, 4, 1, 3},
		{1, 3, 0, 4, 2},
		{3, 4, 1, 2, 0},
		{0, 2, 4, 3, 1},
		{4, 3, 2, 1, 0},
		{2, 4, 0, 3, 1},
		{1, 0, 3, 4, 2},
		{3, 2, 4, 0, 1},
		{0, 4, 1, 3, 2},
	}

	std = MustNew(defaultWeights, defaultPermutations)
)

// Codec encodes fixed-width sequence numbers.  A Codec is immutable and safe
// for concurrent use.
type Codec struct {
	width        int
	weights      []int
	permutations [10][]int
}

// New builds a codec for len(weights) digits.  Every permutation must be a
// permutation of 0..len(weights)-1.
func New(weights []int, permutations [10][]int) (*Codec, error) {
	w := len(weights)
	if w == 0 {
		return nil, errs.Argument("checksum: weight table is empty")
	}
	for i, p := range permutations {
		if len(p) != w {
			return nil, errs.Argument("checksum: permutation %d has length %d, want %d", i, len(p), w)
		}
		seen := make([]bool, w)
		for _, idx := range p {
			if idx < 0 || idx >= w || seen[idx] {
				return nil, errs.Argument("checksum: permutation %d is not a permutation of 0..%d", i, w-1)
			}
			seen[idx] = true
		}
	}
	c := &Codec{width: w, weights: append([]int(nil), weights...)}
	for i, p := range permutations {
		c.permutations[i] = append([]int(nil), p...)
	}
	return c, nil
}

// MustNew is like New but panics on an invalid table.
func MustNew(weights []int, permutations [10][]int) *Codec {
	c, err := New(weights, permutations)
	if err != nil {
		panic(err)
	}
	return c
}

// Width reports how many sequence digits the codec handles.
func (c *Codec) Width() int { return c.width }

// Encode converts n into a public code of width+1 characters.
func (c *Codec) Encode(n int64) (string, error) {
	if n < 0 {
		return "", errs.Argument("checksum: negative sequence %d", n)
	}
	source := strconv.FormatInt(n, 10)
	if len(source) > c.width {
		return "", errs.Argument("checksum: %d does not fit in %d digits", n, c.width)
	}
	source = strings.Repeat("0", c.width-len(source)) + source

	check := c.checkDigit(source)
	perm := c.permutations[check]
	out := make([]byte, 0, c.width+1)
	out = append(out, byte('0'+check))
	for p := 0; p < c.width; p++ {
		out = append(out, source[perm[p]])
	}
	return string(out), nil
}

// Decode reverses Encode.  It does not verify the check digit; use Validate
// for that.
func (c *Codec) Decode(code string) (int64, error) {
	source, _, err := c.unshuffle(code)
	if err != nil {
		return 0, err
	}
	n, err := strconv.ParseInt(source, 10, 64)
	if err != nil {
		return 0, errs.Argument("checksum: %q is not numeric", code)
	}
	return n, nil
}

// Validate reports whether code is well formed and its check digit matches.
func (c *Codec) Validate(code string) bool {
	source, check, err := c.unshuffle(code)
	if err != nil {
		return false
	}
	return c.checkDigit(source) == check
}

func (c *Codec) unshuffle(code string) (string, int, error) {
	if len(code) != c.width+1 {
		return "", 0, errs.Argument("checksum: code %q must have %d characters", code, c.width+1)
	}
	for i := 0; i < len(code); i++ {
		if code[i] < '0' || code[i] > '9' {
			return "", 0, errs.Argument("checksum: code %q contains a non-digit", code)
		}
	}
	check := int(code[0] - '0')
	perm := c.permutations[check]
	source := make([]byte, c.width)
	for p := 0; p < c.width; p++ {
		source[perm[p]] = code[p+1]
	}
	return string(source), check, nil
}

// checkDigit weights the digits of source from the right.
func (c *Codec) checkDigit(source string) int {
	sum := 0
	for i := 0; i < c.width; i++ {
		sum += c.weights[i] * int(source[c.width-1-i]-'0')
	}
	d := (11 - sum%11) % 11
	if d >= 10 {
		d = 0
	}
	return d
}

// Encode encodes n with the default five-digit codec.  width must equal the
// codec width.
func Encode(n int64, width int) (string, error) {
	if width != std.width {
		return "", errs.Argument("checksum: unsupported width %d", width)
	}
	return std.Encode(n)
}

// Decode decodes code with the default codec.
func Decode(code string) (int64, error) { return std.Decode(code) }

// Validate validates code with the default codec.
func Validate(code string) bool { return std.Validate(code) }
