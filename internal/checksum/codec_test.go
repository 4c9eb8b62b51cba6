package checksum

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/iliyamo/cinema-order-saga/internal/errs"
)

func TestKnownCodes(t *testing.T) {
	cases := []struct {
		n    int64
		code string
	}{
		{0, "000000"},
		{1, "800100"},
		{2, "520000"},
	}
	for _, tc := range cases {
		got, err := Encode(tc.n, DefaultWidth)
		require.NoError(t, err)
		require.Equal(t, tc.code, got)

		n, err := Decode(got)
		require.NoError(t, err)
		require.Equal(t, tc.n, n)
		require.True(t, Validate(got))
	}
}

func TestRoundTripWholeRange(t *testing.T) {
	for n := int64(0); n < 100000; n++ {
		code, err := Encode(n, DefaultWidth)
		require.NoError(t, err)
		require.Len(t, code, DefaultWidth+1)
		back, err := Decode(code)
		require.NoError(t, err)
		if back != n || !Validate(code) {
			t.Fatalf("round trip failed for %d: code=%s back=%d", n, code, back)
		}
	}
}

func TestCorruptedLastCharacterFailsValidation(t *testing.T) {
	code, err := Encode(1, DefaultWidth)
	require.NoError(t, err)
	last := code[len(code)-1]
	for d := byte('0'); d <= '9'; d++ {
		if d == last {
			continue
		}
		tampered := code[:len(code)-1] + string(d)
		require.Falsef(t, Validate(tampered), "tampered code %s validated", tampered)
	}
}

func TestWidthErrors(t *testing.T) {
	_, err := Encode(1, 6)
	require.ErrorIs(t, err, errs.ErrArgument)

	_, err = Encode(100000, DefaultWidth)
	require.ErrorIs(t, err, errs.ErrArgument)

	_, err = Decode("12345")
	require.ErrorIs(t, err, errs.ErrArgument)

	_, err = Decode("12a456")
	require.ErrorIs(t, err, errs.ErrArgument)

	require.False(t, Validate("1234567"))
}

func TestNewRejectsBadTables(t *testing.T) {
	perms := defaultPermutations
	perms[3] = []int{0, 0, 1, 2, 3}
	_, err := New(defaultWeights, perms)
	require.ErrorIs(t, err, errs.ErrArgument)

	_, err = New(nil, defaultPermutations)
	require.ErrorIs(t, err, errs.ErrArgument)
}

func TestCustomWidth(t *testing.T) {
	var perms [10][]int
	for i := range perms {
		if i%2 == 0 {
			perms[i] = []int{2, 0, 1}
		} else {
			perms[i] = []int{1, 2, 0}
		}
	}
	c := MustNew([]int{7, 3, 1}, perms)
	for n := int64(0); n < 1000; n++ {
		code, err := c.Encode(n)
		require.NoError(t, err)
		back, err := c.Decode(code)
		require.NoError(t, err)
		require.Equal(t, n, back)
		require.True(t, c.Validate(code))
	}
}
