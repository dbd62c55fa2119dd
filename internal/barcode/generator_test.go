package barcode

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

type memorySequencer struct {
	mu  sync.Mutex
	seq int64
}

func (s *memorySequencer) Next(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	return s.seq, nil
}

func (s *memorySequencer) Current(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.seq, nil
}

func (s *memorySequencer) Set(ctx context.Context, seq int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq = seq
	return nil
}

func TestCheckDigit(t *testing.T) {
	cases := []struct {
		body  string
		digit int
	}{
		{"210000000001", 2},
		{"210000000000", 5},
		{"400638133393", 1}, // well-known reference code 4006381333931
	}
	for _, tc := range cases {
		digit, err := CheckDigit(tc.body)
		require.NoError(t, err)
		require.Equal(t, tc.digit, digit, "body %s", tc.body)
	}

	// Deterministic: repeated runs agree.
	for i := 0; i < 10; i++ {
		digit, err := CheckDigit("210000000001")
		require.NoError(t, err)
		require.Equal(t, 2, digit)
	}

	_, err := CheckDigit("21000")
	require.Error(t, err)
	_, err = CheckDigit("21000000000x")
	require.Error(t, err)
}

func TestCompose(t *testing.T) {
	code, err := Compose("21", 1)
	require.NoError(t, err)
	require.Equal(t, "2100000000012", code)
	require.Len(t, code, 13)

	_, err = Compose("2", 1)
	require.Error(t, err)
	_, err = Compose("21", 10000000000)
	require.ErrorIs(t, err, ErrSequenceOverflow)
}

func TestSequenceOf(t *testing.T) {
	code, err := Compose("21", 4242)
	require.NoError(t, err)

	seq, ok := SequenceOf("21", code)
	require.True(t, ok)
	require.EqualValues(t, 4242, seq)

	_, ok = SequenceOf("21", "4006381333931")
	require.False(t, ok)
	_, ok = SequenceOf("21", "2100000000011") // wrong check digit
	require.False(t, ok)
	_, ok = SequenceOf("21", "210000000001")
	require.False(t, ok)
}

func TestMaxSequence(t *testing.T) {
	var codes []string
	for _, seq := range []int64{3, 99, 7} {
		code, err := Compose("21", seq)
		require.NoError(t, err)
		codes = append(codes, code)
	}
	codes = append(codes, "4006381333931", "garbage")
	require.EqualValues(t, 99, MaxSequence("21", codes))
	require.Zero(t, MaxSequence("21", nil))
}

func TestGenerateConcurrentUniqueness(t *testing.T) {
	gen := NewGenerator(&memorySequencer{}, "21")
	ctx := context.Background()

	const n = 64
	codes := make([]string, n)
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < n; i++ {
		g.Go(func() error {
			code, err := gen.Generate(ctx)
			if err != nil {
				return err
			}
			codes[i] = code
			return nil
		})
	}
	require.NoError(t, g.Wait())

	seen := make(map[string]struct{}, n)
	for _, code := range codes {
		require.Len(t, code, 13)
		_, ok := SequenceOf("21", code)
		require.True(t, ok, "check digit must validate for %s", code)
		_, dup := seen[code]
		require.False(t, dup, "duplicate barcode %s", code)
		seen[code] = struct{}{}
	}
}

func TestGenerateWithRetry(t *testing.T) {
	seq := &memorySequencer{}
	gen := NewGenerator(seq, "21")
	ctx := context.Background()

	taken := map[string]struct{}{}
	first, err := Compose("21", 1)
	require.NoError(t, err)
	second, err := Compose("21", 2)
	require.NoError(t, err)
	taken[first] = struct{}{}
	taken[second] = struct{}{}

	assign := func(ctx context.Context, code string) error {
		if _, ok := taken[code]; ok {
			return fmt.Errorf("insert product: %w", ErrDuplicate)
		}
		taken[code] = struct{}{}
		return nil
	}

	code, err := gen.GenerateWithRetry(ctx, 3, assign)
	require.NoError(t, err)
	third, err := Compose("21", 3)
	require.NoError(t, err)
	require.Equal(t, third, code)
}

func TestGenerateWithRetryExhausted(t *testing.T) {
	gen := NewGenerator(&memorySequencer{}, "21")
	assign := func(ctx context.Context, code string) error {
		return ErrDuplicate
	}
	_, err := gen.GenerateWithRetry(context.Background(), 2, assign)
	require.ErrorIs(t, err, ErrRetriesExhausted)
}

func TestGenerateWithRetryStopsOnOtherErrors(t *testing.T) {
	gen := NewGenerator(&memorySequencer{}, "21")
	boom := errors.New("connection reset")
	assign := func(ctx context.Context, code string) error {
		return boom
	}
	_, err := gen.GenerateWithRetry(context.Background(), 3, assign)
	require.ErrorIs(t, err, boom)
}

type staticCodes []string

func (s staticCodes) ListBarcodes(ctx context.Context) ([]string, error) {
	return s, nil
}

func TestResync(t *testing.T) {
	ctx := context.Background()
	seq := &memorySequencer{seq: 2}
	var codes staticCodes
	for _, n := range []int64{1, 2, 3, 17} {
		code, err := Compose("21", n)
		require.NoError(t, err)
		codes = append(codes, code)
	}

	resync := NewResync(codes, seq, "21")

	report, err := resync.Run(ctx, true)
	require.NoError(t, err)
	require.False(t, report.Committed)
	require.EqualValues(t, 17, report.MaxSequence)
	require.EqualValues(t, 2, report.Previous)
	cur, err := seq.Current(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 2, cur, "dry run must not touch the counter")

	report, err = resync.Run(ctx, false)
	require.NoError(t, err)
	require.True(t, report.Committed)

	next, err := seq.Next(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 18, next)
}
