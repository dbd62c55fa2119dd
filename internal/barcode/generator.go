package barcode

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Sequencer mints barcode sequence numbers.
type Sequencer interface {
	Next(ctx context.Context) (int64, error)
}

// Errors surfaced by the generator.
var (
	ErrDuplicate        = errors.New("barcode: already assigned")
	ErrRetriesExhausted = errors.New("barcode: generation retries exhausted")
	ErrSequenceOverflow = errors.New("barcode: sequence exceeds ten digits")
)

// Generator produces EAN-13 barcodes from an internal prefix and the
// counter sequence.
type Generator struct {
	seq    Sequencer
	prefix string
}

// NewGenerator constructs Generator. The prefix must be exactly two digits.
func NewGenerator(seq Sequencer, prefix string) *Generator {
	return &Generator{seq: seq, prefix: prefix}
}

// Prefix returns the configured internal prefix.
func (g *Generator) Prefix() string {
	return g.prefix
}

// Generate mints the next barcode: prefix + zero-padded sequence + check
// digit. Uniqueness is enforced by the store on insert; callers retry
// through GenerateWithRetry when the insert is rejected.
func (g *Generator) Generate(ctx context.Context) (string, error) {
	if g == nil || g.seq == nil {
		return "", errors.New("barcode: generator not initialised")
	}
	n, err := g.seq.Next(ctx)
	if err != nil {
		return "", fmt.Errorf("barcode: next sequence: %w", err)
	}
	return Compose(g.prefix, n)
}

// GenerateWithRetry calls assign with freshly minted barcodes until it
// succeeds or attempts are exhausted. assign must return ErrDuplicate (or
// wrap it) when the store rejects the barcode as already taken; a duplicate
// can only happen while the counter lags the stored barcodes, which the
// resync maintenance operation corrects.
func (g *Generator) GenerateWithRetry(ctx context.Context, attempts int, assign func(ctx context.Context, code string) error) (string, error) {
	if attempts <= 0 {
		attempts = 3
	}
	for i := 0; i < attempts; i++ {
		code, err := g.Generate(ctx)
		if err != nil {
			return "", err
		}
		err = assign(ctx, code)
		if err == nil {
			return code, nil
		}
		if !errors.Is(err, ErrDuplicate) {
			return "", err
		}
	}
	return "", ErrRetriesExhausted
}

// Compose builds the 13-character barcode for a prefix and sequence.
func Compose(prefix string, seq int64) (string, error) {
	if len(prefix) != 2 {
		return "", fmt.Errorf("barcode: prefix must be two digits, got %q", prefix)
	}
	if seq < 0 || seq > 9999999999 {
		return "", ErrSequenceOverflow
	}
	body := prefix + fmt.Sprintf("%010d", seq)
	digit, err := CheckDigit(body)
	if err != nil {
		return "", err
	}
	return body + strconv.Itoa(digit), nil
}

// CheckDigit computes the EAN-13 check digit for a 12-digit body: digits at
// even 0-based positions weigh 1, odd positions weigh 3, and the check digit
// completes the weighted sum to a multiple of ten.
func CheckDigit(body string) (int, error) {
	if len(body) != 12 {
		return 0, fmt.Errorf("barcode: body must be 12 digits, got %d", len(body))
	}
	sum := 0
	for i, r := range body {
		if r < '0' || r > '9' {
			return 0, fmt.Errorf("barcode: body contains non-digit %q", r)
		}
		d := int(r - '0')
		if i%2 == 1 {
			d *= 3
		}
		sum += d
	}
	rem := sum % 10
	if rem == 0 {
		return 0, nil
	}
	return 10 - rem, nil
}

// SequenceOf extracts the embedded sequence from a barcode issued under the
// given prefix. The second return is false for foreign or malformed codes.
func SequenceOf(prefix, code string) (int64, bool) {
	if len(code) != 13 || !strings.HasPrefix(code, prefix) {
		return 0, false
	}
	body := code[:12]
	digit, err := CheckDigit(body)
	if err != nil || strconv.Itoa(digit) != code[12:] {
		return 0, false
	}
	seq, err := strconv.ParseInt(body[len(prefix):], 10, 64)
	if err != nil {
		return 0, false
	}
	return seq, true
}

// MaxSequence returns the highest sequence embedded in any of the given
// barcodes sharing the prefix, or 0 when none match.
func MaxSequence(prefix string, codes []string) int64 {
	var max int64
	for _, code := range codes {
		if seq, ok := SequenceOf(prefix, code); ok && seq > max {
			max = seq
		}
	}
	return max
}
