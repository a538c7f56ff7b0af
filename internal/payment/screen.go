package payment

import (
	"bufio"
	"context"
	"io"
	"os"
	"strings"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/go-faster/errors"
	pgzip "github.com/klauspost/pgzip"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/kart-checkout/internal/domain/checkout"
)

var _ checkout.PaymentGateway = (*Screen)(nil)

// DeniedReason is the decline reason reported for screened tokens.
const DeniedReason = "payment instrument denied"

const denylistFPR = 0.0001

// Screen declines tokens found in a denylist without forwarding them to the
// wrapped gateway. The denylist is a bloom filter, so a small fraction of
// legitimate tokens may be declined as false positives.
type Screen struct {
	next   checkout.PaymentGateway
	denied *bloom.BloomFilter
}

// NewScreen wraps next with the given denylist filter.
func NewScreen(next checkout.PaymentGateway, denied *bloom.BloomFilter) *Screen {
	return &Screen{next: next, denied: denied}
}

// Charge implements checkout.PaymentGateway.
func (s *Screen) Charge(ctx context.Context, amount decimal.Decimal, token string) (checkout.ChargeResult, error) {
	if s.denied.TestString(token) {
		return checkout.ChargeResult{DeclineReason: DeniedReason}, nil
	}
	return s.next.Charge(ctx, amount, token)
}

// LoadDenylist reads gzip-compressed files with one token per line,
// concurrently, and returns a single bloom filter sized for all tokens.
func LoadDenylist(ctx context.Context, paths ...string) (*bloom.BloomFilter, error) {
	perFile := make([][]string, len(paths))

	g, ctx := errgroup.WithContext(ctx)
	for i, path := range paths {
		g.Go(func() error {
			tokens, err := readTokensFile(ctx, path)
			if err != nil {
				return err
			}
			perFile[i] = tokens
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var total int
	for _, tokens := range perFile {
		total += len(tokens)
	}
	filter := newDenylistFilter(total)
	for _, tokens := range perFile {
		for _, t := range tokens {
			filter.AddString(t)
		}
	}
	return filter, nil
}

// ReadDenylist builds a denylist filter from gzip-compressed token lines.
// Blank lines and lines starting with '#' are ignored.
func ReadDenylist(ctx context.Context, r io.Reader) (*bloom.BloomFilter, error) {
	tokens, err := readTokens(ctx, r)
	if err != nil {
		return nil, err
	}
	filter := newDenylistFilter(len(tokens))
	for _, t := range tokens {
		filter.AddString(t)
	}
	return filter, nil
}

func newDenylistFilter(n int) *bloom.BloomFilter {
	return bloom.NewWithEstimates(uint(max(n, 1)), denylistFPR)
}

func readTokensFile(ctx context.Context, path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", path)
	}
	defer func() { _ = f.Close() }()

	tokens, err := readTokens(ctx, f)
	if err != nil {
		return nil, errors.Wrapf(err, "read %s", path)
	}
	return tokens, nil
}

func readTokens(ctx context.Context, r io.Reader) ([]string, error) {
	gz, err := pgzip.NewReader(r)
	if err != nil {
		return nil, errors.Wrap(err, "create gzip reader")
	}
	defer func() { _ = gz.Close() }()

	var tokens []string
	scanner := bufio.NewScanner(gz)
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		tokens = append(tokens, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrap(err, "scan denylist")
	}
	return tokens, nil
}
