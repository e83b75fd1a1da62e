// Package barcode allocates collision-free 13-character codes for stock units.
//
// Discrete units get purely numeric codes. Batch rows of weight-sold
// products get uppercase alphanumeric codes starting with a letter, so the
// two families never overlap.
package barcode

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
)

const (
	Length             = 13
	DefaultMaxAttempts = 32

	digits       = "0123456789"
	alphanumeric = "ABCDEFGHJKLMNPQRSTUVWXYZ0123456789"
	bulkPrefix   = "B"
)

var ErrAllocation = errors.New("barcode allocation exhausted")

// Lookup reports whether a code is already held by any stock unit,
// active or inactive.
type Lookup interface {
	BarcodeExists(ctx context.Context, code string) (bool, error)
}

// Source yields a uniform integer in [0, n).
type Source interface {
	IntN(n int) int
}

type globalSource struct{}

func (globalSource) IntN(n int) int {
	return rand.IntN(n)
}

type Generator struct {
	source      Source
	maxAttempts int
}

type Option func(*Generator)

func WithSource(source Source) Option {
	return func(g *Generator) {
		if source != nil {
			g.source = source
		}
	}
}

func WithMaxAttempts(n int) Option {
	return func(g *Generator) {
		if n > 0 {
			g.maxAttempts = n
		}
	}
}

func NewGenerator(opts ...Option) *Generator {
	g := &Generator{source: globalSource{}, maxAttempts: DefaultMaxAttempts}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Discrete returns a fresh 13-digit numeric code.
func (g *Generator) Discrete(ctx context.Context, lookup Lookup) (string, error) {
	return g.allocate(ctx, lookup, func() string {
		return g.draw("", digits)
	})
}

// Bulk returns a fresh 13-character alphanumeric code for a batch row.
func (g *Generator) Bulk(ctx context.Context, lookup Lookup) (string, error) {
	return g.allocate(ctx, lookup, func() string {
		return g.draw(bulkPrefix, alphanumeric)
	})
}

func (g *Generator) allocate(ctx context.Context, lookup Lookup, next func() string) (string, error) {
	for attempt := 0; attempt < g.maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		code := next()
		exists, err := lookup.BarcodeExists(ctx, code)
		if err != nil {
			return "", fmt.Errorf("check barcode %s: %w", code, err)
		}
		if !exists {
			return code, nil
		}
	}
	return "", fmt.Errorf("%w after %d attempts", ErrAllocation, g.maxAttempts)
}

func (g *Generator) draw(prefix string, alphabet string) string {
	var b strings.Builder
	b.Grow(Length)
	b.WriteString(prefix)
	for b.Len() < Length {
		b.WriteByte(alphabet[g.source.IntN(len(alphabet))])
	}
	return b.String()
}

// Valid reports whether code has the shape accepted for manually entered
// barcodes: exactly 13 ASCII letters or digits.
func Valid(code string) bool {
	if len(code) != Length {
		return false
	}
	for i := 0; i < len(code); i++ {
		c := code[i]
		if (c < '0' || c > '9') && (c < 'A' || c > 'Z') {
			return false
		}
	}
	return true
}

// IsBulk reports whether code belongs to the batch family.
func IsBulk(code string) bool {
	return len(code) == Length && strings.HasPrefix(code, bulkPrefix)
}
