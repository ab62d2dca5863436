package sequence

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"

	"github.com/amintahir16/lpg-gas-app-sub004/internal/domain"
	"github.com/amintahir16/lpg-gas-app-sub004/internal/store"
)

const dayLayout = "20060102"

// CounterStore performs the atomic create-or-increment for one key.
type CounterStore interface {
	NextSequence(ctx context.Context, key domain.SequenceKey) (int64, error)
}

// CounterReader is implemented by counter stores that can report the last
// issued value without incrementing.
type CounterReader interface {
	CurrentSequence(ctx context.Context, key domain.SequenceKey) (int64, error)
}

type BreakerConfig struct {
	ConsecutiveFailures uint32
	OpenTimeout         time.Duration
}

// Allocator hands out document numbers. It never invents a number: when the
// counter store fails the caller gets ErrAllocationUnavailable.
type Allocator struct {
	counter   CounterStore
	breaker   *gobreaker.CircuitBreaker
	breakerCf BreakerConfig
	loc       *time.Location
	now       func() time.Time
	logger    zerolog.Logger
	onFailure func()
}

type Option func(*Allocator)

func WithLocation(loc *time.Location) Option {
	return func(a *Allocator) {
		if loc != nil {
			a.loc = loc
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(a *Allocator) {
		if now != nil {
			a.now = now
		}
	}
}

func WithBreaker(cfg BreakerConfig) Option {
	return func(a *Allocator) { a.breakerCf = cfg }
}

func WithLogger(logger zerolog.Logger) Option {
	return func(a *Allocator) { a.logger = logger }
}

// WithFailureHook registers fn to run on every failed allocation.
func WithFailureHook(fn func()) Option {
	return func(a *Allocator) { a.onFailure = fn }
}

func NewAllocator(counter CounterStore, opts ...Option) *Allocator {
	a := &Allocator{
		counter:   counter,
		breakerCf: BreakerConfig{ConsecutiveFailures: 5, OpenTimeout: 10 * time.Second},
		loc:       time.UTC,
		now:       time.Now,
		logger:    zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.breakerCf.ConsecutiveFailures == 0 {
		a.breakerCf.ConsecutiveFailures = 5
	}

	failures := a.breakerCf.ConsecutiveFailures
	a.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "sequence-counter",
		MaxRequests: 1,
		Timeout:     a.breakerCf.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			a.logger.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("counter breaker state changed")
		},
	})
	return a
}

// Allocate returns the next value for key, starting at 1.
func (a *Allocator) Allocate(ctx context.Context, key domain.SequenceKey) (int64, error) {
	if strings.TrimSpace(key.Kind) == "" || len(key.Day) != len(dayLayout) {
		return 0, fmt.Errorf("%w: malformed sequence key %q/%q", store.ErrInvalidTransaction, key.Kind, key.Day)
	}

	result, err := a.breaker.Execute(func() (interface{}, error) {
		return a.counter.NextSequence(ctx, key)
	})
	if err != nil {
		a.fail()
		a.logger.Error().Err(err).Str("kind", key.Kind).Str("day", key.Day).Msg("sequence allocation failed")
		return 0, fmt.Errorf("%w: %w", store.ErrAllocationUnavailable, err)
	}
	seq, ok := result.(int64)
	if !ok || seq < 1 {
		a.fail()
		return 0, fmt.Errorf("%w: counter returned %v", store.ErrAllocationUnavailable, result)
	}
	return seq, nil
}

// Next allocates a number for kind on the current business day and formats it.
func (a *Allocator) Next(ctx context.Context, kind string) (string, error) {
	prefix := PrefixFor(kind)
	day := a.Day(a.now())
	seq, err := a.Allocate(ctx, domain.SequenceKey{Kind: prefix, Day: day})
	if err != nil {
		return "", err
	}
	return Format(prefix, day, seq), nil
}

// Current reports the last number issued for kind on day (YYYYMMDD, empty
// for today) without consuming one.
func (a *Allocator) Current(ctx context.Context, kind string, day string) (string, int64, error) {
	reader, ok := a.counter.(CounterReader)
	if !ok {
		return "", 0, fmt.Errorf("%w: counter store cannot be inspected", store.ErrAllocationUnavailable)
	}
	if day == "" {
		day = a.Day(a.now())
	}
	if _, err := time.Parse(dayLayout, day); err != nil {
		return "", 0, fmt.Errorf("%w: malformed day %q", store.ErrInvalidTransaction, day)
	}
	prefix := PrefixFor(kind)
	seq, err := reader.CurrentSequence(ctx, domain.SequenceKey{Kind: prefix, Day: day})
	if err != nil {
		return "", 0, fmt.Errorf("%w: %w", store.ErrAllocationUnavailable, err)
	}
	return prefix, seq, nil
}

// Day renders t as the YYYYMMDD business day in the allocator's location.
func (a *Allocator) Day(t time.Time) string {
	return t.In(a.loc).Format(dayLayout)
}

func (a *Allocator) fail() {
	if a.onFailure != nil {
		a.onFailure()
	}
}

func Format(prefix string, day string, seq int64) string {
	return fmt.Sprintf("%s-%s-%06d", prefix, day, seq)
}

// Parse splits a document number into prefix, day and sequence.
func Parse(doc string) (string, string, int64, error) {
	parts := strings.Split(strings.TrimSpace(doc), "-")
	if len(parts) != 3 || parts[0] == "" || len(parts[2]) < 6 {
		return "", "", 0, fmt.Errorf("%w: malformed document number %q", store.ErrInvalidTransaction, doc)
	}
	if _, err := time.Parse(dayLayout, parts[1]); err != nil {
		return "", "", 0, fmt.Errorf("%w: malformed document day %q", store.ErrInvalidTransaction, parts[1])
	}
	seq, err := strconv.ParseInt(parts[2], 10, 64)
	if err != nil || seq < 1 {
		return "", "", 0, fmt.Errorf("%w: malformed document sequence %q", store.ErrInvalidTransaction, parts[2])
	}
	return parts[0], parts[1], seq, nil
}

const fallbackPrefix = "VEN"

var prefixes = map[string]string{
	domain.CategoryCylinderPurchase:    "CYL",
	domain.CategoryGasPurchase:         "GAS",
	domain.CategoryVaporizerPurchase:   "VAP",
	domain.CategoryAccessoriesPurchase: "ACC",
	domain.CategoryValvesPurchase:      "VAL",
	domain.CategoryBill:                "BILL",
}

// PrefixFor maps a document kind to its prefix. Unknown vendor categories
// share the VEN prefix.
func PrefixFor(kind string) string {
	if prefix, ok := prefixes[strings.ToLower(strings.TrimSpace(kind))]; ok {
		return prefix
	}
	return fallbackPrefix
}

// KnownCategory reports whether kind has a dedicated prefix.
func KnownCategory(kind string) bool {
	_, ok := prefixes[strings.ToLower(strings.TrimSpace(kind))]
	return ok
}
