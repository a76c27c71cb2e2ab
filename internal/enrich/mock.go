package enrich

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"
)

// MockOpts configures the mock provider.
type MockOpts struct {
	FailureRate float64
	MinLatency  time.Duration
	MaxLatency  time.Duration
	// Rand overrides the random source; tests pass a seeded one.
	Rand *rand.Rand
}

// Mock simulates a flaky enrichment backend: random latency, a fixed
// failure probability and a canned transcription.
type Mock struct {
	opts MockOpts

	mu  sync.Mutex
	rng *rand.Rand
}

// NewMock creates a Mock.
func NewMock(opts MockOpts) *Mock {
	rng := opts.Rand
	if rng == nil {
		rng = rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0))
	}
	if opts.MaxLatency < opts.MinLatency {
		opts.MaxLatency = opts.MinLatency
	}
	return &Mock{opts: opts, rng: rng}
}

var mockSentiments = []string{SentimentPositive, SentimentNegative, SentimentNeutral}

// Enrich implements Client.
func (m *Mock) Enrich(ctx context.Context, text string) (Result, error) {
	m.mu.Lock()
	fail := m.rng.Float64() < m.opts.FailureRate
	latency := m.opts.MinLatency
	if spread := m.opts.MaxLatency - m.opts.MinLatency; spread > 0 {
		latency += time.Duration(m.rng.Int64N(int64(spread) + 1))
	}
	sentiment := mockSentiments[m.rng.IntN(len(mockSentiments))]
	confidence := 0.7 + m.rng.Float64()*0.25
	m.mu.Unlock()

	if fail {
		return Result{}, fmt.Errorf("enrich: mock: %w", ErrUnavailable)
	}

	if latency > 0 {
		t := time.NewTimer(latency)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return Result{}, fmt.Errorf("enrich: mock: %w", ctx.Err())
		case <-t.C:
		}
	}

	return Result{
		Transcription: fmt.Sprintf("Mock transcription of %d characters of audio data", len(text)),
		Sentiment:     sentiment,
		Confidence:    confidence,
	}, nil
}
