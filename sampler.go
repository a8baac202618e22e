package demsample

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"sync"

	"go.uber.org/zap"
)

// An ErrorPolicy selects what happens when a point cannot be sampled because
// it lies outside the raster.
type ErrorPolicy int

const (
	// PolicySkip records and logs the point and continues with the next one.
	PolicySkip ErrorPolicy = iota
	// PolicyAbort stops at the first point that cannot be sampled.
	PolicyAbort
)

// DefaultErrorPolicy is the policy of a Sampler created without
// WithErrorPolicy: a few points at the edge of a dataset do not fail the whole
// dataset.
const DefaultErrorPolicy = PolicySkip

func (p ErrorPolicy) String() string {
	switch p {
	case PolicySkip:
		return "skip"
	case PolicyAbort:
		return "abort"
	default:
		return fmt.Sprintf("ErrorPolicy(%d)", int(p))
	}
}

func (p ErrorPolicy) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

func (p *ErrorPolicy) UnmarshalText(text []byte) error {
	switch string(text) {
	case "skip":
		*p = PolicySkip
	case "abort":
		*p = PolicyAbort
	default:
		return fmt.Errorf("%q: unknown error policy", text)
	}
	return nil
}

// A Sampler samples a Grid at input points and builds output records. A
// Sampler may run several sequences concurrently. Each sequence keeps its own
// skipped points.
type Sampler struct {
	grid           *Grid
	policy         ErrorPolicy
	schema         Schema
	logger         *zap.Logger
	identifyFields []string

	skippedMutex sync.Mutex
	skipped      []SkippedPoint
}

// A SamplerOption sets an option on a Sampler.
type SamplerOption func(*Sampler)

// WithErrorPolicy sets the policy for points outside the raster.
func WithErrorPolicy(policy ErrorPolicy) SamplerOption {
	return func(s *Sampler) {
		s.policy = policy
	}
}

// WithSchema sets the mapping from input attributes to output attributes.
func WithSchema(schema Schema) SamplerOption {
	return func(s *Sampler) {
		s.schema = schema
	}
}

func WithLogger(logger *zap.Logger) SamplerOption {
	return func(s *Sampler) {
		s.logger = logger
	}
}

// WithIdentifyingAttributes sets the attributes logged for skipped points. By
// default the first attribute is logged.
func WithIdentifyingAttributes(names ...string) SamplerOption {
	return func(s *Sampler) {
		s.identifyFields = names
	}
}

// NewSampler returns a new Sampler reading from grid.
func NewSampler(grid *Grid, options ...SamplerOption) *Sampler {
	s := &Sampler{
		grid:   grid,
		policy: DefaultErrorPolicy,
		logger: zap.NewNop(),
	}
	for _, option := range options {
		option(s)
	}
	return s
}

// Sample samples p and returns its output record.
func (s *Sampler) Sample(ctx context.Context, p InputPoint) (SampledPoint, error) {
	height, err := s.grid.SampleAt(ctx, p.X, p.Y)
	if err != nil {
		return SampledPoint{}, err
	}
	return s.schema.Apply(p, height)
}

// SampleAll returns the sampled points of points, in order. The sequence is
// lazy and single pass. Input errors and, under PolicyAbort, sampling errors
// are yielded once and end the sequence. Under PolicySkip, points outside the
// raster are left out and reported by Skipped.
func (s *Sampler) SampleAll(ctx context.Context, points iter.Seq2[InputPoint, error]) iter.Seq2[SampledPoint, error] {
	return func(yield func(SampledPoint, error) bool) {
		var skipped []SkippedPoint
		defer func() {
			s.skippedMutex.Lock()
			s.skipped = skipped
			s.skippedMutex.Unlock()
		}()
		for p, err := range points {
			if err != nil {
				yield(SampledPoint{}, err)
				return
			}
			if err := ctx.Err(); err != nil {
				yield(SampledPoint{}, err)
				return
			}
			sampledPoint, err := s.Sample(ctx, p)
			switch {
			case errors.Is(err, ErrOutOfBounds) && s.policy == PolicySkip:
				skipped = append(skipped, s.skip(p, err))
				continue
			case err != nil:
				yield(SampledPoint{}, fmt.Errorf("point %d: %w", p.Index, err))
				return
			}
			pointsSampled.Inc()
			if !yield(sampledPoint, nil) {
				return
			}
		}
	}
}

// Skipped returns the points skipped by the most recently finished sequence
// returned by SampleAll.
func (s *Sampler) Skipped() []SkippedPoint {
	s.skippedMutex.Lock()
	defer s.skippedMutex.Unlock()
	return s.skipped
}

// skip logs and counts p as skipped.
func (s *Sampler) skip(p InputPoint, err error) SkippedPoint {
	pointsSkipped.Inc()
	s.logger.Warn("skipping point",
		zap.Int("index", p.Index),
		zap.Float64("x", p.X),
		zap.Float64("y", p.Y),
		zap.Any("attributes", s.identify(p)),
		zap.Error(err),
	)
	return SkippedPoint{
		Index: p.Index,
		X:     p.X,
		Y:     p.Y,
		Err:   err,
	}
}

// identify returns the identifying attributes of p.
func (s *Sampler) identify(p InputPoint) map[string]any {
	identity := make(map[string]any)
	if len(s.identifyFields) == 0 {
		if len(p.Attributes) > 0 {
			identity[p.Attributes[0].Name] = p.Attributes[0].Value
		}
		return identity
	}
	for _, name := range s.identifyFields {
		if value, ok := p.Attributes.Get(name); ok {
			identity[name] = value
		}
	}
	return identity
}
