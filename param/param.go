// Package param implements the seeded per-batch parameter service.
//
// Every randomized control value of a pipeline is registered once with a
// Service. Renew draws all registered parameters for one batch in
// registration order from a single PCG stream, so the values depend only on
// the seed and the number of batches drawn before, never on which worker
// consumes them.
package param

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand/v2"
	"sync"

	"github.com/google/uuid"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// Kind is the value type of a parameter.
type Kind int

const (
	KindFloat Kind = iota
	KindInt
)

func (k Kind) String() string {
	if k == KindInt {
		return "int"
	}
	return "float"
}

// ParseKind parses the names produced by Kind.String.
func ParseKind(s string) (Kind, error) {
	switch s {
	case "int":
		return KindInt, nil
	case "float":
		return KindFloat, nil
	}
	return 0, fmt.Errorf("param: unknown kind %q", s)
}

// RandomSeed asks the service to pick a seed.
const RandomSeed int64 = -1

// pcgStream is the fixed second PCG word; the seed selects the state.
const pcgStream = 0x9e3779b97f4a7c15

var (
	ErrForeignParam = errors.New("param: handle belongs to another service")
	ErrUnknownParam = errors.New("param: unknown handle")
)

// Handle identifies a parameter within its Service.
type Handle struct {
	service uuid.UUID
	index   int
}

// Index is the registration position of the parameter.
func (h Handle) Index() int { return h.index }

type entry struct {
	kind    Kind
	spec    Spec
	current float64
}

// Service owns the random stream and all registered parameters of one
// pipeline.
type Service struct {
	id uuid.UUID

	mu      sync.Mutex
	seed    int64
	gen     int
	pcg     *rand.PCG
	rng     *rand.Rand
	entries *orderedmap.OrderedMap[int, *entry]
	batches int
}

// NewService creates a service seeded with seed. RandomSeed picks one.
func NewService(seed int64) *Service {
	s := &Service{
		id:      uuid.New(),
		entries: orderedmap.New[int, *entry](),
	}
	s.SetSeed(seed)
	return s
}

// ID identifies the service.
func (s *Service) ID() uuid.UUID { return s.id }

// SetSeed restarts the stream. Current values are kept until the next Renew.
func (s *Service) SetSeed(seed int64) {
	if seed == RandomSeed {
		seed = rand.Int64()
		slog.Debug("param: random seed", "seed", seed)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.seed = seed
	s.gen++
	s.pcg = rand.NewPCG(uint64(seed), pcgStream)
	s.rng = rand.New(s.pcg)
	s.batches = 0
}

// Seed returns the effective seed.
func (s *Service) Seed() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.seed
}

// Create registers a parameter. Its current value is the first draw.
func (s *Service) Create(kind Kind, spec Spec) (Handle, error) {
	if err := spec.Validate(); err != nil {
		return Handle{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	h := Handle{service: s.id, index: s.entries.Len()}
	e := &entry{kind: kind, spec: spec}
	e.current = e.value(s.rng)
	s.entries.Set(h.index, e)
	return h, nil
}

// Update replaces the distribution of h. The new spec applies from the next
// Renew on.
func (s *Service) Update(h Handle, spec Spec) error {
	if err := spec.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	e, err := s.lookup(h)
	if err != nil {
		return err
	}
	e.spec = spec
	return nil
}

// Spec returns the distribution and kind of h.
func (s *Service) Spec(h Handle) (Kind, Spec, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, err := s.lookup(h)
	if err != nil {
		return 0, Spec{}, err
	}
	return e.kind, e.spec, nil
}

// FloatValue returns the current value of h.
func (s *Service) FloatValue(h Handle) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, err := s.lookup(h)
	if err != nil {
		return 0, err
	}
	return e.current, nil
}

// IntValue returns the current value of h as an integer.
func (s *Service) IntValue(h Handle) (int, error) {
	v, err := s.FloatValue(h)
	return int(math.Round(v)), err
}

// Handles returns all handles in registration order.
func (s *Service) Handles() []Handle {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Handle, 0, s.entries.Len())
	for pair := s.entries.Oldest(); pair != nil; pair = pair.Next() {
		out = append(out, Handle{service: s.id, index: pair.Key})
	}
	return out
}

// Len is the number of registered parameters.
func (s *Service) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.entries.Len()
}

// Renew draws every parameter batchSize times, parameter by parameter in
// registration order, and returns the snapshot for the batch.
func (s *Service) Renew(batchSize int) *Draw {
	s.mu.Lock()
	defer s.mu.Unlock()

	d := &Draw{
		service: s.id,
		batch:   s.batches,
		size:    batchSize,
		values:  make([][]float64, 0, s.entries.Len()),
	}

	for pair := s.entries.Oldest(); pair != nil; pair = pair.Next() {
		e := pair.Value
		vals := make([]float64, batchSize)
		for i := range vals {
			vals[i] = e.value(s.rng)
		}
		if batchSize > 0 {
			e.current = vals[0]
		}
		d.values = append(d.values, vals)
	}

	s.batches++
	d.next = s.checkpoint()
	return d
}

// Checkpoint is a position in the random stream between two batches.
type Checkpoint struct {
	gen     int
	batches int
	state   []byte
}

// Checkpoint returns the current position of the stream.
func (s *Service) Checkpoint() Checkpoint {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.checkpoint()
}

func (s *Service) checkpoint() Checkpoint {
	state, err := s.pcg.MarshalBinary()
	if err != nil {
		panic(fmt.Sprintf("param: marshal pcg: %v", err))
	}
	return Checkpoint{gen: s.gen, batches: s.batches, state: state}
}

// Rewind moves the stream back to cp, so the next Renew repeats the draws
// made after cp was taken. A checkpoint from before the last SetSeed is
// ignored.
func (s *Service) Rewind(cp Checkpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if cp.state == nil || cp.gen != s.gen {
		return nil
	}
	if err := s.pcg.UnmarshalBinary(cp.state); err != nil {
		return fmt.Errorf("param: rewind: %w", err)
	}
	s.batches = cp.batches
	return nil
}

func (s *Service) lookup(h Handle) (*entry, error) {
	if h.service != s.id {
		return nil, ErrForeignParam
	}
	e, ok := s.entries.Get(h.index)
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownParam, h.index)
	}
	return e, nil
}

func (e *entry) value(r *rand.Rand) float64 {
	v := e.spec.draw(r)
	if e.kind == KindInt {
		v = math.Round(v)
	}
	return v
}

// Draw is the immutable set of parameter values of one batch. It is safe
// for concurrent reads.
type Draw struct {
	service uuid.UUID
	batch   int
	size    int
	values  [][]float64
	next    Checkpoint
}

// Batch is the number of Renew calls before this one since the last seed.
func (d *Draw) Batch() int { return d.batch }

// Next is the position of the stream right after this draw.
func (d *Draw) Next() Checkpoint { return d.next }

// Size is the number of samples drawn per parameter.
func (d *Draw) Size() int { return d.size }

// Float returns the value of h for sample i.
func (d *Draw) Float(h Handle, i int) (float64, error) {
	if h.service != d.service {
		return 0, ErrForeignParam
	}
	if h.index >= len(d.values) {
		return 0, fmt.Errorf("%w: %d", ErrUnknownParam, h.index)
	}
	if i < 0 || i >= d.size {
		return 0, fmt.Errorf("param: sample %d out of range [0, %d)", i, d.size)
	}
	return d.values[h.index][i], nil
}

// Int returns the value of h for sample i as an integer.
func (d *Draw) Int(h Handle, i int) (int, error) {
	v, err := d.Float(h, i)
	return int(math.Round(v)), err
}

// Values returns a copy of all values, one slice per parameter in
// registration order.
func (d *Draw) Values() [][]float64 {
	out := make([][]float64, len(d.values))
	for i, v := range d.values {
		out[i] = append([]float64(nil), v...)
	}
	return out
}
