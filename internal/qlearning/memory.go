package qlearning

import (
	"math/rand/v2"
)

// Moment is the record of one transition: the state before the move, the move, and what followed.
type Moment[M comparable] struct {
	Before []float64
	Move   M
	After  []float64
	Reward float64

	IsTerminal bool

	// ValidMovesAfter are the legal moves in the state after the move, captured with it.
	// It should be empty if IsTerminal.
	ValidMovesAfter []M
}

// Memory is a bounded experience replay buffer, in the order the moments were captured.
//
// It is never trained on partially: once full it must be drained (DrainAndShuffle or Clear)
// before more moments can be added.
type Memory[M comparable] struct {
	moments  []Moment[M]
	capacity int
}

// NewMemory returns an empty memory that holds up to capacity moments.
func NewMemory[M comparable](capacity int) *Memory[M] {
	if capacity <= 0 {
		capacity = 1
	}
	return &Memory[M]{
		moments:  make([]Moment[M], 0, capacity),
		capacity: capacity,
	}
}

// Add a moment at the end of the memory. It fails with ErrMemoryFull if the memory is full.
func (m *Memory[M]) Add(moment Moment[M]) error {
	if m.IsFull() {
		return &Error{Op: "Memory.Add", Err: ErrMemoryFull}
	}
	m.moments = append(m.moments, moment)
	return nil
}

// IsFull returns whether the memory reached its capacity.
func (m *Memory[M]) IsFull() bool { return len(m.moments) >= m.capacity }

// Len is the number of moments stored.
func (m *Memory[M]) Len() int { return len(m.moments) }

// Capacity of the memory.
func (m *Memory[M]) Capacity() int { return m.capacity }

// Moments returns a copy of the stored moments in the order they were added.
func (m *Memory[M]) Moments() []Moment[M] {
	return append([]Moment[M](nil), m.moments...)
}

// Clear discards all moments.
func (m *Memory[M]) Clear() {
	clear(m.moments)
	m.moments = m.moments[:0]
}

// Shuffled returns a copy of the stored moments in a uniformly random order (Fisher-Yates).
// The memory is not changed.
func (m *Memory[M]) Shuffled(rng *rand.Rand) []Moment[M] {
	shuffled := m.Moments()
	rng.Shuffle(len(shuffled), func(i, j int) {
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	})
	return shuffled
}

// DrainAndShuffle returns all stored moments in a uniformly random order
// and leaves the memory empty.
func (m *Memory[M]) DrainAndShuffle(rng *rand.Rand) []Moment[M] {
	drained := m.Shuffled(rng)
	m.Clear()
	return drained
}
