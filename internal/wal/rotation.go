package wal

import "time"

// ActiveChunkState is a snapshot of the Writer's ongoing chunk at the point
// an entry is about to be appended to it. RotationPolicy implementations
// read this instead of touching the Writer or Container directly.
type ActiveChunkState struct {
	// Records is the number of entries already committed to this chunk.
	Records uint64

	// CreatedAt is when this chunk became the ongoing chunk.
	CreatedAt time.Time
}

// RotationPolicy decides whether the ongoing chunk should be sealed and a
// new one started before the next entry is written, in addition to the
// WAL's own intrinsic chunk_size boundary (which always applies and cannot
// be overridden: an entry is never split across chunks). A policy lets an
// operator seal chunks earlier than the size boundary, by record count or
// age, for operational reasons (e.g. bounding how much an unflushed chunk
// can lose on an unclean shutdown).
type RotationPolicy interface {
	ShouldRotate(state ActiveChunkState, next Entry) bool
}

// RotationPolicyFunc adapts a function to a RotationPolicy.
type RotationPolicyFunc func(state ActiveChunkState, next Entry) bool

func (f RotationPolicyFunc) ShouldRotate(state ActiveChunkState, next Entry) bool {
	return f(state, next)
}

// CompositeRotationPolicy rotates if any of its policies would.
type CompositeRotationPolicy struct {
	policies []RotationPolicy
}

// NewCompositeRotationPolicy combines policies with OR semantics.
func NewCompositeRotationPolicy(policies ...RotationPolicy) *CompositeRotationPolicy {
	return &CompositeRotationPolicy{policies: policies}
}

func (c *CompositeRotationPolicy) ShouldRotate(state ActiveChunkState, next Entry) bool {
	for _, p := range c.policies {
		if p.ShouldRotate(state, next) {
			return true
		}
	}
	return false
}

// RecordCountPolicy rotates once a chunk has committed maxRecords entries.
type RecordCountPolicy struct {
	maxRecords uint64
}

// NewRecordCountPolicy creates a policy rotating once maxRecords is reached.
// maxRecords==0 disables the policy.
func NewRecordCountPolicy(maxRecords uint64) RecordCountPolicy {
	return RecordCountPolicy{maxRecords: maxRecords}
}

func (p RecordCountPolicy) ShouldRotate(state ActiveChunkState, _ Entry) bool {
	if p.maxRecords == 0 {
		return false
	}
	return state.Records+1 > p.maxRecords
}

// AgePolicy rotates once the ongoing chunk has existed longer than maxAge.
type AgePolicy struct {
	maxAge time.Duration
	now    func() time.Time
}

// NewAgePolicy creates a policy rotating once a chunk is older than maxAge.
// maxAge==0 disables the policy. A nil now defaults to time.Now.
func NewAgePolicy(maxAge time.Duration, now func() time.Time) AgePolicy {
	if now == nil {
		now = time.Now
	}
	return AgePolicy{maxAge: maxAge, now: now}
}

func (p AgePolicy) ShouldRotate(state ActiveChunkState, _ Entry) bool {
	if p.maxAge == 0 || state.CreatedAt.IsZero() {
		return false
	}
	return p.now().Sub(state.CreatedAt) > p.maxAge
}
