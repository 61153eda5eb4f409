package core

// backpressure.go couples the row producer to the batch writer.
//
// The producer appends accepted records to a single pending buffer. When the
// buffer reaches the batch size the producer hands it over on an unbuffered
// channel and then blocks until the consumer acknowledges the write. Only one
// buffer exists, so at most batchSize records are held regardless of file size.

import (
	"context"
	"sync/atomic"
)

// Backpressure hands full batches from one producer to one consumer and
// suspends the producer while a batch write is in flight.
type Backpressure struct {
	batchSize int
	pending   []Record
	batches   chan []Record
	acks      chan struct{}
	closed    bool

	highWater atomic.Int64
	handoffs  atomic.Int64
}

// NewBackpressure creates a controller for batches of batchSize records.
func NewBackpressure(batchSize int) *Backpressure {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &Backpressure{
		batchSize: batchSize,
		pending:   make([]Record, 0, batchSize),
		batches:   make(chan []Record),
		acks:      make(chan struct{}, 1),
	}
}

// Push appends one record. When the buffer fills, Push blocks until the
// consumer has finished writing it. Push must only be called by the producer.
func (b *Backpressure) Push(ctx context.Context, rec Record) error {
	b.pending = append(b.pending, rec)
	if n := int64(len(b.pending)); n > b.highWater.Load() {
		b.highWater.Store(n)
	}
	if len(b.pending) < b.batchSize {
		return nil
	}
	return b.handoff(ctx)
}

// Close flushes any partial batch and signals the consumer that no more
// batches will arrive. It returns the number of buffered records that never
// reached the consumer because ctx was done. It is safe to call more than once.
func (b *Backpressure) Close(ctx context.Context) (int, error) {
	if b.closed {
		return 0, nil
	}
	b.closed = true
	defer close(b.batches)

	if ctx.Err() != nil {
		dropped := len(b.pending)
		b.pending = nil
		return dropped, ctx.Err()
	}
	if len(b.pending) == 0 {
		return 0, nil
	}
	if err := b.handoff(ctx); err != nil {
		dropped := len(b.pending)
		b.pending = nil
		return dropped, err
	}
	return 0, nil
}

// Batches returns the channel the consumer ranges over. After processing a
// batch the consumer must call Ack.
func (b *Backpressure) Batches() <-chan []Record {
	return b.batches
}

// Ack tells the producer the last batch has been written and its buffer may
// be reused. It never blocks.
func (b *Backpressure) Ack() {
	b.acks <- struct{}{}
}

// Len is the number of records currently buffered.
func (b *Backpressure) Len() int {
	return len(b.pending)
}

// HighWater is the largest number of records buffered at once.
func (b *Backpressure) HighWater() int {
	return int(b.highWater.Load())
}

// Handoffs is the number of batches handed to the consumer.
func (b *Backpressure) Handoffs() int {
	return int(b.handoffs.Load())
}

// handoff sends the pending buffer and waits for its ack. If ctx ends before
// the send, pending is kept. If it ends while the consumer owns the buffer,
// a fresh buffer replaces it.
func (b *Backpressure) handoff(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	select {
	case b.batches <- b.pending:
	case <-ctx.Done():
		return ctx.Err()
	}
	b.handoffs.Add(1)

	select {
	case <-b.acks:
		b.pending = b.pending[:0]
		return nil
	case <-ctx.Done():
		b.pending = make([]Record, 0, b.batchSize)
		return ctx.Err()
	}
}
