package cron

import (
	"context"
	"errors"
	"testing"
)

type fakeExpirer struct {
	batches []int
	calls   int
	err     error
}

func (f *fakeExpirer) ExpireStaleCarts(_ context.Context, limit int) (int, error) {
	f.calls++
	if f.err != nil {
		return 0, f.err
	}
	if len(f.batches) == 0 {
		return 0, nil
	}
	batch := f.batches[0]
	f.batches = f.batches[1:]
	if batch > limit {
		batch = limit
	}
	return batch, nil
}

func TestCartExpiryJobDrainsFullBatches(t *testing.T) {
	expirer := &fakeExpirer{batches: []int{cartExpiryBatchSize, cartExpiryBatchSize, 37}}
	job, err := NewCartExpiryJob(CartExpiryJobParams{Logger: testLogger(), Orders: expirer})
	if err != nil {
		t.Fatalf("construct job: %v", err)
	}
	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("run job: %v", err)
	}
	if expirer.calls != 3 {
		t.Fatalf("expected 3 sweeps, got %d", expirer.calls)
	}
}

func TestCartExpiryJobStopsOnShortBatch(t *testing.T) {
	expirer := &fakeExpirer{batches: []int{12}}
	job, err := NewCartExpiryJob(CartExpiryJobParams{Logger: testLogger(), Orders: expirer})
	if err != nil {
		t.Fatalf("construct job: %v", err)
	}
	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("run job: %v", err)
	}
	if expirer.calls != 1 {
		t.Fatalf("expected single sweep, got %d", expirer.calls)
	}
}

func TestCartExpiryJobPropagatesError(t *testing.T) {
	expirer := &fakeExpirer{err: errors.New("db down")}
	job, err := NewCartExpiryJob(CartExpiryJobParams{Logger: testLogger(), Orders: expirer})
	if err != nil {
		t.Fatalf("construct job: %v", err)
	}
	if err := job.Run(context.Background()); err == nil {
		t.Fatalf("expected error from sweep")
	}
}

func TestNewCartExpiryJobValidatesParams(t *testing.T) {
	if _, err := NewCartExpiryJob(CartExpiryJobParams{Logger: testLogger()}); err == nil {
		t.Fatalf("expected error without order service")
	}
}
