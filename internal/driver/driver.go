// Package driver orchestrates concurrent processing of a batch of
// voiceover transactions: submit, persist, rate-limit, poll once,
// persist.
//
// A run makes exactly one poll attempt per item. Jobs still converting
// when the run ends stay in_progress in the snapshot and complete on a
// later run against the same store; that re-run is idempotent because
// in-progress and terminal records are skipped on resubmission.
package driver

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/book-expert/logger"
	"github.com/book-expert/voiceover/internal/core"
	"github.com/book-expert/voiceover/internal/playht"
)

// Defaults matching the historical batch tool.
const (
	DefaultWorkers       = 10
	DefaultRatePerMinute = 50

	secondsPerMinute = 60
)

// Log formats.
const (
	logFmtBatchStart    = "Processing %d transactions (%d workers, %d req/min)"
	logFmtItemFailed    = "Item %s failed: %v"
	logFmtItemFinished  = "Item %s finished with status %q"
	logFmtBatchAborted  = "Batch aborted: %v"
	errFmtItemPipeline  = "item %s: %w"
	errFmtPersistSubmit = "failed to persist submission: %w"
	errFmtPersistPoll   = "failed to persist poll result: %w"
)

// VendorClient is the vendor capability the driver depends on. Satisfied
// by *playht.Client.
type VendorClient interface {
	Submit(ctx context.Context, tx core.Transaction) core.Transaction
	Poll(ctx context.Context, tx core.Transaction) (core.Transaction, error)
}

// Options tunes the worker pool and the per-worker rate limit.
type Options struct {
	// Workers is the worker pool capacity. Defaults to DefaultWorkers.
	Workers int

	// RatePerMinute is the request rate each worker honors by sleeping
	// 60/RatePerMinute seconds between the submit and poll of one item.
	// Note this approximates a global limit only with one worker; with N
	// workers the effective rate is about N times the configured one.
	// Defaults to DefaultRatePerMinute.
	RatePerMinute int
}

// Driver runs the per-item pipeline for a batch of transactions.
type Driver struct {
	client  VendorClient
	store   core.StatusStore
	options Options
	log     *logger.Logger
}

// New creates a driver. Zero option values fall back to the defaults.
func New(client VendorClient, store core.StatusStore, options Options, log *logger.Logger) *Driver {
	if options.Workers <= 0 {
		options.Workers = DefaultWorkers
	}

	if options.RatePerMinute <= 0 {
		options.RatePerMinute = DefaultRatePerMinute
	}

	return &Driver{
		client:  client,
		store:   store,
		options: options,
		log:     log,
	}
}

// Run processes the batch with a bounded worker pool. Each item runs its
// pipeline end to end on a single worker; no ordering across items is
// promised.
//
// Per-item vendor and persist failures are logged, leave their mark on
// that item's snapshot row, and do not stop the batch; the first such
// error is returned after the batch drains. An invariant violation from
// Poll cancels the whole run and is returned immediately to the caller.
func (d *Driver) Run(ctx context.Context, transactions []core.Transaction) error {
	d.log.Info(logFmtBatchStart,
		len(transactions), d.options.Workers, d.options.RatePerMinute)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		waitGroup sync.WaitGroup
		mutex     sync.Mutex
		itemErr   error
		fatalErr  error
	)

	workerPool := make(chan struct{}, d.options.Workers)

	for _, transaction := range transactions {
		waitGroup.Add(1)

		go func(transaction core.Transaction) {
			defer waitGroup.Done()

			workerPool <- struct{}{}

			defer func() { <-workerPool }()

			if runCtx.Err() != nil {
				return
			}

			err := d.processItem(runCtx, transaction)
			if err == nil {
				return
			}

			mutex.Lock()

			if errors.Is(err, playht.ErrNoTranscriptionID) {
				if fatalErr == nil {
					fatalErr = err
				}

				cancel()
			} else if itemErr == nil {
				itemErr = err
			}

			mutex.Unlock()

			d.log.Error(logFmtItemFailed, transaction.ItemID, err)
		}(transaction)
	}

	waitGroup.Wait()
	close(workerPool)

	if fatalErr != nil {
		d.log.Error(logFmtBatchAborted, fatalErr)

		return fatalErr
	}

	return itemErr
}

// processItem runs one transaction through submit -> persist ->
// rate-limit sleep -> poll-once -> persist. The sleep between the two
// vendor calls is the per-worker rate limit.
func (d *Driver) processItem(ctx context.Context, transaction core.Transaction) error {
	transaction = d.client.Submit(ctx, transaction)

	err := d.store.Persist(transaction)
	if err != nil {
		return fmt.Errorf(errFmtItemPipeline, transaction.ItemID,
			fmt.Errorf(errFmtPersistSubmit, err))
	}

	d.sleepInterval(ctx)

	transaction, err = d.client.Poll(ctx, transaction)
	if err != nil {
		return fmt.Errorf(errFmtItemPipeline, transaction.ItemID, err)
	}

	err = d.store.Persist(transaction)
	if err != nil {
		return fmt.Errorf(errFmtItemPipeline, transaction.ItemID,
			fmt.Errorf(errFmtPersistPoll, err))
	}

	d.log.Info(logFmtItemFinished, transaction.ItemID, transaction.Status)

	return nil
}

func (d *Driver) sleepInterval(ctx context.Context) {
	interval := time.Duration(float64(secondsPerMinute) /
		float64(d.options.RatePerMinute) * float64(time.Second))

	timer := time.NewTimer(interval)
	defer timer.Stop()

	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
