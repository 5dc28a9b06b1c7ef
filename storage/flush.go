package storage

import (
	"context"
	"sync"
	"time"

	"github.com/tinydb-go/tinydb/telemetry"
)

// flushRound represents one in-flight coalesced flush: every caller
// that asks for durability while a round is running joins it instead
// of starting a second one.
type flushRound struct {
	done chan struct{}
	err  error
}

// FlushScheduler implements ensure_durability(write_concern) and the
// background flusher that periodically persists dirty pages even
// without an explicit caller.
type FlushScheduler struct {
	pm       *PageManager
	interval time.Duration

	journalMu    sync.Mutex
	journalRound *flushRound

	syncMu    sync.Mutex
	syncRound *flushRound

	stopCh chan struct{}
	wg     sync.WaitGroup

	logger  telemetry.Logger
	metrics *telemetry.Metrics
}

// NewFlushScheduler builds a scheduler over pm. interval <= 0 disables
// the background ticker; callers still get EnsureDurability on demand.
func NewFlushScheduler(pm *PageManager, interval time.Duration, logger telemetry.Logger, metrics *telemetry.Metrics) *FlushScheduler {
	return &FlushScheduler{
		pm:       pm,
		interval: interval,
		logger:   logger,
		metrics:  metrics,
	}
}

// Start launches the background flusher goroutine. A no-op if the
// configured interval is <= 0.
func (fs *FlushScheduler) Start() {
	if fs.interval <= 0 {
		return
	}
	fs.stopCh = make(chan struct{})
	fs.wg.Add(1)
	go fs.loop()
}

// Stop halts the background flusher and waits for it to exit. Callers
// should call EnsureDurability(ctx, WriteConcernSynced) afterward if
// they need a final guaranteed flush.
func (fs *FlushScheduler) Stop() {
	if fs.stopCh == nil {
		return
	}
	close(fs.stopCh)
	fs.wg.Wait()
}

func (fs *FlushScheduler) loop() {
	defer fs.wg.Done()
	ticker := time.NewTicker(fs.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if fs.pm.HasDirty() {
				if err := fs.doSync(); err != nil {
					fs.logger.Warn("background flush failed", map[string]interface{}{"error": err.Error()})
				}
			}
		case <-fs.stopCh:
			return
		}
	}
}

// EnsureDurability blocks until the requested write concern is
// satisfied for all writes accepted before the call:
//
//   - None: returns immediately, no guarantee.
//   - Journaled: the WAL file is fsynced; the data file may still lag.
//   - Synced: dirty pages are written to the data file, the data file
//     is fsynced, and the WAL is truncated (truncate-after-sync).
func (fs *FlushScheduler) EnsureDurability(ctx context.Context, concern WriteConcern) error {
	switch concern {
	case WriteConcernNone:
		return nil
	case WriteConcernJournaled:
		return fs.join(ctx, &fs.journalMu, &fs.journalRound, fs.doJournal)
	case WriteConcernSynced:
		return fs.join(ctx, &fs.syncMu, &fs.syncRound, fs.doSync)
	default:
		return fs.join(ctx, &fs.syncMu, &fs.syncRound, fs.doSync)
	}
}

// join coalesces concurrent callers onto a single in-flight round: the
// first caller to arrive runs work and every later caller, until that
// round finishes, waits for its result instead of re-running it.
func (fs *FlushScheduler) join(ctx context.Context, mu *sync.Mutex, roundPtr **flushRound, work func() error) error {
	mu.Lock()
	round := *roundPtr
	if round != nil {
		mu.Unlock()
		select {
		case <-round.done:
			return round.err
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	round = &flushRound{done: make(chan struct{})}
	*roundPtr = round
	mu.Unlock()

	err := work()
	round.err = err
	close(round.done)

	mu.Lock()
	*roundPtr = nil
	mu.Unlock()
	return err
}

func (fs *FlushScheduler) doJournal() error {
	wal := fs.pm.WAL()
	if wal == nil {
		return nil
	}
	start := time.Now()
	err := wal.Sync()
	if fs.metrics != nil {
		fs.metrics.ObserveWALFsync(time.Since(start).Seconds())
	}
	return err
}

func (fs *FlushScheduler) doSync() error {
	wal := fs.pm.WAL()
	if wal != nil {
		// WAL-before-data: every dirty page's record must be
		// durable in the log before its bytes are allowed to land in
		// the data file, so a crash between these two writes always
		// replays from a WAL that already covers them.
		if err := wal.Sync(); err != nil {
			return err
		}
	}
	if err := fs.pm.FlushDirty(); err != nil {
		return err
	}
	if err := fs.pm.disk.Flush(true); err != nil {
		return err
	}
	if wal == nil {
		return nil
	}
	if err := wal.Truncate(); err != nil {
		return err
	}
	if fs.metrics != nil {
		fs.metrics.IncWALTruncate()
	}
	return nil
}
