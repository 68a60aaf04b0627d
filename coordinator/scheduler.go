// Package coordinator provides a reference implementation of the external
// collaborator spec.md §4.5 describes but leaves out of scope: something
// that owns a background worker, advances its snapshot, cycles every live
// query through attach/run/prepare_handover/deliver/call_callbacks/detach,
// and fans out commit notifications to consumer threads. Grounded on the
// teacher's chotki.go (AddPacketHose/Broadcast: one hose per registered
// listener, fanned out under a lock) and host/host.go's narrow Host
// interface, generalized from replication packets to commit wake-ups.
package coordinator

import (
	"context"
	"sync"

	"github.com/drpcorg/asyncquery/asyncquery"
	"github.com/drpcorg/asyncquery/changeset"
	"github.com/drpcorg/asyncquery/engine"
	"github.com/drpcorg/asyncquery/internal/logx"
	"github.com/google/uuid"
	"github.com/puzpuzpuz/xsync/v3"
	"golang.org/x/sync/errgroup"
)

// ChangeSource supplies what one background cycle needs: a fresh worker
// snapshot, the executor to run compiled queries against it, and the set
// of per-table ChangeRecords the commit produced (spec.md §4.5).
type ChangeSource interface {
	Snapshot() engine.Snapshot
	Executor() engine.Executor
	Changes() changeset.TableChanges
}

// Scheduler is a reference coordinator: one background worker goroutine
// cycling every registered query, and one wake-up channel per consumer
// thread so registered consumers can drive Deliver/CallCallbacks
// themselves. It implements engine.Coordinator.
type Scheduler struct {
	log    logx.Logger
	source ChangeSource

	mu      sync.Mutex
	queries map[uuid.UUID][]*asyncquery.Query // keyed by consumer thread

	wakeups *xsync.MapOf[uuid.UUID, chan struct{}]

	notifyOnce sync.Once
	notifyCh   chan struct{}
}

// New creates a Scheduler driving queries against source's snapshots.
func New(source ChangeSource, log logx.Logger) *Scheduler {
	if log == nil {
		log = logx.Nop{}
	}
	return &Scheduler{
		log:      log,
		source:   source,
		queries:  make(map[uuid.UUID][]*asyncquery.Query),
		wakeups:  xsync.NewMapOf[uuid.UUID, chan struct{}](),
		notifyCh: make(chan struct{}, 1),
	}
}

// Register attaches q to this scheduler's background cycle, filed under
// consumerThread so its wake-up channel can be found at delivery time.
func (s *Scheduler) Register(consumerThread uuid.UUID, q *asyncquery.Query) {
	s.mu.Lock()
	s.queries[consumerThread] = append(s.queries[consumerThread], q)
	s.mu.Unlock()
	s.wakeups.LoadOrStore(consumerThread, make(chan struct{}, 1))
}

// Unregister removes q from the background cycle. It does not call
// q.Unregister() itself — that is the consumer's call, made when it
// releases its results handle.
func (s *Scheduler) Unregister(consumerThread uuid.UUID, q *asyncquery.Query) {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.queries[consumerThread]
	for i, existing := range list {
		if existing == q {
			s.queries[consumerThread] = append(list[:i], list[i+1:]...)
			return
		}
	}
}

// RequestCommitNotifications implements engine.Coordinator. It only logs
// the request; a real storage engine would arm a commit listener here, per
// spec.md §4.5.
func (s *Scheduler) RequestCommitNotifications() {
	s.log.Debug("commit notifications requested")
}

// RunCycle drives one full background phase (spec.md §2's control flow):
// attach -> run -> prepare_handover, in sequence, over every
// currently-registered query, sharing a single worker snapshot — the
// coordinator's guarantee that Query's unsynchronized fields are safe.
// Detach is not part of this phase; RunConsumer does it after delivery.
// Once a consumer thread's queries are prepared, its wake-up channel is
// signaled so RunConsumer can deliver.
func (s *Scheduler) RunCycle(ctx context.Context) error {
	snap := s.source.Snapshot()
	exec := s.source.Executor()
	changes := s.source.Changes()

	s.mu.Lock()
	all := make(map[uuid.UUID][]*asyncquery.Query, len(s.queries))
	for k, v := range s.queries {
		all[k] = append([]*asyncquery.Query(nil), v...)
	}
	s.mu.Unlock()

	g, _ := errgroup.WithContext(ctx)
	g.SetLimit(1) // spec.md §5: "the worker owns one snapshot at a time"
	for consumer, list := range all {
		consumer, list := consumer, list
		g.Go(func() error {
			for _, q := range list {
				if q.State() == asyncquery.Unattached {
					if err := q.Attach(snap); err != nil {
						s.log.Warn("attach failed", "err", err)
						continue
					}
				}
				if err := q.Run(exec, changes); err != nil {
					s.log.Warn("run failed", "err", err)
					continue
				}
				if err := q.PrepareHandover(snap); err != nil {
					s.log.Warn("prepare_handover failed", "err", err)
					continue
				}
			}
			s.signal(consumer)
			return nil
		})
	}
	return g.Wait()
}

func (s *Scheduler) signal(consumer uuid.UUID) {
	ch, _ := s.wakeups.Load(consumer)
	if ch == nil {
		return
	}
	select {
	case ch <- struct{}{}:
	default:
	}
}

// Wait blocks until consumer's queries have a handover ready, or ctx is
// done. Call from the consumer's own event loop.
func (s *Scheduler) Wait(ctx context.Context, consumer uuid.UUID) error {
	ch, _ := s.wakeups.LoadOrStore(consumer, make(chan struct{}, 1))
	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RunConsumer performs deliver + call_callbacks + detach for every query
// registered under consumer, using consumerSnapshot. Call after Wait
// returns. Detach is driven from here (not the background phase) because
// spec.md §2's cycle sequence places it after call_callbacks.
func (s *Scheduler) RunConsumer(consumerSnapshot engine.Snapshot, consumer uuid.UUID) {
	s.mu.Lock()
	list := append([]*asyncquery.Query(nil), s.queries[consumer]...)
	s.mu.Unlock()

	for _, q := range list {
		hasCB, err := q.Deliver(consumerSnapshot, consumer, nil)
		if err != nil {
			s.log.Warn("deliver failed", "err", err)
			continue
		}
		if hasCB {
			q.CallCallbacks()
		}
		switch q.State() {
		case asyncquery.HandedOver:
			// Deliver left handoverPacket in place — either the consumer's
			// snapshot hasn't caught up to snapshotVersion yet, or there was
			// nothing to deliver this cycle. Detach's ExportQuery would
			// overwrite handoverPacket with a fresh query packet, so skip it
			// and retry delivery next cycle (spec.md §7).
		case asyncquery.Unattached:
		default:
			if err := q.Detach(consumerSnapshot); err != nil {
				s.log.Warn("detach failed", "err", err)
			}
		}
	}
}
