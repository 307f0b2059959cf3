package core

import (
	"context"
	"errors"
	"sync"

	"github.com/sirupsen/logrus"
)

func mainchainTaskLog() *logrus.Entry { return logrus.WithField("component", "mainchain_task") }

// ErrMainchainTaskClosed is returned by AncestorInfos once the task has been
// stopped (§4.7 "the task aborts on drop"): a request the worker has not yet
// accepted fails with it, while a request the worker is already fetching runs
// to completion before Close returns.
var ErrMainchainTaskClosed = errors.New("core: mainchain fetch task: closed")

// ancestorRequest is one AncestorInfos call queued for the single background
// worker; resp carries the outcome back on a private oneshot channel (§4.7
// "responses may be returned on a per-request oneshot channel").
type ancestorRequest struct {
	ctx       context.Context
	blockHash Hash
	resp      chan error
}

// MainchainFetchTask is the single-writer task of §4.7: it accepts
// AncestorInfos(block_hash) requests over a channel and serializes them
// through one background goroutine, grounded on core/connection_pool.go's
// reaper-goroutine-plus-mutex-guarded-state idiom, generalized here from
// pooled net.Conns to pooled ancestor-header batches fetched from the
// enforcer and persisted into the mainchain header archive.
type MainchainFetchTask struct {
	client EnforcerClient
	env    *Environment

	requests  chan ancestorRequest
	closing   chan struct{}
	closeOnce sync.Once
	done      chan struct{}
}

// NewMainchainFetchTask starts the background worker immediately, matching
// connection_pool.go's NewConnPool starting its reaper goroutine in the
// constructor.
func NewMainchainFetchTask(client EnforcerClient, env *Environment) *MainchainFetchTask {
	t := &MainchainFetchTask{
		client:   client,
		env:      env,
		requests: make(chan ancestorRequest),
		closing:  make(chan struct{}),
		done:     make(chan struct{}),
	}
	go t.run()
	return t
}

// AncestorInfos enqueues a fetch-and-persist request for blockHash's
// ancestry and blocks until it completes, fails, or ctx is cancelled.
func (t *MainchainFetchTask) AncestorInfos(ctx context.Context, blockHash Hash) error {
	resp := make(chan error, 1)
	select {
	case t.requests <- ancestorRequest{ctx: ctx, blockHash: blockHash, resp: resp}:
	case <-t.closing:
		return ErrMainchainTaskClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-resp:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops the background worker after any request it is processing
// finishes; callers still waiting to hand over a request get
// ErrMainchainTaskClosed rather than blocking forever.
func (t *MainchainFetchTask) Close() {
	t.closeOnce.Do(func() {
		close(t.closing)
		<-t.done
	})
}

func (t *MainchainFetchTask) run() {
	defer close(t.done)
	for {
		select {
		case req := <-t.requests:
			req.resp <- t.fetchAndPersist(req.ctx, req.blockHash)
		case <-t.closing:
			return
		}
	}
}

// fetchAndPersist implements §4.7's batch walk: repeatedly request up to
// 1000 ancestor headers at a time from the enforcer until it either reaches
// the genesis marker or an ancestor already present in the archive, then
// persists the whole batch in one write transaction.
func (t *MainchainFetchTask) fetchAndPersist(ctx context.Context, tip Hash) error {
	r := t.env.Begin()
	alreadyKnown := r.HasMainHeader(tip)
	r.Rollback()
	if alreadyKnown {
		return nil
	}

	var batch []MainHeaderRecord
	cursor := tip
	for {
		infos, err := t.client.BlockInfos(ctx, cursor, maxBlockInfosPerRequest)
		if err != nil {
			return err
		}
		if len(infos) == 0 {
			break
		}
		batch = append(batch, infos...)
		last := infos[len(infos)-1]
		if last.IsGenesis {
			break
		}
		r := t.env.Begin()
		known := r.HasMainHeader(last.PrevHash)
		r.Rollback()
		if known {
			break
		}
		cursor = last.PrevHash
	}

	w := t.env.BeginWrite()
	defer w.Rollback()
	for _, rec := range batch {
		if !w.HasMainHeader(rec.Hash) {
			w.PutMainHeader(rec)
		}
	}
	if prevTip, ok := w.MainTip(); !ok || !w.IsDescendant(tip, prevTip) {
		w.SetMainTip(tip)
	}
	if err := w.Commit(); err != nil {
		return err
	}
	mainchainTaskLog().WithField("headers", len(batch)).WithField("tip", tip.String()).Debug("persisted ancestor batch")
	return nil
}
