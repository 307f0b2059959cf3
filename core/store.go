package core

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"
)

// Environment is the single transactional environment typed stores live
// under (§4.2). It generalizes core/ledger.go's WAL-plus-snapshot idiom: a
// write transaction clones the current generation's map, mutates the clone,
// and atomically publishes it via atomic.Pointer — the "atomically swapped
// tip value" broadcast pattern design note 9 describes, widened from one
// scalar to the whole keyspace. Read transactions grab the current pointer
// without taking any lock, so they never block a writer and are never
// blocked by one; only writers serialize against each other, via mu.
type Environment struct {
	mu  sync.Mutex // held for the lifetime of one write transaction
	cur atomic.Pointer[generation]

	dir              string
	wal              *os.File
	walWrites        int
	snapshotInterval int

	log *logrus.Entry
}

type generation struct {
	data map[string][]byte
}

func (g *generation) get(key []byte) ([]byte, bool) {
	v, ok := g.data[string(key)]
	return v, ok
}

func cloneGeneration(g *generation) map[string][]byte {
	out := make(map[string][]byte, len(g.data)+16)
	for k, v := range g.data {
		out[k] = v
	}
	return out
}

// StoreConfig configures where the environment persists its WAL and
// snapshot, mirroring core/ledger.go's LedgerConfig.
type StoreConfig struct {
	Dir              string
	SnapshotInterval int // commits between snapshots; 0 disables snapshotting
}

const (
	walFileName      = "store.wal"
	snapshotFileName = "store.snap"
)

// OpenEnvironment opens (or creates) the environment rooted at cfg.Dir,
// replaying the snapshot (if any) followed by the WAL tail.
func OpenEnvironment(cfg StoreConfig) (*Environment, error) {
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("core: store: mkdir: %w", err)
	}
	e := &Environment{
		dir:              cfg.Dir,
		snapshotInterval: cfg.SnapshotInterval,
		log:              logrus.WithField("component", "store"),
	}

	data := make(map[string][]byte)
	snapPath := filepath.Join(cfg.Dir, snapshotFileName)
	if f, err := os.Open(snapPath); err == nil {
		if err := loadRecords(f, data); err != nil {
			e.log.WithError(err).Warn("snapshot truncated or corrupted, loading what could be read")
		}
		f.Close()
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("core: store: open snapshot: %w", err)
	}

	walPath := filepath.Join(cfg.Dir, walFileName)
	if f, err := os.Open(walPath); err == nil {
		if err := loadRecords(f, data); err != nil {
			e.log.WithError(err).Warn("wal tail truncated or corrupted, loading what could be read")
		}
		f.Close()
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("core: store: open wal: %w", err)
	}

	wal, err := os.OpenFile(walPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("core: store: open wal for append: %w", err)
	}
	e.wal = wal
	e.cur.Store(&generation{data: data})
	return e, nil
}

func (e *Environment) Close() error {
	if e.wal == nil {
		return nil
	}
	return e.wal.Close()
}

// record framing: [1 byte tag][4 byte LE keylen][key][4 byte LE vallen][value]
// tag 0 = set, tag 1 = delete (vallen omitted/zero for delete).
const (
	recTagSet    byte = 0
	recTagDelete byte = 1
)

func writeRecord(w io.Writer, tag byte, key, val []byte) error {
	var hdr [9]byte
	hdr[0] = tag
	binary.LittleEndian.PutUint32(hdr[1:5], uint32(len(key)))
	binary.LittleEndian.PutUint32(hdr[5:9], uint32(len(val)))
	if _, err := w.Write(hdr[:]); err != nil {
		return err
	}
	if _, err := w.Write(key); err != nil {
		return err
	}
	if tag == recTagSet {
		if _, err := w.Write(val); err != nil {
			return err
		}
	}
	return nil
}

// loadRecords replays a record stream into data. A truncated final record
// (a crash mid-append) is reported but does not abort loading of the
// records read so far, matching §4.2's corruption-tolerant loader contract.
func loadRecords(r io.Reader, data map[string][]byte) error {
	br := bufio.NewReader(r)
	for {
		var hdr [9]byte
		if _, err := io.ReadFull(br, hdr[:]); err != nil {
			if err == io.EOF {
				return nil
			}
			return fmt.Errorf("truncated record header: %w", err)
		}
		tag := hdr[0]
		keyLen := binary.LittleEndian.Uint32(hdr[1:5])
		valLen := binary.LittleEndian.Uint32(hdr[5:9])
		key := make([]byte, keyLen)
		if _, err := io.ReadFull(br, key); err != nil {
			return fmt.Errorf("truncated key: %w", err)
		}
		switch tag {
		case recTagSet:
			val := make([]byte, valLen)
			if _, err := io.ReadFull(br, val); err != nil {
				return fmt.Errorf("truncated value: %w", err)
			}
			data[string(key)] = val
		case recTagDelete:
			delete(data, string(key))
		default:
			return fmt.Errorf("unknown record tag %d", tag)
		}
	}
}

// snapshot dumps the current generation to disk and truncates the WAL,
// mirroring core/ledger.go's snapshot()+rewriteWAL(). Must be called with
// mu held.
func (e *Environment) snapshot(gen *generation) error {
	tmpPath := filepath.Join(e.dir, snapshotFileName+".tmp")
	f, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	bw := bufio.NewWriter(f)
	for k, v := range gen.data {
		if err := writeRecord(bw, recTagSet, []byte(k), v); err != nil {
			f.Close()
			return err
		}
	}
	if err := bw.Flush(); err != nil {
		f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	f.Close()

	snapPath := filepath.Join(e.dir, snapshotFileName)
	if err := os.Rename(tmpPath, snapPath); err != nil {
		return err
	}

	walPath := filepath.Join(e.dir, walFileName)
	e.wal.Close()
	if err := os.Truncate(walPath, 0); err != nil {
		return err
	}
	wal, err := os.OpenFile(walPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	e.wal = wal
	e.walWrites = 0
	return nil
}

// ReadTx is a snapshot-isolated read transaction: unbounded concurrency,
// never blocked by writers.
type ReadTx struct {
	gen *generation
}

// Begin starts a read transaction against the current generation.
func (e *Environment) Begin() *ReadTx {
	return &ReadTx{gen: e.cur.Load()}
}

// Rollback ends the read transaction. A ReadTx holds no lock and no pending
// writes, so there is nothing to release.
func (r *ReadTx) Rollback() {}

// WriteTx is an exclusive write transaction: only one may be open at a time
// per environment. All mutations are visible only to this transaction until
// Commit; Rollback discards them entirely.
type WriteTx struct {
	env     *Environment
	base    *generation
	data    map[string][]byte
	ops     []walOp
	done    bool
}

type walOp struct {
	tag byte
	key []byte
	val []byte
}

// BeginWrite acquires the environment's single write slot.
func (e *Environment) BeginWrite() *WriteTx {
	e.mu.Lock()
	base := e.cur.Load()
	return &WriteTx{env: e, base: base, data: cloneGeneration(base)}
}

func (w *WriteTx) get(key []byte) ([]byte, bool) {
	v, ok := w.data[string(key)]
	return v, ok
}

func (w *WriteTx) set(key, val []byte) {
	w.data[string(key)] = val
	w.ops = append(w.ops, walOp{tag: recTagSet, key: append([]byte(nil), key...), val: val})
}

func (w *WriteTx) delete(key []byte) {
	delete(w.data, string(key))
	w.ops = append(w.ops, walOp{tag: recTagDelete, key: append([]byte(nil), key...)})
}

// Commit persists the transaction's operations to the WAL, fsyncs, and
// atomically publishes the new generation. A cancelled or errored
// transaction must call Rollback instead; there is no partial commit.
func (w *WriteTx) Commit() error {
	if w.done {
		return fmt.Errorf("core: store: transaction already finished")
	}
	defer func() { w.done = true; w.env.mu.Unlock() }()

	for _, op := range w.ops {
		if err := writeRecord(w.env.wal, op.tag, op.key, op.val); err != nil {
			return fmt.Errorf("core: store: wal write: %w", err)
		}
	}
	if err := w.env.wal.Sync(); err != nil {
		return fmt.Errorf("core: store: wal sync: %w", err)
	}
	w.env.walWrites++

	newGen := &generation{data: w.data}
	w.env.cur.Store(newGen)

	if w.env.snapshotInterval > 0 && w.env.walWrites >= w.env.snapshotInterval {
		if err := w.env.snapshot(newGen); err != nil {
			w.env.log.WithError(err).Warn("snapshot failed, continuing on wal")
		}
	}
	return nil
}

// Rollback discards every pending mutation. Safe to call after Commit
// (no-op) so deferred cleanup in callers does not need to track success.
func (w *WriteTx) Rollback() {
	if w.done {
		return
	}
	w.done = true
	w.env.mu.Unlock()
}
