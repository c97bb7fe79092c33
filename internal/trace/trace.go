// Package trace persists a running record of executed ops and syscalls to
// a SQLite file, so a host can inspect what an H6 program actually did
// after the fact without attaching a live debugger.
package trace

import (
	"database/sql"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/h6lang/h6/internal/bytecode"
	"github.com/h6lang/h6/internal/vm"
)

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id         TEXT PRIMARY KEY,
	started_at INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS ops (
	run_id      TEXT    NOT NULL,
	seq         INTEGER NOT NULL,
	kind        INTEGER NOT NULL,
	kind_name   TEXT    NOT NULL,
	arg         INTEGER NOT NULL,
	build_depth INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS syscalls (
	run_id TEXT    NOT NULL,
	seq    INTEGER NOT NULL,
	id     INTEGER NOT NULL
);
`

// Recorder is a vm.Tracer backed by a SQLite database. One Recorder may be
// shared across several Rt runs (each gets its own run_id row); a single
// Recorder is safe for concurrent use by multiple Rt goroutines, guarded
// by a mutex the way the rest of this codebase protects shared state
// around a *sql.DB handle.
type Recorder struct {
	mu  sync.Mutex
	db  *sql.DB
	seq map[string]int64
}

// Open creates or appends to a trace database at path.
func Open(path string) (*Recorder, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, err
	}
	return &Recorder{db: db, seq: make(map[string]int64)}, nil
}

// Close releases the underlying database handle.
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.db.Close()
}

// BeginRun registers a new run row, keyed by the Rt's own correlation ID.
func (r *Recorder) BeginRun(rt *vm.Rt) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := rt.ID.String()
	r.seq[id] = 0
	_, err := r.db.Exec(`INSERT OR REPLACE INTO runs (id, started_at) VALUES (?, ?)`, id, time.Now().Unix())
	return err
}

// TraceOp implements vm.Tracer, recording one executed op.
func (r *Recorder) TraceOp(rt *vm.Rt, op bytecode.Op, depth int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := rt.ID.String()
	seq := r.seq[id]
	r.seq[id] = seq + 1
	_, _ = r.db.Exec(
		`INSERT INTO ops (run_id, seq, kind, kind_name, arg, build_depth) VALUES (?, ?, ?, ?, ?, ?)`,
		id, seq, int(op.Kind), op.Kind.String(), op.Arg, depth,
	)
}

// TraceSyscall implements vm.Tracer, recording one System opcode invocation.
func (r *Recorder) TraceSyscall(rt *vm.Rt, id uint32) {
	r.mu.Lock()
	defer r.mu.Unlock()
	runID := rt.ID.String()
	seq := r.seq[runID]
	r.seq[runID] = seq + 1
	_, _ = r.db.Exec(`INSERT INTO syscalls (run_id, seq, id) VALUES (?, ?, ?)`, runID, seq, id)
}

// OpEvent is one row read back out of the ops table, in execution order.
type OpEvent struct {
	Seq        int64
	Kind       bytecode.Kind
	KindName   string
	Arg        int32
	BuildDepth int
}

// OpsForRun reads every recorded op for a run, in the order it executed.
func (r *Recorder) OpsForRun(runID string) ([]OpEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rows, err := r.db.Query(
		`SELECT seq, kind, kind_name, arg, build_depth FROM ops WHERE run_id = ? ORDER BY seq ASC`,
		runID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []OpEvent
	for rows.Next() {
		var e OpEvent
		var kind int
		if err := rows.Scan(&e.Seq, &kind, &e.KindName, &e.Arg, &e.BuildDepth); err != nil {
			return nil, err
		}
		e.Kind = bytecode.Kind(kind)
		out = append(out, e)
	}
	return out, rows.Err()
}
