package indexdb

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"campsite.sim/internal/persistence/snapshot"
	"campsite.sim/internal/sim/catalogs"
	"campsite.sim/internal/sim/site"
	"campsite.sim/internal/sim/tuning"
)

// SQLiteIndex is a queryable read model fed from the tick loop. Writes are
// queued and applied by a single goroutine; the JSONL logs stay the source of
// truth, so a full queue drops entries instead of stalling the sim.
type SQLiteIndex struct {
	db *sql.DB

	ch   chan req
	wg   sync.WaitGroup
	once sync.Once

	closed  atomic.Bool
	dropped atomic.Uint64
}

type reqKind int

const (
	reqTick reqKind = iota + 1
	reqAudit
	reqSnapshot
)

type req struct {
	kind reqKind

	tick     site.TickLogEntry
	audit    site.AuditEntry
	snapshot snapshotRow
}

type snapshotRow struct {
	Tick      uint64
	Path      string
	SiteID    string
	Width     int
	Height    int
	Objects   int
	Nodes     int
	Tasks     int
	Employees int
	Agents    int
}

func OpenSQLite(path string) (*SQLiteIndex, error) {
	return openSQLite(path, 65536)
}

func openSQLite(path string, queue int) (*SQLiteIndex, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &SQLiteIndex{db: db, ch: make(chan req, queue)}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop()
	}()
	return s, nil
}

func initPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS catalogs (
			name TEXT PRIMARY KEY,
			digest TEXT NOT NULL,
			json TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS ticks (
			tick INTEGER PRIMARY KEY,
			digest TEXT NOT NULL,
			edits INTEGER NOT NULL,
			rejected INTEGER NOT NULL,
			transitions INTEGER NOT NULL,
			raw_json TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS edits (
			tick INTEGER NOT NULL,
			seq INTEGER NOT NULL,
			kind TEXT NOT NULL,
			ok INTEGER NOT NULL,
			code TEXT,
			result_id INTEGER NOT NULL,
			edit_json TEXT NOT NULL,
			PRIMARY KEY (tick, seq)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_edits_kind_tick ON edits(kind, tick);`,
		`CREATE TABLE IF NOT EXISTS task_transitions (
			tick INTEGER NOT NULL,
			seq INTEGER NOT NULL,
			task INTEGER NOT NULL,
			kind TEXT NOT NULL,
			employee INTEGER NOT NULL,
			from_status TEXT NOT NULL,
			to_status TEXT NOT NULL,
			reason TEXT,
			PRIMARY KEY (tick, seq)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_transitions_task ON task_transitions(task, tick);`,
		`CREATE INDEX IF NOT EXISTS idx_transitions_employee ON task_transitions(employee, tick);`,
		`CREATE TABLE IF NOT EXISTS audits (
			tick INTEGER NOT NULL,
			seq INTEGER NOT NULL,
			action TEXT NOT NULL,
			x INTEGER NOT NULL,
			y INTEGER NOT NULL,
			object INTEGER NOT NULL,
			kind TEXT,
			reason TEXT,
			raw_json TEXT NOT NULL,
			PRIMARY KEY (tick, seq)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_audits_object_tick ON audits(object, tick);`,
		`CREATE INDEX IF NOT EXISTS idx_audits_pos_tick ON audits(x, y, tick);`,
		`CREATE TABLE IF NOT EXISTS snapshots (
			tick INTEGER PRIMARY KEY,
			path TEXT NOT NULL,
			site_id TEXT NOT NULL,
			width INTEGER NOT NULL,
			height INTEGER NOT NULL,
			objects INTEGER NOT NULL,
			nodes INTEGER NOT NULL,
			tasks INTEGER NOT NULL,
			employees INTEGER NOT NULL,
			agents INTEGER NOT NULL
		);`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteIndex) Close() error {
	var err error
	s.once.Do(func() {
		s.closed.Store(true)
		close(s.ch)
		s.wg.Wait()
		err = s.db.Close()
	})
	return err
}

// Dropped reports how many entries were discarded because the queue was full.
func (s *SQLiteIndex) Dropped() uint64 { return s.dropped.Load() }

func (s *SQLiteIndex) enqueue(r req) {
	if s == nil || s.closed.Load() {
		return
	}
	select {
	case s.ch <- r:
	default:
		s.dropped.Add(1)
	}
}

func (s *SQLiteIndex) WriteTick(entry site.TickLogEntry) error {
	s.enqueue(req{kind: reqTick, tick: entry})
	return nil
}

func (s *SQLiteIndex) WriteAudit(entry site.AuditEntry) error {
	s.enqueue(req{kind: reqAudit, audit: entry})
	return nil
}

func (s *SQLiteIndex) RecordSnapshot(path string, snap snapshot.SnapshotV1) {
	s.enqueue(req{kind: reqSnapshot, snapshot: snapshotRow{
		Tick:      snap.Header.Tick,
		Path:      path,
		SiteID:    snap.Header.SiteID,
		Width:     snap.Width,
		Height:    snap.Height,
		Objects:   len(snap.Objects),
		Nodes:     len(snap.UtilityNodes),
		Tasks:     len(snap.Tasks),
		Employees: len(snap.Employees),
		Agents:    len(snap.Agents),
	}})
}

// UpsertCatalogs stores the object catalog and the applied tuning, keyed by
// digest, so queries can tell which rules produced a given history.
func (s *SQLiteIndex) UpsertCatalogs(cats *catalogs.Catalogs, tune tuning.Tuning) error {
	if s == nil {
		return nil
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)

	type kv struct {
		name   string
		digest string
		json   []byte
	}
	var rows []kv
	if cats != nil {
		defs := make([]catalogs.ObjectDef, 0, len(cats.Objects.IDs))
		for _, id := range cats.Objects.IDs {
			defs = append(defs, cats.Objects.ByID[id])
		}
		b, err := json.Marshal(defs)
		if err != nil {
			return err
		}
		rows = append(rows, kv{name: "objects", digest: cats.Objects.Digest, json: b})
	}
	{
		b, err := json.Marshal(tune)
		if err != nil {
			return err
		}
		sum := sha256.Sum256(b)
		rows = append(rows, kv{name: "tuning", digest: hex.EncodeToString(sum[:]), json: b})
	}

	tx, err := s.db.BeginTx(context.Background(), nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`INSERT OR REPLACE INTO meta(key,value) VALUES('schema_version','1')`); err != nil {
		return err
	}
	stmt, err := tx.Prepare(`INSERT OR REPLACE INTO catalogs(name,digest,json,updated_at) VALUES(?,?,?,?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, r := range rows {
		if _, err := stmt.Exec(r.name, r.digest, string(r.json), now); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *SQLiteIndex) loop() {
	ctx := context.Background()

	stmts := map[string]*sql.Stmt{}
	prepare := func(name, q string) {
		st, err := s.db.Prepare(q)
		if err == nil {
			stmts[name] = st
		}
	}
	prepare("tick", `INSERT OR REPLACE INTO ticks(tick,digest,edits,rejected,transitions,raw_json) VALUES(?,?,?,?,?,?)`)
	prepare("edit", `INSERT OR REPLACE INTO edits(tick,seq,kind,ok,code,result_id,edit_json) VALUES(?,?,?,?,?,?,?)`)
	prepare("transition", `INSERT OR REPLACE INTO task_transitions(tick,seq,task,kind,employee,from_status,to_status,reason) VALUES(?,?,?,?,?,?,?,?)`)
	prepare("audit", `INSERT OR REPLACE INTO audits(tick,seq,action,x,y,object,kind,reason,raw_json) VALUES(?,?,?,?,?,?,?,?,?)`)
	prepare("snapshot", `INSERT OR REPLACE INTO snapshots(tick,path,site_id,width,height,objects,nodes,tasks,employees,agents) VALUES(?,?,?,?,?,?,?,?,?,?)`)
	defer func() {
		for _, st := range stmts {
			_ = st.Close()
		}
	}()

	var (
		tx            *sql.Tx
		opCount       int
		lastCommit    = time.Now()
		commitEvery   = 2000
		commitMaxWait = 2 * time.Second

		lastAuditTick uint64
		auditSeq      int
	)

	begin := func() {
		if tx != nil {
			return
		}
		txx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			time.Sleep(50 * time.Millisecond)
			return
		}
		tx = txx
		opCount = 0
		lastCommit = time.Now()
	}
	commit := func() {
		if tx == nil {
			return
		}
		_ = tx.Commit()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	rollback := func() {
		if tx == nil {
			return
		}
		_ = tx.Rollback()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	exec := func(name string, args ...any) bool {
		st := stmts[name]
		if st == nil || tx == nil {
			return false
		}
		if _, err := tx.Stmt(st).Exec(args...); err != nil {
			rollback()
			return false
		}
		opCount++
		return true
	}

	for r := range s.ch {
		begin()
		if tx == nil {
			continue
		}
		switch r.kind {
		case reqTick:
			e := r.tick
			rejected := 0
			for _, re := range e.Edits {
				if !re.Result.OK {
					rejected++
				}
			}
			raw, _ := json.Marshal(e)
			if !exec("tick", int64(e.Tick), e.Digest, len(e.Edits), rejected, len(e.Transitions), string(raw)) {
				continue
			}
			for i, re := range e.Edits {
				ej, _ := json.Marshal(re.Edit)
				if !exec("edit", int64(e.Tick), i, string(re.Edit.Kind), boolInt(re.Result.OK), re.Result.Code, int64(re.Result.ID), string(ej)) {
					break
				}
			}
			for i, tr := range e.Transitions {
				if !exec("transition", int64(e.Tick), i, int64(tr.Task), tr.Kind, int64(tr.Employee), tr.From.String(), tr.To.String(), tr.Reason) {
					break
				}
			}

		case reqAudit:
			a := r.audit
			if a.Tick != lastAuditTick {
				lastAuditTick = a.Tick
				auditSeq = 0
			}
			seq := auditSeq
			auditSeq++
			raw, _ := json.Marshal(a)
			exec("audit", int64(a.Tick), seq, a.Action, a.Pos[0], a.Pos[1], int64(a.Object), a.Kind, a.Reason, string(raw))

		case reqSnapshot:
			sn := r.snapshot
			exec("snapshot", int64(sn.Tick), sn.Path, sn.SiteID, sn.Width, sn.Height, sn.Objects, sn.Nodes, sn.Tasks, sn.Employees, sn.Agents)
		}
		if tx != nil && (opCount >= commitEvery || time.Since(lastCommit) >= commitMaxWait) {
			commit()
		}
	}

	commit()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
