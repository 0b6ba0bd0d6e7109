package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"campsite.sim/internal/metrics"
	"campsite.sim/internal/persistence/archive"
	persistlog "campsite.sim/internal/persistence/log"
	"campsite.sim/internal/persistence/snapshot"
	"campsite.sim/internal/sim/catalogs"
	"campsite.sim/internal/sim/site"
	"campsite.sim/internal/sim/tuning"
	"campsite.sim/internal/transport/observer"
	"campsite.sim/internal/transport/ws"
)

func main() {
	var (
		addr       = flag.String("addr", ":8080", "http listen address")
		siteID     = flag.String("site", "", "site id (default: tuning site_id)")
		configDir  = flag.String("configs", "./configs", "config directory")
		dataDir    = flag.String("data", "./data", "runtime data directory")
		tuningPath = flag.String("tuning", "", "path to tuning.yaml (default: <configs>/tuning.yaml)")
		disableDB  = flag.Bool("disable_db", false, "disable indexing (tick/audit + catalogs + snapshot metadata)")
		debug      = flag.Bool("debug", false, "start with debug overlays enabled")

		snapPath     = flag.String("snapshot", "", "path to snapshot to load (optional)")
		loadLatest   = flag.Bool("load_latest_snapshot", true, "load latest snapshot from data dir if present (when -snapshot is empty)")
		snapKeep     = flag.Int("snapshot_keep", 48, "live snapshots kept under <site>/snapshots (0 = keep all)")
		archiveEvery = flag.Uint64("archive_every_ticks", 0, "copy snapshots at multiples of this tick into <site>/archives (0 = off)")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[server] ", log.LstdFlags|log.Lmicroseconds)
	siteLogger := log.New(os.Stdout, "[site] ", log.LstdFlags|log.Lmicroseconds)
	obsLogger := log.New(os.Stdout, "[observer] ", log.LstdFlags|log.Lmicroseconds)

	cats, err := catalogs.Load(*configDir)
	if err != nil {
		logger.Fatalf("load catalogs: %v", err)
	}

	tp := strings.TrimSpace(*tuningPath)
	if tp == "" {
		tp = filepath.Join(*configDir, "tuning.yaml")
	}
	tune, err := tuning.Load(tp)
	if err != nil {
		logger.Fatalf("load tuning: %v", err)
	}
	if *siteID != "" {
		tune.SiteID = *siteID
	}
	if *debug {
		tune.Debug = true
	}

	siteDir := filepath.Join(*dataDir, "sites", tune.SiteID)
	if err := os.MkdirAll(siteDir, 0o755); err != nil {
		logger.Fatalf("data dir: %v", err)
	}

	mirror, err := openMirror(*dataDir, logger)
	if err != nil {
		logger.Fatalf("mirror: %v", err)
	}
	// Closed last: log and snapshot shutdown still enqueue files.
	defer mirror.Close()

	// Optional read model (does not affect sim determinism).
	idx, err := openRuntimeIndex(siteDir, *disableDB)
	if err != nil {
		logger.Fatalf("open index backend: %v", err)
	}
	if idx != nil {
		defer idx.Close()
		if err := idx.UpsertCatalogs(cats, tune); err != nil {
			logger.Printf("index backend: upsert catalogs: %v", err)
		}
	}

	s, err := site.New(tune, cats, siteLogger)
	if err != nil {
		logger.Fatalf("site: %v", err)
	}

	snapshotToLoad := strings.TrimSpace(*snapPath)
	if snapshotToLoad == "" && *loadLatest {
		snapshotToLoad = latestSnapshot(siteDir)
	}
	if snapshotToLoad != "" {
		snap, err := snapshot.ReadSnapshot(snapshotToLoad)
		if err != nil {
			logger.Fatalf("read snapshot: %v", err)
		}
		if snap.Header.SiteID != "" && snap.Header.SiteID != tune.SiteID {
			logger.Fatalf("snapshot site id mismatch: config=%s snap=%s", tune.SiteID, snap.Header.SiteID)
		}
		if err := s.ImportSnapshot(snap); err != nil {
			logger.Fatalf("import snapshot: %v", err)
		}
		logger.Printf("resumed from snapshot=%s tick=%d", filepath.Base(snapshotToLoad), s.CurrentTick())
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	mc := metrics.NewSiteCollector()
	if err := mc.Register(reg); err != nil {
		logger.Fatalf("metrics: %v", err)
	}
	s.SetMetrics(mc)
	if mirror != nil {
		reg.MustRegister(mirror)
	}

	tickLog := persistlog.NewTickLogger(siteDir)
	auditLog := persistlog.NewAuditLogger(siteDir)
	if mirror != nil {
		tickLog.OnFileClosed(mirror.Enqueue)
		auditLog.OnFileClosed(mirror.Enqueue)
	}
	defer tickLog.Close()
	defer auditLog.Close()
	if idx != nil {
		s.SetTickLogger(multiTickLogger{a: tickLog, b: idx})
		s.SetAuditLogger(multiAuditLogger{a: auditLog, b: idx})
	} else {
		s.SetTickLogger(tickLog)
		s.SetAuditLogger(auditLog)
	}

	ctx, cancel := signalContext()
	defer cancel()

	// Snapshot writer.
	snapCh := make(chan snapshot.SnapshotV1, 2)
	s.SetSnapshotSink(snapCh)
	snapDone := make(chan struct{})
	go func() {
		defer close(snapDone)
		for {
			select {
			case <-ctx.Done():
				return
			case snap := <-snapCh:
				path := filepath.Join(siteDir, "snapshots", fmt.Sprintf("%d.snap.zst", snap.Header.Tick))
				if err := snapshot.WriteSnapshot(path, snap); err != nil {
					logger.Printf("snapshot write: %v", err)
					continue
				}
				if idx != nil {
					idx.RecordSnapshot(path, snap)
				}
				mirror.Enqueue(path)
				archived, ok, err := archive.Milestone(siteDir, path, snap, *archiveEvery)
				if err != nil {
					logger.Printf("snapshot archive: %v", err)
				} else if ok {
					logger.Printf("archived snapshot tick=%d", snap.Header.Tick)
					mirror.Enqueue(archived)
				}
				if _, err := archive.Prune(siteDir, *snapKeep); err != nil {
					logger.Printf("snapshot prune: %v", err)
				}
			}
		}
	}()

	siteDone := make(chan struct{})
	go func() {
		defer close(siteDone)
		if err := s.Run(ctx); err != nil && err != context.Canceled {
			logger.Printf("site stopped: %v", err)
		}
	}()

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(200)
		_, _ = rw.Write([]byte("ok"))
	})
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	if envBool("CAMP_ENABLE_DEBUG_HTTP", defaultEnableDebugHTTP()) {
		// Local-only inspection endpoints.
		registerDebugHandlers(mux, s, 5*time.Second)
		obsSrv := observer.NewServer(s, obsLogger)
		mux.HandleFunc("/debug/v1/observer/bootstrap", obsSrv.BootstrapHandler())
		mux.HandleFunc("/debug/v1/observer/ws", obsSrv.WSHandler())
	} else {
		logger.Printf("debug endpoints disabled (CAMP_ENABLE_DEBUG_HTTP=false)")
	}
	if envBool("CAMP_ENABLE_PPROF_HTTP", false) {
		mux.HandleFunc("/debug/pprof/", pprof.Index)
		mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
		mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	}
	mux.HandleFunc("/v1/edits", ws.NewServer(s, logger).Handler())

	srv := &http.Server{
		Addr:              *addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel2()
		_ = srv.Shutdown(ctx2)
	}()

	logger.Printf("site=%s %dx%d sector=%d tick_rate=%dHz listening on %s",
		tune.SiteID, tune.Width, tune.Height, tune.SectorSize, tune.TickRateHz, *addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatalf("ListenAndServe: %v", err)
	}
	<-siteDone
	<-snapDone
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ch
		cancel()
	}()
	return ctx, cancel
}

// latestSnapshot returns the highest-tick <tick>.snap.zst under siteDir.
func latestSnapshot(siteDir string) string {
	all, err := archive.Snapshots(siteDir)
	if err != nil || len(all) == 0 {
		return ""
	}
	return all[len(all)-1].Path
}

func defaultEnableDebugHTTP() bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv("DEPLOY_ENV"))) {
	case "staging", "production":
		return false
	default:
		return true
	}
}

func envBool(name string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(name))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}
