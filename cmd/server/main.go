package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"worldloom.ai/internal/decision"
	"worldloom.ai/internal/persistence/archive"
	"worldloom.ai/internal/persistence/store"
	"worldloom.ai/internal/sim/admission"
	"worldloom.ai/internal/sim/pipeline"
	"worldloom.ai/internal/sim/tuning"
	"worldloom.ai/internal/sim/world"
	"worldloom.ai/internal/transport/ws"
)

func main() {
	var (
		addr       = flag.String("addr", ":8080", "http listen address")
		dataDir    = flag.String("data", "./data", "runtime data directory")
		tuningPath = flag.String("tuning", "./configs/tuning.yaml", "path to tuning.yaml")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[server] ", log.LstdFlags|log.Lmicroseconds)

	tune, err := tuning.Load(*tuningPath)
	if err != nil {
		if os.IsNotExist(err) {
			logger.Printf("tuning not found (%s); using defaults", *tuningPath)
			tune = tuning.Defaults()
		} else {
			logger.Fatalf("load tuning: %v", err)
		}
	}

	st, err := store.Open(filepath.Join(*dataDir, "world.db"), logger)
	if err != nil {
		logger.Fatalf("open store: %v", err)
	}
	defer st.Close()

	w := world.New(st, tune, logger)
	if err := w.Load(); err != nil {
		logger.Fatalf("load world: %v", err)
	}
	w.RegisterLandmarks()

	startedAt, _ := json.Marshal(time.Now().UTC().Format(time.RFC3339))
	if err := st.UpsertRule("server_started_at", startedAt); err != nil {
		logger.Printf("record start time: %v", err)
	}

	adm := admission.New(time.Duration(tune.CooldownSeconds*float64(time.Second)), tune.PermitPool)
	decider := decision.NewClient(tune.Decision, logger)
	pipe := pipeline.New(w, adm, decider, logger)

	ctx, cancel := signalContext()
	defer cancel()

	archiveDir := tune.Archive.Dir
	if archiveDir == "" {
		archiveDir = filepath.Join(*dataDir, "archives")
	}
	go archive.RunDaily(ctx, st, archiveDir, tune.Archive.KeepLast, tune.Archive.Compress,
		time.Duration(tune.Archive.IntervalHours)*time.Hour, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(200)
		_, _ = rw.Write([]byte("ok"))
	})
	mux.HandleFunc("/metrics", func(rw http.ResponseWriter, r *http.Request) {
		rw.Header().Set("Content-Type", "text/plain; version=0.0.4")

		// Minimal Prometheus exposition format.
		fmt.Fprintf(rw, "# HELP worldloom_sessions Current number of connected sessions.\n")
		fmt.Fprintf(rw, "# TYPE worldloom_sessions gauge\n")
		fmt.Fprintf(rw, "worldloom_sessions %d\n", w.SessionCount())

		fmt.Fprintf(rw, "# HELP worldloom_permits_in_use Decision permits currently held.\n")
		fmt.Fprintf(rw, "# TYPE worldloom_permits_in_use gauge\n")
		fmt.Fprintf(rw, "worldloom_permits_in_use %d\n", adm.InUse())

		fmt.Fprintf(rw, "# HELP worldloom_permits_capacity Decision permit pool size.\n")
		fmt.Fprintf(rw, "# TYPE worldloom_permits_capacity gauge\n")
		fmt.Fprintf(rw, "worldloom_permits_capacity %d\n", adm.Capacity())

		fmt.Fprintf(rw, "# HELP worldloom_actions_total Lifetime actions recorded.\n")
		fmt.Fprintf(rw, "# TYPE worldloom_actions_total counter\n")
		fmt.Fprintf(rw, "worldloom_actions_total %d\n", w.ActionsTotal())

		fmt.Fprintf(rw, "# HELP worldloom_sessions_reaped_total Lifetime sessions reaped after send failures.\n")
		fmt.Fprintf(rw, "# TYPE worldloom_sessions_reaped_total counter\n")
		fmt.Fprintf(rw, "worldloom_sessions_reaped_total %d\n", w.ReapedTotal())

		if n, err := st.CountLogs(); err == nil {
			fmt.Fprintf(rw, "# HELP worldloom_log_rows Rows currently in the action log.\n")
			fmt.Fprintf(rw, "# TYPE worldloom_log_rows gauge\n")
			fmt.Fprintf(rw, "worldloom_log_rows %d\n", n)
		}
	})

	enableAdminHTTP := envBool("WL_ENABLE_ADMIN_HTTP", defaultEnableAdminHTTP())
	enablePprofHTTP := envBool("WL_ENABLE_PPROF_HTTP", false)
	if enableAdminHTTP {
		// Local-only admin endpoints.
		mux.HandleFunc("/admin/v1/state", func(rw http.ResponseWriter, r *http.Request) {
			if !isLoopbackRemote(r.RemoteAddr) {
				http.Error(rw, "forbidden", http.StatusForbidden)
				return
			}
			logRows, _ := st.CountLogs()
			rw.Header().Set("Content-Type", "application/json")
			resp := struct {
				Sessions     int    `json:"sessions"`
				PermitsInUse int    `json:"permits_in_use"`
				PermitsCap   int    `json:"permits_capacity"`
				Actions      uint64 `json:"actions_total"`
				Reaped       uint64 `json:"sessions_reaped_total"`
				Materials    int    `json:"materials"`
				ObjectTypes  int    `json:"object_types"`
				Supporters   int    `json:"supporters"`
				LogRows      int    `json:"log_rows"`
			}{
				Sessions:     w.SessionCount(),
				PermitsInUse: adm.InUse(),
				PermitsCap:   adm.Capacity(),
				Actions:      w.ActionsTotal(),
				Reaped:       w.ReapedTotal(),
				Materials:    w.MaterialCount(),
				ObjectTypes:  w.ObjectTypeCount(),
				Supporters:   w.SupporterCount(),
				LogRows:      logRows,
			}
			_ = json.NewEncoder(rw).Encode(resp)
		})
		mux.HandleFunc("/admin/v1/archive", func(rw http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodPost {
				rw.WriteHeader(http.StatusMethodNotAllowed)
				return
			}
			if !isLoopbackRemote(r.RemoteAddr) {
				http.Error(rw, "forbidden", http.StatusForbidden)
				return
			}
			res, archived, err := archive.ArchiveAndTrimLogs(st, archiveDir, tune.Archive.KeepLast, tune.Archive.Compress)
			rw.Header().Set("Content-Type", "application/json")
			if err != nil {
				rw.WriteHeader(http.StatusServiceUnavailable)
				_ = json.NewEncoder(rw).Encode(map[string]any{"ok": false, "error": err.Error()})
				return
			}
			_ = json.NewEncoder(rw).Encode(map[string]any{"ok": true, "archived": archived, "result": res})
		})
		mux.HandleFunc("/admin/v1/export", func(rw http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodPost {
				rw.WriteHeader(http.StatusMethodNotAllowed)
				return
			}
			if !isLoopbackRemote(r.RemoteAddr) {
				http.Error(rw, "forbidden", http.StatusForbidden)
				return
			}
			path := filepath.Join(*dataDir, fmt.Sprintf("export_%s.json", time.Now().UTC().Format("20060102_150405")))
			rw.Header().Set("Content-Type", "application/json")
			if err := st.ExportWorld(path); err != nil {
				rw.WriteHeader(http.StatusServiceUnavailable)
				_ = json.NewEncoder(rw).Encode(map[string]any{"ok": false, "error": err.Error()})
				return
			}
			_ = json.NewEncoder(rw).Encode(map[string]any{"ok": true, "path": path})
		})
	} else {
		logger.Printf("admin endpoints disabled (WL_ENABLE_ADMIN_HTTP=false)")
	}
	if enablePprofHTTP {
		mux.HandleFunc("/debug/pprof/", pprof.Index)
		mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
		mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	}
	mux.HandleFunc("/v1/ws", ws.NewServer(w, pipe, logger).Handler())

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

	logger.Printf("listening on %s", *addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatalf("ListenAndServe: %v", err)
	}
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

func isLoopbackRemote(remoteAddr string) bool {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	host = strings.TrimPrefix(host, "[")
	host = strings.TrimSuffix(host, "]")
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

func envBool(key string, def bool) bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv(key))) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return def
	}
}

func defaultEnableAdminHTTP() bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv("DEPLOY_ENV"))) {
	case "staging", "production":
		return false
	default:
		return true
	}
}
