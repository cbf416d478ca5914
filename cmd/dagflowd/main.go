// Command dagflowd runs the phase-scheduling engine as an HTTP service:
// register DAG templates, start sessions against them, and inspect
// completed-session statistics.
package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/swarmguard/dagflow/internal/dag"
	"github.com/swarmguard/dagflow/internal/flowcontrol"
	"github.com/swarmguard/dagflow/internal/logging"
	"github.com/swarmguard/dagflow/internal/otelinit"
	"github.com/swarmguard/dagflow/internal/phase"
	"github.com/swarmguard/dagflow/internal/registry"
	"github.com/swarmguard/dagflow/internal/scheduler"
	"github.com/swarmguard/dagflow/internal/store"
	"github.com/swarmguard/dagflow/internal/trigger"
)

type edgeSpec struct {
	From string `json:"from"`
	To   string `json:"to"`
}

type buildRequest struct {
	Name     string            `json:"name"`
	Edges    []edgeSpec        `json:"edges,omitempty"`
	Links    []string          `json:"links,omitempty"` // alternative to Edges: "A->B" or bare "A" expressions
	Singles  []string          `json:"singles,omitempty"`
	AliasMap map[string]string `json:"alias_map,omitempty"`
}

// app bundles the process-wide dependencies HTTP handlers close over.
type app struct {
	reg       *registry.Registry
	db        *store.Store
	templates map[string]*scheduler.Scheduler
	metrics   *otelinit.Metrics
	option    scheduler.Option
	cron      *trigger.CronTrigger
	events    *trigger.EventTrigger
}

type scheduleRequest struct {
	Template string `json:"template"`
	CronExpr string `json:"cron"`
}

func main() {
	service := "dagflowd"
	logging.Init(service)
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	shutdownTrace := otelinit.InitTracer(ctx, service)
	shutdownMetrics, promHandler, metrics := otelinit.InitMetrics(ctx, service)

	scheduler.GlobalInit(8, 4096, &metrics)
	defer scheduler.GlobalDestroy()

	dbPath := os.Getenv("DAGFLOW_DB_PATH")
	if dbPath == "" {
		dbPath = "dagflow.db"
	}
	db, err := store.Open(dbPath, otel.GetMeterProvider().Meter("dagflow-store"))
	if err != nil {
		slog.Error("open store failed", "error", err)
		db = nil
	}

	flowFactory := flowcontrol.NewFactory()
	flowFactory.SetMetrics(&metrics)
	a := &app{
		reg:       registry.New(),
		db:        db,
		templates: make(map[string]*scheduler.Scheduler),
		metrics:   &metrics,
		option: scheduler.Option{
			EnableStatis:     true,
			EnableThreadPool: true,
			EnableTimer:      true,
			EnableTimeout:    true,
			PanicPolicy:      scheduler.PanicDemoteToSkip,
			Metrics:          &metrics,
			FlowFactory:      flowFactory,
			FlowRedo:         flowcontrol.NewRedoFactory(flowFactory),
		},
		cron: trigger.NewCronTrigger(),
	}
	registerBuiltinPhases(a.reg)
	a.cron.Start()
	defer func() {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer stopCancel()
		_ = a.cron.Stop(stopCtx)
	}()

	if natsURL := os.Getenv("NATS_URL"); natsURL != "" {
		nc, err := nats.Connect(natsURL)
		if err != nil {
			slog.Warn("nats connect failed, event trigger disabled", "error", err)
		} else {
			a.events = trigger.NewEventTrigger(nc)
			defer func() {
				_ = a.events.Close()
				nc.Close()
			}()
		}
	}

	mux := http.NewServeMux()
	meter := otel.GetMeterProvider().Meter("dagflow-api")
	runCounter, _ := meter.Int64Counter("dagflow_session_runs_total")
	runErrors, _ := meter.Int64Counter("dagflow_session_run_errors_total")

	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	mux.HandleFunc("/v1/templates", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		var req buildRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		if req.Name == "" {
			http.Error(w, "name required", http.StatusBadRequest)
			return
		}
		edges := make([]dag.Edge, 0, len(req.Edges))
		for _, e := range req.Edges {
			edges = append(edges, dag.Edge{From: e.From, To: e.To})
		}
		singles := req.Singles
		if len(req.Links) > 0 {
			parsedEdges, parsedSingles := dag.ParseExprs(req.Links, "->")
			edges = append(edges, parsedEdges...)
			singles = append(singles, parsedSingles...)
		}
		tmpl := scheduler.New()
		if err := tmpl.BuildDAG(edges, singles, req.AliasMap, a.reg, a.option); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		a.templates[req.Name] = tmpl
		if a.db != nil {
			pairs := make([][2]string, 0, len(req.Edges))
			for _, e := range req.Edges {
				pairs = append(pairs, [2]string{e.From, e.To})
			}
			_ = a.db.PutTemplate(store.TemplateDef{
				Name: req.Name, Edges: pairs, Singles: req.Singles, AliasMap: req.AliasMap,
			})
		}
		w.WriteHeader(http.StatusCreated)
	})

	mux.HandleFunc("/v1/templates/run", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		name := r.URL.Query().Get("name")
		tmpl, ok := a.templates[name]
		if !ok {
			http.Error(w, "template not found", http.StatusNotFound)
			return
		}
		session := scheduler.New()
		if err := session.CopyFrom(tmpl); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		sessCtx := phase.NewContext(time.Now().UnixMilli())
		start := time.Now()
		done, err := session.Start(r.Context(), sessCtx, name)
		if err != nil {
			runErrors.Add(r.Context(), 1, metric.WithAttributes(attribute.String("template", name)))
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		ctxWait, cancelWait := context.WithTimeout(r.Context(), 30*time.Second)
		defer cancelWait()
		if _, err := done.Wait(ctxWait); err != nil {
			runErrors.Add(r.Context(), 1, metric.WithAttributes(attribute.String("template", name)))
			http.Error(w, err.Error(), http.StatusGatewayTimeout)
			return
		}
		runCounter.Add(r.Context(), 1, metric.WithAttributes(attribute.String("template", name)))
		record := session.LastStatRecord()
		if a.db != nil {
			_, _ = a.db.PutSession(store.SessionRecord{
				TemplateName: name,
				StatRecord:   record,
				StartTime:    start,
				EndTime:      time.Now(),
			})
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"stat_record": record})
	})

	mux.HandleFunc("/v1/templates/schedule", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		var req scheduleRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		tmpl, ok := a.templates[req.Template]
		if !ok {
			http.Error(w, "template not found", http.StatusNotFound)
			return
		}
		newCtx := func() phase.ContextHandle { return phase.NewContext(time.Now().UnixMilli()) }
		if err := a.cron.Add(req.Template, req.CronExpr, tmpl, newCtx); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		w.WriteHeader(http.StatusCreated)
	})

	mux.HandleFunc("/v1/templates/subscribe", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if a.events == nil {
			http.Error(w, "event trigger not configured (NATS_URL unset)", http.StatusServiceUnavailable)
			return
		}
		name := r.URL.Query().Get("name")
		subject := r.URL.Query().Get("subject")
		tmpl, ok := a.templates[name]
		if !ok {
			http.Error(w, "template not found", http.StatusNotFound)
			return
		}
		newCtx := func() phase.ContextHandle { return phase.NewContext(time.Now().UnixMilli()) }
		if err := a.events.Subscribe(subject, tmpl, newCtx); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusCreated)
	})

	if promHandler != nil {
		if h, ok := promHandler.(http.Handler); ok {
			mux.Handle("/metrics", h)
		}
	}

	srv := &http.Server{Addr: ":8080", Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			cancel()
		}
	}()
	slog.Info("dagflowd started")
	<-ctx.Done()
	slog.Info("shutdown initiated")

	ctxSd, c2 := context.WithTimeout(context.Background(), 5*time.Second)
	defer c2()
	_ = srv.Shutdown(ctxSd)
	otelinit.Flush(ctxSd, shutdownTrace)
	_ = shutdownMetrics(ctxSd)
	if a.db != nil {
		_ = a.db.Close()
	}
	slog.Info("shutdown complete")
}
