package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/vitaliisemenov/deployctl/internal/config"
	"github.com/vitaliisemenov/deployctl/internal/engine/conn"
	"github.com/vitaliisemenov/deployctl/internal/engine/dialect"
	"github.com/vitaliisemenov/deployctl/internal/engine/history"
	"github.com/vitaliisemenov/deployctl/internal/plan"
	"github.com/vitaliisemenov/deployctl/internal/target"
)

// openTarget bundles one target's live pool with the dialect and plan
// needed to answer a status query against it.
type openTarget struct {
	db *sql.DB
	d  *dialect.Dialect
	tg *target.Target
	pl *plan.Plan
}

type server struct {
	log     *slog.Logger
	targets map[string]openTarget
}

// newServer opens every target named in cfg once at startup. A target
// whose driver can't connect is logged and skipped rather than failing
// the whole process — the other targets still get reported on.
func newServer(cfg *config.Config, log *slog.Logger) (*server, error) {
	if len(cfg.Targets) == 0 {
		return nil, fmt.Errorf("no targets configured")
	}

	pl, err := plan.ParseFile(cfg.Plan.File)
	if err != nil {
		return nil, err
	}

	s := &server{log: log, targets: make(map[string]openTarget, len(cfg.Targets))}
	ctx := context.Background()
	for name, entry := range cfg.Targets {
		tg, err := target.Parse(name, entry.URI, entry.RegistryNamespace, cfg.Plan.TopDir)
		if err != nil {
			log.Warn("skipping target with invalid URI", "target", name, "error", err)
			continue
		}
		d, err := dialect.Lookup(tg.EngineTag)
		if err != nil {
			log.Warn("skipping target with unsupported engine", "target", name, "error", err)
			continue
		}
		db, err := d.Open(ctx, tg.DriverURI())
		if err != nil {
			log.Warn("skipping target that failed to open", "target", name, "error", err)
			continue
		}
		s.targets[name] = openTarget{db: db, d: d, tg: tg, pl: pl}
	}
	if len(s.targets) == 0 {
		return nil, fmt.Errorf("no targets could be opened")
	}
	return s, nil
}

func (s *server) Close() {
	for name, t := range s.targets {
		if err := t.db.Close(); err != nil {
			s.log.Warn("error closing target pool", "target", name, "error", err)
		}
	}
}

type healthzResponse struct {
	Status string `json:"status"`
}

func (s *server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthzResponse{Status: "ok"})
}

type statusResponse struct {
	Target    string   `json:"target"`
	Deployed  bool     `json:"deployed"`
	Change    string   `json:"change,omitempty"`
	Committer string   `json:"committer,omitempty"`
	Committed string   `json:"committed_at,omitempty"`
	Tags      []string `json:"tags,omitempty"`
}

func (s *server) handleStatus(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["target"]
	if name == "" && len(s.targets) == 1 {
		for only := range s.targets {
			name = only
		}
	}

	t, ok := s.targets[name]
	if !ok {
		http.Error(w, fmt.Sprintf("unknown target %q", name), http.StatusNotFound)
		return
	}

	c := conn.NewDBConnection(t.d.Tag, t.d.ParamStyle, t.db)
	ev, deployed, err := history.CurrentState(r.Context(), c, t.d, t.tg, t.pl.ProjectName)
	if err != nil {
		s.log.Error("status query failed", "target", name, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	resp := statusResponse{Target: name, Deployed: deployed}
	if deployed {
		resp.Change = ev.Change
		resp.Committer = fmt.Sprintf("%s <%s>", ev.CommitterName, ev.CommitterEmail)
		resp.Committed = ev.CommittedAt.Format("2006-01-02T15:04:05Z07:00")
		resp.Tags = ev.Tags
	}
	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
