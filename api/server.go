package api

import (
	"encoding/json"
	"log"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/rs/cors"

	"github.com/TaahirSaif/BLEEP-V1-sub001/checkpoint"
	"github.com/TaahirSaif/BLEEP-V1-sub001/detection"
	"github.com/TaahirSaif/BLEEP-V1-sub001/healing"
	"github.com/TaahirSaif/BLEEP-V1-sub001/network"
	"github.com/TaahirSaif/BLEEP-V1-sub001/rollback"
	"github.com/TaahirSaif/BLEEP-V1-sub001/store"
	"github.com/TaahirSaif/BLEEP-V1-sub001/types"
)

// Server exposes the read-only audit surface of the recovery subsystem:
// recoveries, isolation status, fault history, checkpoints, rollback
// evidence, receipts and slashings. Nothing here mutates state.
type Server struct {
	orchestrator *healing.Orchestrator
	isolation    *healing.IsolationManager
	history      *detection.History
	checkpoints  *checkpoint.Store
	engine       *rollback.Engine
	records      *store.RecordStore
	hub          *network.EventHub
}

// NewServer wires the audit server. records may be nil on nodes running
// without persistence; the routes depending on it then return not found.
func NewServer(orchestrator *healing.Orchestrator, isolation *healing.IsolationManager, history *detection.History, checkpoints *checkpoint.Store, engine *rollback.Engine, records *store.RecordStore, hub *network.EventHub) *Server {
	return &Server{
		orchestrator: orchestrator,
		isolation:    isolation,
		history:      history,
		checkpoints:  checkpoints,
		engine:       engine,
		records:      records,
		hub:          hub,
	}
}

// Handler builds the routed handler with CORS applied.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/health", s.handleHealth).Methods("GET")
	r.HandleFunc("/recoveries", s.handleListRecoveries).Methods("GET")
	r.HandleFunc("/recoveries/{id}", s.handleGetRecovery).Methods("GET")
	r.HandleFunc("/shards/{shard:[0-9]+}/isolation", s.handleIsolation).Methods("GET")
	r.HandleFunc("/shards/{shard:[0-9]+}/faults", s.handleFaults).Methods("GET")
	r.HandleFunc("/shards/{shard:[0-9]+}/checkpoints", s.handleCheckpoints).Methods("GET")
	r.HandleFunc("/shards/{shard:[0-9]+}/rollbacks", s.handleRollbacks).Methods("GET")
	r.HandleFunc("/shards/{shard:[0-9]+}/receipts", s.handleReceipts).Methods("GET")
	r.HandleFunc("/shards/{shard:[0-9]+}/slashings", s.handleSlashings).Methods("GET")
	r.HandleFunc("/transactions/{coordinator:[0-9]+}/{id}", s.handleGetTransaction).Methods("GET")
	if s.hub != nil {
		r.HandleFunc("/ws/events", s.hub.HandleSubscribe).Methods("GET")
	}
	return cors.Default().Handler(r)
}

// ListenAndServe runs the audit API on addr.
func (s *Server) ListenAndServe(addr string) error {
	log.Printf("Audit API listening on %s", addr)
	return http.ListenAndServe(addr, s.Handler())
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, map[string]interface{}{
		"status":      "ok",
		"epoch":       s.orchestrator.CurrentEpoch(),
		"subscribers": subscriberCount(s.hub),
	})
}

func (s *Server) handleListRecoveries(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, s.orchestrator.ListRecoveries())
}

func (s *Server) handleGetRecovery(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	op, err := s.orchestrator.Operation(id)
	if err != nil && s.records != nil {
		// Pruned from memory does not mean gone; fall back to the
		// persisted record.
		op, err = s.records.GetRecovery(id)
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	writeJSON(w, op)
}

func (s *Server) handleIsolation(w http.ResponseWriter, r *http.Request) {
	shard, ok := shardVar(w, r)
	if !ok {
		return
	}
	writeJSON(w, s.isolation.Record(shard))
}

func (s *Server) handleFaults(w http.ResponseWriter, r *http.Request) {
	shard, ok := shardVar(w, r)
	if !ok {
		return
	}
	writeJSON(w, s.history.ListByShard(shard))
}

func (s *Server) handleCheckpoints(w http.ResponseWriter, r *http.Request) {
	shard, ok := shardVar(w, r)
	if !ok {
		return
	}
	writeJSON(w, s.checkpoints.ListByShard(shard))
}

func (s *Server) handleRollbacks(w http.ResponseWriter, r *http.Request) {
	shard, ok := shardVar(w, r)
	if !ok {
		return
	}
	writeJSON(w, s.engine.EvidenceForShard(shard))
}

func (s *Server) handleReceipts(w http.ResponseWriter, r *http.Request) {
	shard, ok := shardVar(w, r)
	if !ok {
		return
	}
	if s.records == nil {
		http.Error(w, "receipt records unavailable", http.StatusNotFound)
		return
	}
	receipts, err := s.records.ListReceipts(shard)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, receipts)
}

func (s *Server) handleSlashings(w http.ResponseWriter, r *http.Request) {
	shard, ok := shardVar(w, r)
	if !ok {
		return
	}
	if s.records == nil {
		http.Error(w, "slashing records unavailable", http.StatusNotFound)
		return
	}
	slashings, err := s.records.ListSlashings(shard)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, slashings)
}

func (s *Server) handleGetTransaction(w http.ResponseWriter, r *http.Request) {
	if s.records == nil {
		http.Error(w, "transaction records unavailable", http.StatusNotFound)
		return
	}
	coordinator, err := strconv.ParseUint(mux.Vars(r)["coordinator"], 10, 64)
	if err != nil {
		http.Error(w, "invalid coordinator shard id", http.StatusBadRequest)
		return
	}
	var id types.TransactionID
	if err := id.UnmarshalText([]byte(mux.Vars(r)["id"])); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	tx, err := s.records.GetTransaction(types.ShardID(coordinator), id)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	writeJSON(w, tx)
}

func shardVar(w http.ResponseWriter, r *http.Request) (types.ShardID, bool) {
	raw := mux.Vars(r)["shard"]
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		http.Error(w, "invalid shard id", http.StatusBadRequest)
		return 0, false
	}
	return types.ShardID(id), true
}

func subscriberCount(hub *network.EventHub) int {
	if hub == nil {
		return 0
	}
	return hub.SubscriberCount()
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("Failed to encode response: %v", err)
	}
}
