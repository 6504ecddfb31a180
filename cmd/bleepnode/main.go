package main

import (
	"log"
	"os"

	"github.com/TaahirSaif/BLEEP-V1-sub001/api"
	"github.com/TaahirSaif/BLEEP-V1-sub001/checkpoint"
	"github.com/TaahirSaif/BLEEP-V1-sub001/config"
	"github.com/TaahirSaif/BLEEP-V1-sub001/crossshard"
	"github.com/TaahirSaif/BLEEP-V1-sub001/detection"
	"github.com/TaahirSaif/BLEEP-V1-sub001/healing"
	"github.com/TaahirSaif/BLEEP-V1-sub001/network"
	"github.com/TaahirSaif/BLEEP-V1-sub001/rollback"
	"github.com/TaahirSaif/BLEEP-V1-sub001/state"
	"github.com/TaahirSaif/BLEEP-V1-sub001/store"
)

func main() {
	var cfg *config.Config
	var err error
	if path := os.Getenv("CONFIG_PATH"); path != "" {
		cfg, err = config.LoadConfig(path)
		if err != nil {
			log.Fatalf("Failed to load config from %s: %v", path, err)
		}
	} else {
		cfg = config.DefaultConfig()
		if err := cfg.Validate(); err != nil {
			log.Fatalf("Invalid default config: %v", err)
		}
	}
	log.Printf("Starting recovery node: %d shards, checkpoint interval %d blocks", cfg.NumShards, cfg.BlocksPerCheckpoint)

	db, err := store.NewDatabase(cfg.DataDir)
	if err != nil {
		log.Fatalf("Failed to open database at %s: %v", cfg.DataDir, err)
	}
	defer db.Close()

	records, err := store.NewRecordStore(db)
	if err != nil {
		log.Fatalf("Failed to initialize record store: %v", err)
	}

	checkpoints, err := checkpoint.NewStoreWithRecorder(cfg, records)
	if err != nil {
		log.Fatalf("Failed to initialize checkpoint store: %v", err)
	}

	history := detection.NewHistory(records)
	isolation := healing.NewIsolationManager(records)

	// Rehydrate from the last run so a restart never forgets isolated
	// shards, recorded faults or finalized rollback targets.
	if err := checkpoints.LoadPersisted(records, cfg.NumShards); err != nil {
		log.Fatalf("Failed to load persisted checkpoints: %v", err)
	}
	if err := history.LoadPersisted(records, cfg.NumShards); err != nil {
		log.Fatalf("Failed to load persisted fault history: %v", err)
	}
	isolation.LoadPersisted(records, cfg.NumShards)

	locks := crossshard.NewLockManager()
	txManager := crossshard.NewManager(cfg, locks, isolation, records)

	shardState := state.NewStateManager(cfg.NumShards)
	stakes := state.NewStakeRegistry()

	engine, err := rollback.NewEngine(checkpoints, txManager, shardState, shardState, config.InitialTotalSupply, records)
	if err != nil {
		log.Fatalf("Failed to initialize rollback engine: %v", err)
	}

	slashing := healing.NewSlashingManager(stakes, records)
	progress := healing.NewTracker()
	hub := network.NewEventHub()

	orchestrator, err := healing.NewOrchestrator(cfg.MinValidatorQuorum, history, isolation, slashing, engine, checkpoints, progress, txManager, stakes, records, hub)
	if err != nil {
		log.Fatalf("Failed to initialize orchestrator: %v", err)
	}
	if err := orchestrator.LoadPersisted(records); err != nil {
		log.Fatalf("Failed to load persisted recoveries: %v", err)
	}

	server := api.NewServer(orchestrator, isolation, history, checkpoints, engine, records, hub)
	if err := server.ListenAndServe(cfg.APIAddress); err != nil {
		log.Fatalf("Audit API stopped: %v", err)
	}
}
