package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/safespace/narratives/internal/convo"
	"github.com/safespace/narratives/internal/history"
	"github.com/safespace/narratives/internal/server"
	"github.com/safespace/narratives/internal/telemetry"
)

func runServe(args []string) {
	var configPath, addr string
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--config":
			i++
			if i >= len(args) {
				fatal(fmt.Errorf("--config requires a value"))
			}
			configPath = args[i]
		case "--addr":
			i++
			if i >= len(args) {
				fatal(fmt.Errorf("--addr requires a value"))
			}
			addr = args[i]
		default:
			fatal(fmt.Errorf("unknown arg: %s", args[i]))
		}
	}

	rt, err := loadRuntime(configPath)
	if err != nil {
		fatal(err)
	}
	client, err := buildClient(rt.cfg)
	if err != nil {
		fatal(err)
	}
	if addr == "" {
		addr = rt.cfg.ListenAddr
	}

	shutdownTelemetry, err := telemetry.Init(context.Background(), rt.cfg)
	if err != nil {
		fatal(err)
	}
	defer shutdownTelemetry()

	store, err := history.Open(rt.cfg.HistoryPath)
	if err != nil {
		fatal(err)
	}
	defer store.Close()

	srv := server.New(server.Config{
		Addr:      addr,
		Client:    client,
		Scenarios: rt.scenarios,
		Engine: convo.Config{
			StreamModel:       rt.cfg.StreamModel,
			StreamTemperature: rt.cfg.StreamTemp,
			EvalModel:         rt.cfg.EvalModel,
			EvalTemperature:   rt.cfg.EvalTemp,
			AutoEndUserTurns:  rt.cfg.AutoEndUserTurns,
			AutoEndDelay:      rt.cfg.AutoEndDelay,
			Logger:            rt.logger,
		},
		Store:  store,
		Logger: rt.logger,
	})
	if err := srv.ListenAndServe(); err != nil {
		fatal(err)
	}
}

func runHistory(args []string) {
	var configPath, id string
	limit := 20
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--config":
			i++
			if i >= len(args) {
				fatal(fmt.Errorf("--config requires a value"))
			}
			configPath = args[i]
		case "--id":
			i++
			if i >= len(args) {
				fatal(fmt.Errorf("--id requires a value"))
			}
			id = args[i]
		case "--limit":
			i++
			if i >= len(args) {
				fatal(fmt.Errorf("--limit requires a value"))
			}
			if _, err := fmt.Sscanf(args[i], "%d", &limit); err != nil {
				fatal(fmt.Errorf("--limit must be a number"))
			}
		default:
			fatal(fmt.Errorf("unknown arg: %s", args[i]))
		}
	}

	rt, err := loadRuntime(configPath)
	if err != nil {
		fatal(err)
	}
	store, err := history.Open(rt.cfg.HistoryPath)
	if err != nil {
		fatal(err)
	}
	defer store.Close()

	ctx := context.Background()
	if id != "" {
		rec, err := store.Get(ctx, id)
		if err != nil {
			fatal(err)
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(rec); err != nil {
			fatal(err)
		}
		return
	}

	recs, err := store.List(ctx, limit)
	if err != nil {
		fatal(err)
	}
	for _, rec := range recs {
		verdict := "-"
		if rec.Evaluation != nil {
			verdict = "needs work"
			if rec.Evaluation.Success {
				verdict = "success"
			}
			if rec.Evaluation.Score != nil {
				verdict = fmt.Sprintf("%s (%.0f/100)", verdict, *rec.Evaluation.Score)
			}
		}
		fmt.Printf("%s  %-24s %s  turns=%d  %s\n",
			rec.EndedAt.Format("2006-01-02 15:04"), rec.ScenarioID, rec.ID, rec.UserTurns, verdict)
	}
}
