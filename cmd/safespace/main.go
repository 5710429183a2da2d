package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/safespace/narratives/internal/config"
	"github.com/safespace/narratives/internal/llm"
	"github.com/safespace/narratives/internal/llm/providers/openaicompat"
	"github.com/safespace/narratives/internal/scenario"
	"github.com/safespace/narratives/internal/telemetry"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "chat":
		runChat(os.Args[2:])
	case "serve":
		runServe(os.Args[2:])
	case "scenarios":
		runScenarios(os.Args[2:])
	case "history":
		runHistory(os.Args[2:])
	default:
		usage()
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage:")
	fmt.Fprintln(os.Stderr, "  safespace chat --scenario <id> [--config <file.yaml>]")
	fmt.Fprintln(os.Stderr, "  safespace serve [--config <file.yaml>] [--addr <host:port>]")
	fmt.Fprintln(os.Stderr, "  safespace scenarios [--config <file.yaml>]")
	fmt.Fprintln(os.Stderr, "  safespace history [--config <file.yaml>] [--limit <n>] [--id <conversation>]")
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, "error:", err)
	os.Exit(1)
}

// runtime bundles the collaborators every subcommand needs.
type runtime struct {
	cfg       config.Config
	logger    *slog.Logger
	scenarios *scenario.Registry
}

func loadRuntime(configPath string) (*runtime, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	logger, err := telemetry.InitLogger(cfg)
	if err != nil {
		return nil, err
	}
	reg := scenario.NewRegistry()
	if err := reg.LoadDir(cfg.ScenarioDir); err != nil {
		return nil, err
	}
	return &runtime{cfg: cfg, logger: logger, scenarios: reg}, nil
}

// buildClient wires the single OpenAI-compatible provider. Fails fast
// when no API key is configured, before any conversation starts.
func buildClient(cfg config.Config) (*llm.Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	adapter := openaicompat.NewAdapter(openaicompat.Config{
		APIKey:  cfg.APIKey,
		BaseURL: cfg.BaseURL,
		ExtraHeaders: map[string]string{
			"X-Title": cfg.AppTitle,
		},
	})
	client := llm.NewClient()
	client.Register(adapter)
	return client, nil
}

func runScenarios(args []string) {
	var configPath string
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--config":
			i++
			if i >= len(args) {
				fatal(fmt.Errorf("--config requires a value"))
			}
			configPath = args[i]
		default:
			fatal(fmt.Errorf("unknown arg: %s", args[i]))
		}
	}
	rt, err := loadRuntime(configPath)
	if err != nil {
		fatal(err)
	}
	for _, s := range rt.scenarios.List() {
		fmt.Printf("%-24s %s (%s)\n", s.ID, s.Goal, s.NPCName)
	}
}
