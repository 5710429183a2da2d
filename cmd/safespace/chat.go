package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/safespace/narratives/internal/convo"
	"github.com/safespace/narratives/internal/history"
)

// runChat drives one interactive conversation on stdin/stdout.
//
//	/cancel  stop the in-flight response, keep what already arrived
//	/end     end the conversation and evaluate it
//	/quit    leave without evaluating
func runChat(args []string) {
	var configPath, scenarioID string
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--config":
			i++
			if i >= len(args) {
				fatal(fmt.Errorf("--config requires a value"))
			}
			configPath = args[i]
		case "--scenario":
			i++
			if i >= len(args) {
				fatal(fmt.Errorf("--scenario requires a value"))
			}
			scenarioID = args[i]
		default:
			fatal(fmt.Errorf("unknown arg: %s", args[i]))
		}
	}
	if scenarioID == "" {
		usage()
		os.Exit(1)
	}

	rt, err := loadRuntime(configPath)
	if err != nil {
		fatal(err)
	}
	client, err := buildClient(rt.cfg)
	if err != nil {
		fatal(err)
	}
	scn, ok := rt.scenarios.Get(scenarioID)
	if !ok {
		fatal(fmt.Errorf("scenario %s not found (try `safespace scenarios`)", scenarioID))
	}
	store, err := history.Open(rt.cfg.HistoryPath)
	if err != nil {
		fatal(err)
	}
	defer store.Close()

	eng, err := convo.NewEngine(client, scn, convo.Config{
		StreamModel:       rt.cfg.StreamModel,
		StreamTemperature: rt.cfg.StreamTemp,
		EvalModel:         rt.cfg.EvalModel,
		EvalTemperature:   rt.cfg.EvalTemp,
		AutoEndUserTurns:  rt.cfg.AutoEndUserTurns,
		AutoEndDelay:      rt.cfg.AutoEndDelay,
		Logger:            rt.logger,
	})
	if err != nil {
		fatal(err)
	}
	defer eng.Close()

	fmt.Printf("Scenario: %s\nGoal: %s\nTalking with %s. Type /end to finish, /cancel to interrupt, /quit to leave.\n\n",
		scn.ID, scn.Goal, scn.NPCName)

	evaluated := make(chan struct{})
	go printEvents(eng, scn.NPCName, evaluated)

	if err := eng.Start(context.Background()); err != nil {
		fatal(err)
	}

	lines := make(chan string)
	go func() {
		sc := bufio.NewScanner(os.Stdin)
		for sc.Scan() {
			lines <- sc.Text()
		}
		close(lines)
	}()

	for {
		select {
		case <-evaluated:
			archive(store, eng)
			return
		case line, ok := <-lines:
			if !ok {
				// stdin closed: end and evaluate.
				if _, err := eng.End(context.Background()); err == nil {
					<-evaluated
					archive(store, eng)
				}
				return
			}
			switch strings.TrimSpace(line) {
			case "":
				continue
			case "/quit":
				return
			case "/cancel":
				eng.Cancel()
				continue
			case "/end":
				go func() {
					if _, err := eng.End(context.Background()); err != nil {
						fmt.Fprintln(os.Stderr, "error:", err)
					}
				}()
				continue
			}
			if err := eng.Submit(context.Background(), line); err != nil {
				switch {
				case errors.Is(err, convo.ErrBusy):
					fmt.Println("(still responding; /cancel to interrupt)")
				case errors.Is(err, convo.ErrEnded):
					fmt.Println("(conversation has ended)")
				default:
					fmt.Fprintln(os.Stderr, "error:", err)
				}
			}
		}
	}
}

// printEvents renders the engine's event feed. Closes evaluated once the
// final evaluation is in.
func printEvents(eng *convo.Engine, npcName string, evaluated chan struct{}) {
	needLabel := true
	for ev := range eng.Events() {
		switch ev.Kind {
		case convo.EventAssistantDelta:
			if needLabel {
				fmt.Printf("%s: ", npcName)
				needLabel = false
			}
			if d, ok := ev.Data["delta"].(string); ok {
				fmt.Print(d)
			}
		case convo.EventAssistantDone:
			fmt.Print("\n\n> ")
			needLabel = true
		case convo.EventStreamCancelled:
			fmt.Print("\n(cancelled)\n\n> ")
			needLabel = true
		case convo.EventChatFailed:
			fmt.Printf("\n(response failed: %v)\n\n> ", ev.Data["error"])
			needLabel = true
		case convo.EventSignalGain:
			fmt.Printf("  [%v +%v]\n", ev.Data["signal"], ev.Data["delta"])
		case convo.EventConversationEnded:
			fmt.Println("\nConversation ended. Evaluating...")
			needLabel = true
		case convo.EventEvaluationReady:
			printEvaluation(ev.Data)
			close(evaluated)
			return
		}
	}
}

func printEvaluation(data map[string]any) {
	verdict := "needs work"
	if b, ok := data["success"].(bool); ok && b {
		verdict = "success"
	}
	fmt.Printf("\nResult: %s\n", verdict)
	if score, ok := data["score"]; ok {
		fmt.Printf("Score: %v/100\n", score)
	}
	if fb, ok := data["feedback"].(string); ok && fb != "" {
		fmt.Printf("Feedback: %s\n", fb)
	}
	if sum, ok := data["summary"].(string); ok && sum != "" {
		fmt.Printf("Summary: %s\n", sum)
	}
}

func archive(store *history.Store, eng *convo.Engine) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := store.Save(ctx, history.FromEngine(eng)); err != nil {
		fmt.Fprintln(os.Stderr, "warning: could not archive conversation:", err)
	}
}
