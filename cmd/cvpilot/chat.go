package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"time"

	"github.com/chzyer/readline"

	"github.com/cvpilot/cvpilot/pkg/checkpoint"
	"github.com/cvpilot/cvpilot/pkg/config"
	"github.com/cvpilot/cvpilot/pkg/events"
	"github.com/cvpilot/cvpilot/pkg/logger"
	"github.com/cvpilot/cvpilot/pkg/providers"
	"github.com/cvpilot/cvpilot/pkg/session"
)

type chatOptions struct {
	configPath   string
	conversation string
	message      string
	debug        bool
}

func runChat(opts chatOptions) error {
	cfg, err := config.LoadConfig(opts.configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if opts.debug {
		cfg.Log.Level = "debug"
	}
	logger.Init(cfg.Log.Level, cfg.Log.JSON)
	defer logger.Sync()

	provider, err := providers.CreateProvider(cfg)
	if err != nil {
		return err
	}

	var ckpt checkpoint.Store
	store, err := checkpoint.NewSQLiteStore(cfg.SQLitePath())
	if err != nil {
		logger.WarnCF("cli", "Checkpointing disabled",
			map[string]interface{}{"error": err.Error()})
	} else {
		ckpt = store
	}

	mgr := session.NewManager(cfg, provider, ckpt, nil)
	defer mgr.Close()

	idleTimeout := time.Duration(cfg.Session.IdleTimeoutMinutes) * time.Minute
	if err := mgr.StartReaper(cfg.Session.ReapCron, idleTimeout); err != nil {
		logger.WarnCF("cli", "Session reaper not started",
			map[string]interface{}{"error": err.Error()})
	}

	sess, err := mgr.GetOrCreate(opts.conversation, nil)
	if err != nil {
		return err
	}
	go watchEvents(sess.Stream, opts.debug)

	if strings.TrimSpace(opts.message) != "" {
		answer, err := runTurn(mgr, opts.conversation, opts.message)
		if err != nil {
			return err
		}
		fmt.Printf("\n%s %s\n", appName, answer)
		return nil
	}

	fmt.Printf("%s Interactive mode (Ctrl+C to exit)\n\n", appName)
	interactiveMode(mgr, opts.conversation)
	return nil
}

// runTurn sends one utterance, converting Ctrl+C during the turn into a
// stop request instead of killing the process.
func runTurn(mgr *session.Manager, conversation, utterance string) (string, error) {
	interrupts := make(chan os.Signal, 1)
	signal.Notify(interrupts, os.Interrupt)
	done := make(chan struct{})
	go func() {
		select {
		case <-interrupts:
			mgr.Stop(conversation)
		case <-done:
		}
	}()
	defer func() {
		signal.Stop(interrupts)
		close(done)
	}()

	return mgr.Turn(context.Background(), conversation, utterance)
}

func interactiveMode(mgr *session.Manager, conversation string) {
	prompt := fmt.Sprintf("%s You: ", appName)

	rl, err := readline.NewEx(&readline.Config{
		Prompt:          prompt,
		HistoryFile:     filepath.Join(os.TempDir(), ".cvpilot_history"),
		HistoryLimit:    100,
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		fmt.Printf("Error initializing readline: %v\n", err)
		fmt.Println("Falling back to simple input mode...")
		simpleInteractiveMode(mgr, conversation)
		return
	}
	defer rl.Close()

	for {
		line, err := rl.Readline()
		if err != nil {
			if err == readline.ErrInterrupt || err == io.EOF {
				fmt.Println("\nGoodbye!")
				return
			}
			fmt.Printf("Error reading input: %v\n", err)
			continue
		}

		input := strings.TrimSpace(line)
		if input == "" {
			continue
		}
		if input == "exit" || input == "quit" {
			fmt.Println("Goodbye!")
			return
		}

		answer, err := runTurn(mgr, conversation, input)
		if err != nil {
			fmt.Printf("Error: %v\n", err)
			continue
		}
		fmt.Printf("\n%s %s\n\n", appName, answer)
	}
}

func simpleInteractiveMode(mgr *session.Manager, conversation string) {
	reader := bufio.NewReader(os.Stdin)
	for {
		fmt.Printf("%s You: ", appName)
		line, err := reader.ReadString('\n')
		if err != nil {
			if err == io.EOF {
				fmt.Println("\nGoodbye!")
				return
			}
			fmt.Printf("Error reading input: %v\n", err)
			continue
		}

		input := strings.TrimSpace(line)
		if input == "" {
			continue
		}
		if input == "exit" || input == "quit" {
			fmt.Println("Goodbye!")
			return
		}

		answer, err := runTurn(mgr, conversation, input)
		if err != nil {
			fmt.Printf("Error: %v\n", err)
			continue
		}
		fmt.Printf("\n%s %s\n\n", appName, answer)
	}
}

// watchEvents renders agent activity while a turn runs. Final answers
// are printed by the REPL from the turn result, so answer events are
// skipped here to avoid double output.
func watchEvents(stream *events.Stream, debug bool) {
	ctx := context.Background()
	for {
		ev, ok := stream.Consume(ctx)
		if !ok {
			return
		}
		switch ev.Type {
		case events.KindToolCall:
			fmt.Printf("  [tool] %v %v\n", ev.Data["name"], ev.Data["args"])
		case events.KindToolResult:
			if debug {
				fmt.Printf("  [result] %v\n", ev.Data["result"])
			}
		case events.KindThought:
			if debug {
				fmt.Printf("  [thought] %v\n", ev.Data["content"])
			}
		case events.KindError:
			fmt.Printf("  [error] %v: %v\n", ev.Data["type"], ev.Data["message"])
		}
	}
}
