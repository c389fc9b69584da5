package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/cvpilot/cvpilot/pkg/checkpoint"
	"github.com/cvpilot/cvpilot/pkg/config"
	"github.com/cvpilot/cvpilot/pkg/memory"
)

func executeCLI() error {
	root := buildRootCommand()
	return root.Execute()
}

func buildRootCommand() *cobra.Command {
	var showVersion bool

	root := &cobra.Command{
		Use:   "cvpilot",
		Short: "Conversational resume assistant with tool-driven analysis and editing",
		Long: strings.TrimSpace(`cvpilot is a chat agent for working on your resume.

Load a resume from markdown, ask for section analyses, and apply the
suggested optimizations from a single conversation. Conversations are
checkpointed to SQLite and survive restarts.`),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if showVersion {
				printVersion()
				return nil
			}
			_ = cmd.Help()
			return fmt.Errorf("a subcommand is required")
		},
	}
	root.CompletionOptions.DisableDefaultCmd = true
	root.Flags().BoolVarP(&showVersion, "version", "v", false, "Show build/version metadata")

	root.AddCommand(newInitCommand())
	root.AddCommand(newChatCommand())
	root.AddCommand(newSessionsCommand())
	root.AddCommand(newVersionCommand())

	return root
}

func defaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".cvpilot", "config.json")
	}
	return filepath.Join(home, ".cvpilot", "config.json")
}

func newInitCommand() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:     "init",
		Short:   "Write a default ~/.cvpilot/config.json",
		Example: "  cvpilot init",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := defaultConfigPath()
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			}
			if err := config.SaveConfig(path, config.DefaultConfig()); err != nil {
				return err
			}
			fmt.Printf("Wrote %s\n", path)
			fmt.Println("Set provider.api_key (or CVPILOT_PROVIDER_API_KEY) before chatting.")
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing config file")
	return cmd
}

func newChatCommand() *cobra.Command {
	var (
		configPath   string
		conversation string
		message      string
		debug        bool
	)

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Chat with the resume assistant",
		Long:  "Run an interactive chat session or send a one-shot message.",
		Example: strings.Join([]string{
			"  cvpilot chat",
			"  cvpilot chat --conversation resume-2026",
			"  cvpilot chat --message \"load my resume at ~/cv.md\"",
		}, "\n"),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runChat(chatOptions{
				configPath:   configPath,
				conversation: conversation,
				message:      message,
				debug:        debug,
			})
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath(), "Path to config file")
	cmd.Flags().StringVarP(&conversation, "conversation", "s", "cli:default", "Conversation id for continuity")
	cmd.Flags().StringVarP(&message, "message", "m", "", "One-shot message to send")
	cmd.Flags().BoolVarP(&debug, "debug", "d", false, "Print thoughts and tool results")

	return cmd
}

func newSessionsCommand() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "Manage checkpointed conversations",
	}
	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", defaultConfigPath(), "Path to config file")

	openStore := func() (*checkpoint.SQLiteStore, error) {
		cfg, err := config.LoadConfig(configPath)
		if err != nil {
			return nil, err
		}
		return checkpoint.NewSQLiteStore(cfg.SQLitePath())
	}

	list := &cobra.Command{
		Use:     "list",
		Short:   "List saved conversations",
		Example: "  cvpilot sessions list",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			ids, err := store.List()
			if err != nil {
				return err
			}
			if len(ids) == 0 {
				fmt.Println("No saved conversations.")
				return nil
			}
			for _, id := range ids {
				title := ""
				if blob, err := store.Load(id); err == nil {
					var snap checkpoint.Snapshot
					if json.Unmarshal(blob, &snap) == nil {
						title = snap.Title
					}
				}
				if title == "" {
					fmt.Println(id)
					continue
				}
				fmt.Printf("%s\t%s\n", id, title)
			}
			return nil
		},
	}

	del := &cobra.Command{
		Use:     "delete <id>",
		Short:   "Delete a saved conversation",
		Args:    cobra.ExactArgs(1),
		Example: "  cvpilot sessions delete cli:default",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			if err := store.Delete(args[0]); err != nil {
				return err
			}
			fmt.Printf("Deleted %s\n", args[0])
			return nil
		},
	}

	show := &cobra.Command{
		Use:     "show <id>",
		Short:   "Show a saved conversation transcript",
		Args:    cobra.ExactArgs(1),
		Example: "  cvpilot sessions show cli:default",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			blob, err := store.Load(args[0])
			if err != nil {
				return err
			}
			var snap checkpoint.Snapshot
			if err := json.Unmarshal(blob, &snap); err != nil {
				return fmt.Errorf("corrupt checkpoint %s: %w", args[0], err)
			}

			if snap.Title != "" {
				fmt.Printf("%s (updated %s)\n\n", snap.Title, snap.UpdatedAt.Local().Format("2006-01-02 15:04"))
			}
			for _, msg := range snap.Messages {
				switch msg.Role {
				case memory.RoleUser:
					fmt.Printf("You: %s\n", msg.Content)
				case memory.RoleAssistant:
					if msg.Content != "" {
						fmt.Printf("%s: %s\n", appName, msg.Content)
					}
					for _, call := range msg.ToolCalls {
						fmt.Printf("  [tool] %s %s\n", call.Name, call.Arguments)
					}
				}
			}
			return nil
		},
	}

	cmd.AddCommand(list, del, show)
	return cmd
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show build/version metadata",
		Run: func(cmd *cobra.Command, args []string) {
			printVersion()
		},
	}
}
