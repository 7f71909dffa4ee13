package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/chzyer/readline"
	"github.com/spf13/cobra"

	"github.com/hollowaylabs/agentkeep/pkg/config"
	"github.com/hollowaylabs/agentkeep/pkg/engine"
	"github.com/hollowaylabs/agentkeep/pkg/store"
	"github.com/hollowaylabs/agentkeep/pkg/vault"
)

func executeCLI() error {
	return buildRootCommand().Execute()
}

func buildRootCommand() *cobra.Command {
	var showVersion bool
	var configPath string

	root := &cobra.Command{
		Use:   "agentkeep",
		Short: "Persistent state engine: versioned records, tiered memory, sealed secrets",
		Long: strings.TrimSpace(`agentkeep keeps an agent's durable state: an append-only transcript,
a bounded tiered memory folded down by a summarization oracle, and a vault
for the oracle credential sealed under deployment-bound key material.`),
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
	root.PersistentFlags().StringVarP(&configPath, "config", "c", defaultConfigPath(), "Path to config file")

	root.AddCommand(newInitCommand(&configPath))
	root.AddCommand(newShellCommand(&configPath))
	root.AddCommand(newRunCommand(&configPath))
	root.AddCommand(newIngestCommand(&configPath))
	root.AddCommand(newHistoryCommand(&configPath))
	root.AddCommand(newMemoryCommand(&configPath))
	root.AddCommand(newCompressCommand(&configPath))
	root.AddCommand(newSecretCommand(&configPath))
	root.AddCommand(newProfileCommand(&configPath))
	root.AddCommand(newLookupsCommand(&configPath))
	root.AddCommand(newStatusCommand(&configPath))
	root.AddCommand(newClearCommand(&configPath))
	root.AddCommand(newVersionCommand())

	return root
}

func withRuntime(configPath *string, fn func(ctx context.Context, rt *runtime) error) error {
	ctx := context.Background()
	rt, err := openRuntime(ctx, *configPath)
	if err != nil {
		return err
	}
	defer rt.Close()
	return fn(ctx, rt)
}

func newInitCommand(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:     "init",
		Short:   "Write a default config file and create the data directory",
		Example: "  agentkeep init",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := os.Stat(*configPath); err == nil {
				return fmt.Errorf("config already exists at %s", *configPath)
			}
			cfg := config.DefaultConfig()
			if err := config.SaveConfig(*configPath, cfg); err != nil {
				return err
			}
			if err := os.MkdirAll(cfg.DataPath("."), 0o700); err != nil {
				return err
			}
			fmt.Printf("Wrote %s\n", *configPath)
			fmt.Printf("Data directory: %s\n", filepath.Dir(cfg.DBPath()))
			fmt.Println("Next: agentkeep secret set")
			return nil
		},
	}
}

func newShellCommand(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "shell",
		Short: "Interactive session against the local state engine",
		Long: "Type messages to ingest them as the user role. Slash commands inspect state:\n" +
			"/memory /history /metrics /compress /lookups /quit",
		Example: "  agentkeep shell",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(configPath, runShell)
		},
	}
}

func runShell(ctx context.Context, rt *runtime) error {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "agentkeep> ",
		HistoryFile:     filepath.Join(os.TempDir(), ".agentkeep_history"),
		HistoryLimit:    100,
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		fmt.Printf("Error initializing readline: %v\n", err)
		fmt.Println("Falling back to simple input mode...")
		return simpleShell(ctx, rt)
	}
	defer rl.Close()

	for {
		line, err := rl.Readline()
		if err != nil {
			if err == readline.ErrInterrupt || err == io.EOF {
				fmt.Println("\nGoodbye!")
				return nil
			}
			fmt.Printf("Error reading input: %v\n", err)
			continue
		}
		input := strings.TrimSpace(line)
		if input == "" {
			continue
		}
		if input == "/quit" || input == "exit" || input == "quit" {
			fmt.Println("Goodbye!")
			return nil
		}
		if err := shellDispatch(ctx, rt, input); err != nil {
			fmt.Printf("Error: %v\n", err)
		}
	}
}

func simpleShell(ctx context.Context, rt *runtime) error {
	scanner := bufio.NewScanner(os.Stdin)
	fmt.Print("agentkeep> ")
	for scanner.Scan() {
		input := strings.TrimSpace(scanner.Text())
		if input == "/quit" || input == "exit" || input == "quit" {
			return nil
		}
		if input != "" {
			if err := shellDispatch(ctx, rt, input); err != nil {
				fmt.Printf("Error: %v\n", err)
			}
		}
		fmt.Print("agentkeep> ")
	}
	return scanner.Err()
}

func shellDispatch(ctx context.Context, rt *runtime, input string) error {
	switch input {
	case "/memory":
		return printMemory(ctx, rt)
	case "/history":
		return printHistory(ctx, rt, 10)
	case "/metrics":
		return printStatus(ctx, rt)
	case "/lookups":
		return printLookups(ctx, rt)
	case "/compress":
		if err := rt.engine.Compress(ctx, localCaller); err != nil {
			return err
		}
		fmt.Println("compressed")
		return nil
	default:
		if strings.HasPrefix(input, "/") {
			return fmt.Errorf("unknown command %s", input)
		}
		seq, err := rt.engine.Ingest(ctx, localCaller, store.RoleUser, input)
		if err != nil {
			return err
		}
		fmt.Printf("stored message #%d\n", seq)
		return nil
	}
}

func newRunCommand(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:     "run",
		Short:   "Run the drain worker and heartbeat until interrupted",
		Example: "  agentkeep run",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(configPath, func(ctx context.Context, rt *runtime) error {
				ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
				defer stop()
				w := engine.NewWorker(rt.engine, rt.cfg.Heartbeat.Schedule, rt.cfg.Heartbeat.Enabled)
				w.Run(ctx)
				return nil
			})
		},
	}
}

func newIngestCommand(configPath *string) *cobra.Command {
	var role string
	var caller string

	cmd := &cobra.Command{
		Use:     "ingest <message>",
		Short:   "Append one message to the transcript",
		Example: "  agentkeep ingest \"remember that I prefer tabs\"",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if role != store.RoleUser && role != store.RoleAssistant {
				return fmt.Errorf("role must be %q or %q", store.RoleUser, store.RoleAssistant)
			}
			return withRuntime(configPath, func(ctx context.Context, rt *runtime) error {
				seq, err := rt.engine.Ingest(ctx, caller, role, args[0])
				if err != nil {
					return err
				}
				fmt.Printf("stored message #%d\n", seq)
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&role, "role", "r", store.RoleUser, "Message role (user or assistant)")
	cmd.Flags().StringVar(&caller, "caller", localCaller, "Caller identity for authorization")
	return cmd
}

func newHistoryCommand(configPath *string) *cobra.Command {
	var limit uint64

	cmd := &cobra.Command{
		Use:     "history",
		Short:   "Show the most recent transcript messages",
		Example: "  agentkeep history --limit 20",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(configPath, func(ctx context.Context, rt *runtime) error {
				return printHistory(ctx, rt, limit)
			})
		},
	}
	cmd.Flags().Uint64VarP(&limit, "limit", "n", 10, "Number of messages to show")
	return cmd
}

func printHistory(ctx context.Context, rt *runtime, limit uint64) error {
	msgs, err := rt.engine.History(ctx, localCaller, limit)
	if err != nil {
		return err
	}
	if len(msgs) == 0 {
		fmt.Println("(no messages)")
		return nil
	}
	for _, m := range msgs {
		ts := time.UnixMilli(m.CreatedAtMS).Format(time.RFC3339)
		fmt.Printf("#%-5d %s %-9s %s\n", m.Seq, ts, m.Role, m.Content)
	}
	return nil
}

func newMemoryCommand(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:     "memory",
		Short:   "Show the tiered memory state",
		Example: "  agentkeep memory",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(configPath, func(ctx context.Context, rt *runtime) error {
				return printMemory(ctx, rt)
			})
		},
	}
}

func printMemory(ctx context.Context, rt *runtime) error {
	st, err := rt.engine.Memory(ctx, localCaller)
	if err != nil {
		return err
	}
	fmt.Printf("identity:  %s\n", st.Identity)
	fmt.Printf("thread:    %s\n", st.Thread)
	fmt.Printf("episodes:  %s\n", st.Episodes)
	fmt.Printf("priors:    %s\n", st.Priors)
	fmt.Printf("watermark: %d\n", st.LastCompressedSeq)
	if st.UpdatedAtMS > 0 {
		fmt.Printf("updated:   %s\n", time.UnixMilli(st.UpdatedAtMS).Format(time.RFC3339))
	}
	return nil
}

func newCompressCommand(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:     "compress",
		Short:   "Fold pending transcript messages into memory now",
		Example: "  agentkeep compress",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(configPath, func(ctx context.Context, rt *runtime) error {
				if err := rt.engine.Compress(ctx, localCaller); err != nil {
					if errors.Is(err, vault.ErrNotConfigured) {
						return fmt.Errorf("no oracle credential stored, run: agentkeep secret set")
					}
					return err
				}
				fmt.Println("compressed")
				return nil
			})
		},
	}
}

func newSecretCommand(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "secret",
		Short: "Manage the sealed oracle credential",
	}

	setCmd := &cobra.Command{
		Use:     "set",
		Short:   "Read a credential from stdin and seal it into the vault",
		Example: "  echo -n \"$OPENROUTER_API_KEY\" | agentkeep secret set",
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := io.ReadAll(io.LimitReader(os.Stdin, 4096))
			if err != nil {
				return err
			}
			secret := strings.TrimSpace(string(data))
			if secret == "" {
				return fmt.Errorf("empty credential")
			}
			return withRuntime(configPath, func(ctx context.Context, rt *runtime) error {
				if err := rt.engine.SetSecret(ctx, localCaller, secret); err != nil {
					return err
				}
				fmt.Println("credential sealed")
				return nil
			})
		},
	}

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Report whether a credential is stored, without revealing it",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(configPath, func(ctx context.Context, rt *runtime) error {
				has, err := rt.engine.HasSecret(ctx, localCaller)
				if err != nil {
					return err
				}
				if has {
					fmt.Println("credential: stored (sealed)")
				} else {
					fmt.Println("credential: not configured")
				}
				return nil
			})
		},
	}

	cmd.AddCommand(setCmd, statusCmd)
	return cmd
}

func newProfileCommand(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "profile",
		Short: "Show or update the agent profile",
	}

	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Print the profile (credentials always redacted)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(configPath, func(ctx context.Context, rt *runtime) error {
				p, err := rt.engine.Profile(ctx, localCaller)
				if err != nil {
					return err
				}
				fmt.Printf("persona:           %s\n", p.Persona)
				fmt.Printf("model:             %s\n", p.Model)
				fmt.Printf("endpoint:          %s\n", p.Endpoint)
				fmt.Printf("compress interval: %d\n", p.CompressInterval)
				fmt.Printf("context limit:     %d messages\n", p.MaxContextMessages)
				fmt.Printf("response limit:    %d bytes\n", p.MaxResponseBytes)
				return nil
			})
		},
	}

	var (
		persona  string
		model    string
		endpoint string
		interval uint32
	)
	setCmd := &cobra.Command{
		Use:     "set",
		Short:   "Update profile fields",
		Example: "  agentkeep profile set --model openai/gpt-4o-mini --interval 4",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(configPath, func(ctx context.Context, rt *runtime) error {
				p, err := rt.engine.Profile(ctx, localCaller)
				if err != nil {
					return err
				}
				if cmd.Flags().Changed("persona") {
					p.Persona = persona
				}
				if cmd.Flags().Changed("model") {
					p.Model = model
				}
				if cmd.Flags().Changed("endpoint") {
					p.Endpoint = endpoint
				}
				if cmd.Flags().Changed("interval") {
					p.CompressInterval = interval
				}
				if err := rt.engine.SetProfile(ctx, localCaller, p); err != nil {
					return err
				}
				fmt.Println("profile updated")
				return nil
			})
		},
	}
	setCmd.Flags().StringVar(&persona, "persona", "", "Agent persona")
	setCmd.Flags().StringVar(&model, "model", "", "Oracle model")
	setCmd.Flags().StringVar(&endpoint, "endpoint", "", "Oracle chat-completions endpoint")
	setCmd.Flags().Uint32Var(&interval, "interval", 0, "Messages per compression (0 disables)")

	cmd.AddCommand(showCmd, setCmd)
	return cmd
}

func newLookupsCommand(configPath *string) *cobra.Command {
	var record []string

	cmd := &cobra.Command{
		Use:     "lookups",
		Short:   "Show or record web lookup entries",
		Example: "  agentkeep lookups\n  agentkeep lookups --record https://go.dev,\"release notes\"",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(configPath, func(ctx context.Context, rt *runtime) error {
				if len(record) == 2 {
					return rt.engine.RecordLookup(ctx, localCaller, record[0], record[1])
				}
				if len(record) != 0 {
					return fmt.Errorf("--record needs url,summary")
				}
				return printLookups(ctx, rt)
			})
		},
	}
	cmd.Flags().StringSliceVar(&record, "record", nil, "Record an entry as url,summary")
	return cmd
}

func printLookups(ctx context.Context, rt *runtime) error {
	entries, err := rt.engine.RecentLookups(ctx, localCaller)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Println("(no lookups)")
		return nil
	}
	for _, e := range entries {
		ts := time.UnixMilli(e.CreatedAtMS).Format(time.RFC3339)
		fmt.Printf("%s %s\n    %s\n", ts, e.URL, e.Summary)
	}
	return nil
}

func newStatusCommand(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:     "status",
		Short:   "Show counters and recent compression runs",
		Example: "  agentkeep status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(configPath, func(ctx context.Context, rt *runtime) error {
				return printStatus(ctx, rt)
			})
		},
	}
}

func printStatus(ctx context.Context, rt *runtime) error {
	m, err := rt.engine.Metrics(ctx, localCaller)
	if err != nil {
		return err
	}
	fmt.Printf("calls: %d  messages: %d  errors: %d  oracle failures: %d\n",
		m.TotalCalls, m.TotalMessages, m.Errors, m.OracleFailures)

	runs, err := rt.engine.RecentCompressions(ctx, localCaller, 5)
	if err != nil {
		return err
	}
	for _, r := range runs {
		line := fmt.Sprintf("%s  seq %d..%d  %s", r.ID, r.FromSeq, r.ToSeq, r.Status)
		if r.Error != "" {
			line += "  " + r.Error
		}
		fmt.Println(line)
	}
	return nil
}

func newClearCommand(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:       "clear {history|memory|lookups}",
		Short:     "Erase transcript, memory tiers, or the lookup ring",
		Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{"history", "memory", "lookups"},
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(configPath, func(ctx context.Context, rt *runtime) error {
				switch args[0] {
				case "history":
					n, err := rt.engine.ClearHistory(ctx, localCaller)
					if err != nil {
						return err
					}
					fmt.Printf("deleted %d messages\n", n)
				case "memory":
					if err := rt.engine.ClearMemory(ctx, localCaller); err != nil {
						return err
					}
					fmt.Println("memory cleared")
				case "lookups":
					if err := rt.engine.ClearLookups(ctx, localCaller); err != nil {
						return err
					}
					fmt.Println("lookups cleared")
				default:
					return fmt.Errorf("unknown target %q", args[0])
				}
				return nil
			})
		},
	}
	return cmd
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show build/version metadata",
		RunE: func(cmd *cobra.Command, args []string) error {
			printVersion()
			return nil
		},
	}
}
