package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"cardsync-go/internal/agent"
	"cardsync-go/internal/app"
	"cardsync-go/internal/config"
	"cardsync-go/internal/encryption"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// newAgent reads the config and creates an Agent. The caller must defer a.Close().
// operation identifies the CLI command being run (e.g. "Run", "Backup").
func newAgent(operation string, args []string) (*app.Agent, error) {
	defaults, err := app.GetDefaults()
	if err != nil {
		return nil, fmt.Errorf("getting defaults: %w", err)
	}

	cfg, err := config.ReadFromFile(defaults["config_path"])
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	a, err := app.NewAgent(cfg, operation, strings.Join(args, " "))
	if err != nil {
		if errors.Is(err, agent.ErrLocked) {
			return nil, fmt.Errorf("another cardsync process owns %s: %w", cfg.StateDir, err)
		}
		return nil, fmt.Errorf("initializing agent: %w", err)
	}

	return a, nil
}

// finish closes a and marks the operation failed when err is set.
func finish(a *app.Agent, err *error) {
	if *err != nil {
		a.MarkFailed()
	}
	if cerr := a.Close(); cerr != nil && *err == nil {
		*err = cerr
	}
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func readPassphrase(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)
	b, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("reading passphrase: %w", err)
	}
	return string(b), nil
}

var rootCmd = &cobra.Command{
	Use:          "cardsync",
	Short:        "Field agent for camera card ingest and backup",
	SilenceUsage: true,
}

// config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}

		agentID := uuid.New().String()
		cfg := config.NewConfig(agentID, defaults["base_dir"])

		if err := config.Init(defaults["config_path"], cfg); err != nil {
			return fmt.Errorf("failed to initialize config: %w", err)
		}

		fmt.Printf("Configuration initialized at %s\n", defaults["config_path"])
		fmt.Printf("Agent ID: %s\n", agentID)
		fmt.Printf("Base Dir: %s\n", defaults["base_dir"])
		return nil
	},
}

var configListCmd = &cobra.Command{
	Use:   "list",
	Short: "View configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}

		cfg, err := config.ReadFromFile(defaults["config_path"])
		if err != nil {
			return fmt.Errorf("failed to read config: %w", err)
		}

		fmt.Printf("Configuration from %s:\n\n", defaults["config_path"])
		fmt.Printf("Agent ID:    %s\n", cfg.AgentID)
		fmt.Printf("Base Dir:    %s\n", cfg.BaseDir)
		fmt.Printf("Log Dir:     %s\n", cfg.LogDir)
		fmt.Printf("State Dir:   %s\n", cfg.StateDir)
		fmt.Printf("Database:    %s\n", cfg.Database.Type)
		fmt.Printf("Remote:      %s\n", orNone(cfg.Remote.BaseURL))
		fmt.Printf("Queue:       %s (max %d)\n", cfg.Queue.Type, cfg.Queue.MaxItems)
		fmt.Printf("Media Root:  %s\n", orNone(cfg.Watch.MediaRoot))
		fmt.Printf("Folders:     %s\n", orNone(strings.Join(cfg.Watch.Folders, ", ")))
		fmt.Printf("Backup To:   %s\n", orNone(cfg.Backup.Destination))
		for _, v := range cfg.Vaults {
			fmt.Printf("Vault:       %s (%s)\n", v.Name, v.Type)
		}
		fmt.Printf("Encryption:  %s\n", cfg.Encryption.Type)
		return nil
	},
}

var configKeysCmd = &cobra.Command{
	Use:   "keys",
	Short: "Generate the manifest encryption key pair",
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}
		cfg, err := config.ReadFromFile(defaults["config_path"])
		if err != nil {
			return fmt.Errorf("failed to read config: %w", err)
		}

		enc, err := encryption.NewEncryptorFromConfig(cfg.Encryption)
		if err != nil {
			return err
		}
		if _, ok := enc.(*encryption.AgeEncryptor); !ok {
			fmt.Printf("Encryption type %q needs no keys.\n", cfg.Encryption.Type)
			return nil
		}

		pass, err := readPassphrase("New passphrase: ")
		if err != nil {
			return err
		}
		confirm, err := readPassphrase("Repeat passphrase: ")
		if err != nil {
			return err
		}
		if pass != confirm {
			return fmt.Errorf("passphrases do not match")
		}

		if err := enc.Setup(pass); err != nil {
			return fmt.Errorf("generating keys: %w", err)
		}
		fmt.Printf("Public key:  %s\n", cfg.Encryption.PublicKeyPath)
		fmt.Printf("Private key: %s\n", cfg.Encryption.PrivateKeyPath)
		return nil
	},
}

// run command
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the agent until interrupted",
	RunE: func(cmd *cobra.Command, args []string) (err error) {
		autoBackup, _ := cmd.Flags().GetBool("auto-backup")

		a, err := newAgent("Run", args)
		if err != nil {
			return err
		}
		defer finish(a, &err)

		if autoBackup {
			a.SetAutoBackup(true)
		}

		ctx, stop := signalContext()
		defer stop()

		return a.Run(ctx)
	},
}

// status command
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "View agent status",
	RunE: func(cmd *cobra.Command, args []string) (err error) {
		a, err := newAgent("Status", args)
		if err != nil {
			return err
		}
		defer finish(a, &err)

		// Probe the backend so Online reflects reality, not the optimistic default.
		_ = a.Heartbeat(cmd.Context())
		st := a.Status()
		fmt.Printf("Agent:    %s\n", st.AgentID)
		if st.Online {
			fmt.Printf("Remote:   online since %s\n", st.OnlineSince.Format(time.DateTime))
		} else {
			fmt.Printf("Remote:   offline\n")
		}
		fmt.Printf("Queue:    %d pending\n", st.QueueDepth)
		fmt.Printf("Dedup:    %d fingerprints\n", st.DedupSize)

		if s := st.Session; s != nil {
			fmt.Printf("Session:  %s  card %s  %s\n", s.ID, s.CardID, s.Status)
			fmt.Printf("          mounted at %s since %s\n", s.MountPath, s.StartedAt.Format(time.DateTime))
			fmt.Printf("          remote %s %s\n", s.RemoteSyncStatus, s.RemoteSessionID)
			if b := s.Binding; b != nil {
				fmt.Printf("          camera %d  label %s\n", b.CameraNumber, b.CardLabel)
			}
			if state, err := a.BackupState(s.ID); err == nil && state != nil {
				fmt.Printf("Backup:   %d completed  %d failed  %d bytes  -> %s\n",
					len(state.Completed), len(state.Failed), state.CopiedBytes, state.DestinationRoot)
			}
		} else {
			fmt.Printf("Session:  none\n")
		}
		return nil
	},
}

// backup command
var backupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Back up the active card and verify every file",
	RunE: func(cmd *cobra.Command, args []string) (err error) {
		dest, _ := cmd.Flags().GetString("dest")
		if dest != "" {
			if dest, err = filepath.Abs(dest); err != nil {
				return fmt.Errorf("resolving path: %w", err)
			}
		}

		a, err := newAgent("Backup", args)
		if err != nil {
			return err
		}
		defer finish(a, &err)

		ctx, stop := signalContext()
		defer stop()

		if err := a.StartBackup(ctx, dest); err != nil {
			return err
		}
		a.WaitBackup()

		st := a.BackupStatus()
		fmt.Printf("Backed up %d of %d file(s), %d failed, %d bytes -> %s\n",
			st.Completed, st.Total, st.Failed, st.CopiedBytes, st.Destination)
		if st.Failed > 0 {
			return fmt.Errorf("%d file(s) failed verification; run 'cardsync backup clear-failed' to retry", st.Failed)
		}
		return nil
	},
}

var backupClearFailedCmd = &cobra.Command{
	Use:   "clear-failed [SESSION]",
	Short: "Retry files that failed a previous backup",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) (err error) {
		a, err := newAgent("ClearFailed", args)
		if err != nil {
			return err
		}
		defer finish(a, &err)

		sessionID := ""
		if len(args) > 0 {
			sessionID = args[0]
		}
		n, err := a.ClearFailed(sessionID)
		if err != nil {
			return err
		}
		fmt.Printf("Cleared %d failed file(s)\n", n)
		return nil
	},
}

// queue command
var queueCmd = &cobra.Command{
	Use:   "queue",
	Short: "Inspect outbound requests waiting for the backend",
}

var queueListCmd = &cobra.Command{
	Use:   "list",
	Short: "List queued requests",
	RunE: func(cmd *cobra.Command, args []string) (err error) {
		a, err := newAgent("QueueList", args)
		if err != nil {
			return err
		}
		defer finish(a, &err)

		items := a.QueueItems()
		if len(items) == 0 {
			fmt.Println("Queue is empty.")
			return nil
		}
		for _, it := range items {
			fmt.Printf("%s  %-6s %-24s attempts:%d  next:%s  %s\n",
				it.CreatedAt.Format(time.DateTime),
				it.Method,
				it.Endpoint,
				it.Attempts,
				it.NextAttemptAt.Format(time.DateTime),
				it.LastError,
			)
		}
		return nil
	},
}

var queueDrainCmd = &cobra.Command{
	Use:   "drain",
	Short: "Deliver due queued requests now",
	RunE: func(cmd *cobra.Command, args []string) (err error) {
		a, err := newAgent("QueueDrain", args)
		if err != nil {
			return err
		}
		defer finish(a, &err)

		ctx, stop := signalContext()
		defer stop()

		// The tracker starts optimistic; a heartbeat tells us whether it should be.
		if err := a.Heartbeat(ctx); err != nil {
			fmt.Printf("Backend unreachable: %v\n", err)
		}
		res, err := a.DrainQueue(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("Delivered %d, failed %d, %d remaining\n", res.Succeeded, res.Failed, res.Remaining)
		return nil
	},
}

// session command
var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Manage the card session",
}

var sessionBindCmd = &cobra.Command{
	Use:   "bind",
	Short: "Bind the active card to a camera",
	RunE: func(cmd *cobra.Command, args []string) (err error) {
		camera, _ := cmd.Flags().GetInt("camera")
		label, _ := cmd.Flags().GetString("label")
		if camera <= 0 {
			return fmt.Errorf("--camera must be a positive number")
		}

		a, err := newAgent("BindCard", args)
		if err != nil {
			return err
		}
		defer finish(a, &err)

		sess, outcome, err := a.BindCard(cmd.Context(), camera, label)
		if err != nil {
			return err
		}
		fmt.Printf("Card %s bound to camera %d (%s)\n", sess.CardID, camera, outcome)
		return nil
	},
}

var sessionInsertCmd = &cobra.Command{
	Use:   "insert CARD_ID MOUNT_PATH",
	Short: "Report a card insertion without volume detection",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) (err error) {
		mount, err := filepath.Abs(args[1])
		if err != nil {
			return fmt.Errorf("resolving path: %w", err)
		}

		a, err := newAgent("Insert", args)
		if err != nil {
			return err
		}
		defer finish(a, &err)

		ctx, stop := signalContext()
		defer stop()

		sess, outcome, err := a.HandleInsertion(ctx, args[0], mount)
		if err != nil {
			return err
		}
		go func() {
			<-ctx.Done()
			a.StopBackup()
		}()
		a.WaitBackup()
		fmt.Printf("%s: session %s for card %s\n", outcome, sess.ID, sess.CardID)
		return nil
	},
}

var sessionRemoveCmd = &cobra.Command{
	Use:   "remove CARD_ID",
	Short: "Report a card removal without volume detection",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) (err error) {
		a, err := newAgent("Remove", args)
		if err != nil {
			return err
		}
		defer finish(a, &err)

		sess, err := a.HandleRemoval(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if sess == nil {
			fmt.Printf("Card %s is not the active card.\n", args[0])
			return nil
		}
		fmt.Printf("Session %s removed\n", sess.ID)
		return nil
	},
}

// manifest command
var manifestCmd = &cobra.Command{
	Use:   "manifest",
	Short: "Read archived snapshot manifests",
}

var manifestShowCmd = &cobra.Command{
	Use:   "show SESSION",
	Short: "Print the archived manifest of a session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) (err error) {
		a, err := newAgent("ManifestShow", args)
		if err != nil {
			return err
		}
		defer finish(a, &err)

		pass := ""
		if a.NeedsPassphrase() {
			if pass, err = readPassphrase("Passphrase: "); err != nil {
				return err
			}
		}
		return a.ShowManifest(args[0], pass, os.Stdout)
	},
}

// dedup command
var dedupCmd = &cobra.Command{
	Use:   "dedup",
	Short: "Query the duplicate footage index",
}

var dedupCheckCmd = &cobra.Command{
	Use:   "check FILE",
	Short: "Check whether a file was seen in an earlier session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) (err error) {
		absPath, err := filepath.Abs(args[0])
		if err != nil {
			return fmt.Errorf("resolving path: %w", err)
		}

		a, err := newAgent("DedupCheck", args)
		if err != nil {
			return err
		}
		defer finish(a, &err)

		res, err := a.CheckDuplicate(absPath)
		if err != nil {
			return err
		}
		if res.Record == nil {
			fmt.Printf("%s  new\n", res.Fingerprint[:12])
			return nil
		}
		r := res.Record
		fmt.Printf("%s  duplicate of %s  first seen %s  session %s  card %s\n",
			res.Fingerprint[:12],
			r.Filename,
			r.FirstSeen.Format(time.DateTime),
			orNone(r.SessionID),
			orNone(r.CardID),
		)
		return nil
	},
}

func orNone(s string) string {
	if s == "" {
		return "(none)"
	}
	return s
}

func init() {
	// config subcommands
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configListCmd)
	configCmd.AddCommand(configKeysCmd)

	// backup subcommands
	backupCmd.Flags().String("dest", "", "Backup destination root (default: backup.destination)")
	backupCmd.AddCommand(backupClearFailedCmd)

	// queue subcommands
	queueCmd.AddCommand(queueListCmd)
	queueCmd.AddCommand(queueDrainCmd)

	// session subcommands
	sessionBindCmd.Flags().Int("camera", 0, "Camera number")
	sessionBindCmd.Flags().String("label", "", "Card label")
	sessionCmd.AddCommand(sessionBindCmd)
	sessionCmd.AddCommand(sessionInsertCmd)
	sessionCmd.AddCommand(sessionRemoveCmd)

	manifestCmd.AddCommand(manifestShowCmd)
	dedupCmd.AddCommand(dedupCheckCmd)

	// root commands
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().Bool("auto-backup", false, "Back up every inserted card to backup.destination")
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(backupCmd)
	rootCmd.AddCommand(queueCmd)
	rootCmd.AddCommand(sessionCmd)
	rootCmd.AddCommand(manifestCmd)
	rootCmd.AddCommand(dedupCmd)
}
