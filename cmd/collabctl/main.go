package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"inkdown-collab/internal/autosave"
	"inkdown-collab/internal/collab"
	"inkdown-collab/internal/config"
	"inkdown-collab/internal/connection"
	"inkdown-collab/internal/domain"
	"inkdown-collab/internal/logging"
	"inkdown-collab/internal/notesapi"
	"inkdown-collab/internal/protocol"
	"inkdown-collab/internal/transport"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var cfgFile string

func main() {
	godotenv.Load()

	v := config.NewClientViper()

	rootCmd := &cobra.Command{
		Use:   "collabctl [note-id]",
		Short: "Edit an Inkdown note together with other collaborators",
		Long: "collabctl opens a note, joins its collaboration room and relays\n" +
			"edits typed on stdin. Without a note id a new draft is started;\n" +
			"it gets its server identity on the first autosave.",
		Args: cobra.MaximumNArgs(1),
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig(v)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			noteID := domain.NewNoteID
			if len(args) == 1 {
				noteID = args[0]
			}
			return run(cmd.Context(), v, noteID, cmd.InOrStdin(), cmd.OutOrStdout())
		},
		SilenceUsage: true,
	}

	setupFlags(rootCmd, v)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupFlags(cmd *cobra.Command, v *viper.Viper) {
	defaults := config.NewClientViper()
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	cmd.PersistentFlags().String("server-url", defaults.GetString("server.url"), "Server base URL")
	cmd.PersistentFlags().String("token", "", "Access token (overrides INKDOWN_AUTH_TOKEN)")
	cmd.PersistentFlags().String("mode", defaults.GetString("sync.mode"), "Sync mode (online, offline)")
	cmd.PersistentFlags().Int("max-attempts", defaults.GetInt("sync.max_attempts"), "Connection attempts before the circuit breaker opens")
	cmd.PersistentFlags().Duration("debounce", defaults.GetDuration("sync.debounce"), "Autosave debounce window")
	cmd.PersistentFlags().Bool("auto-reconnect", defaults.GetBool("sync.auto_reconnect"), "Reconnect after a lost connection")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")

	bindFlag(cmd, v, "server.url", "server-url")
	bindFlag(cmd, v, "auth.token", "token")
	bindFlag(cmd, v, "sync.mode", "mode")
	bindFlag(cmd, v, "sync.max_attempts", "max-attempts")
	bindFlag(cmd, v, "sync.debounce", "debounce")
	bindFlag(cmd, v, "sync.auto_reconnect", "auto-reconnect")
	bindFlag(cmd, v, "log.level", "log-level")
}

func bindFlag(cmd *cobra.Command, v *viper.Viper, key, flag string) {
	if err := v.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func initConfig(v *viper.Viper) error {
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("collabctl")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !errors.As(err, &configNotFound) {
			return err
		}
	}

	return nil
}

func run(ctx context.Context, v *viper.Viper, noteID string, in io.Reader, out io.Writer) error {
	cfg, err := config.LoadClient(v)
	if err != nil {
		return err
	}

	logger, err := logging.NewLogger(cfg.LogLevel, "development")
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	api := notesapi.NewClient(nil, cfg.ServerURL, cfg.Token, logger)

	dialer, err := transport.NewWebSocketDialer(cfg.ServerURL, nil, logger)
	if err != nil {
		return err
	}

	conn := connection.NewManager(connection.Options{
		Dialer:         dialer,
		Prober:         api,
		Offline:        cfg.Offline(),
		MaxAttempts:    cfg.MaxAttempts,
		ConnectTimeout: cfg.ConnectTimeout,
		AutoReconnect:  cfg.AutoReconnect,
		InitialBackoff: cfg.InitialBackoff,
		MaxBackoff:     cfg.MaxBackoff,
		Logger:         logger,
	})
	defer conn.Close()

	editor := collab.NewEditor(collab.EditorOptions{
		Connection: conn,
		Persister:  api,
		Logger:     logger,
		Debounce:   cfg.Debounce,
		RetryDelay: cfg.RetryDelay,
		OnLocationChange: func(oldID, newID string) {
			fmt.Fprintf(out, "* note saved as %s\n", newID)
		},
		OnSaveError: func(err *autosave.SaveError) {
			fmt.Fprintf(out, "! unsaved changes: %v\n", err.Err)
		},
		OnPresence: func(roster []domain.PresenceEntry) {
			fmt.Fprintf(out, "* online: %s\n", rosterNames(roster))
		},
		OnCursorMoved: func(c protocol.CursorMovedPayload) {
			logger.Debug("cursor moved", zap.String("user", c.UserName), zap.Int("position", c.Position))
		},
		OnServerError: func(message string) {
			fmt.Fprintf(out, "! server: %s\n", message)
		},
	})

	note := domain.Note{ID: domain.NewNoteID}
	if noteID != domain.NewNoteID {
		loaded, err := api.Get(ctx, noteID)
		if err != nil {
			return fmt.Errorf("failed to load note %s: %w", noteID, err)
		}
		note = *loaded
	}

	if _, err := conn.Initialize(ctx, cfg.Token); err != nil {
		logger.Warn("starting without a live connection", zap.Error(err))
	}

	surface := newSurface(editor, out)
	surface.open(ctx, note)

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		err := editor.Run(gctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})

	g.Go(func() error {
		return surface.render(gctx)
	})

	g.Go(func() error {
		defer stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case line, ok := <-lines:
				if !ok {
					return nil
				}
				cmd, err := parseCommand(line)
				if err != nil {
					fmt.Fprintf(out, "! %v\n", err)
					continue
				}
				if cmd.kind == cmdQuit {
					return nil
				}
				surface.execute(gctx, conn, cmd)
			}
		}
	})

	waitErr := g.Wait()

	closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := editor.Close(closeCtx); err != nil {
		fmt.Fprintf(out, "! final save failed: %v\n", err)
	}

	return waitErr
}
