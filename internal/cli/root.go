package cli

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/turtacn/cathedral-bridge/internal/control"
	"github.com/turtacn/cathedral-bridge/internal/credentials"
	"github.com/turtacn/cathedral-bridge/internal/daemon"
	"github.com/turtacn/cathedral-bridge/pkg/errors"
	"github.com/turtacn/cathedral-bridge/pkg/logger"
	"github.com/turtacn/cathedral-bridge/pkg/protocol"
)

const commandTimeout = 15 * time.Second

var (
	cfgFile    string
	socketPath string
	authFlag   string
	urlFlag    string
)

var rootCmd = &cobra.Command{
	Use:           "cathedral-bridge",
	Short:         "Cathedral Bridge: persistent orchestrator link for AnythingLLM configuration",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		// A local .env may carry CATHEDRAL_* overrides.
		_ = godotenv.Load()
	},
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the bridge daemon",
	RunE: func(cmd *cobra.Command, args []string) error {
		// 1. Load Config
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		// 2. Init Logger
		logger.InitLogger(cfg.Observability.LogLevel, cfg.Observability.LogFormat)
		logger.Log.Info("Booting Cathedral Bridge...", "orch_url", cfg.Bridge.OrchURL, "storage", cfg.Store.StorageDir)

		// 3. Run Engine; it owns signal handling
		return daemon.NewEngine(cfg).Run(cmd.Context())
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the connection state of the running daemon",
	RunE: func(cmd *cobra.Command, args []string) error {
		return callDaemon(cmd, func(ctx context.Context, c *control.Client) (string, error) {
			return c.Status(ctx)
		})
	},
}

var restartCmd = &cobra.Command{
	Use:   "restart",
	Short: "Tear down the current connection and reconnect immediately",
	RunE: func(cmd *cobra.Command, args []string) error {
		return callDaemon(cmd, func(ctx context.Context, c *control.Client) (string, error) {
			return c.Restart(ctx, params())
		})
	},
}

var connectCmd = &cobra.Command{
	Use:   "connect",
	Short: "Connect the running daemon to the orchestrator",
	RunE: func(cmd *cobra.Command, args []string) error {
		return callDaemon(cmd, func(ctx context.Context, c *control.Client) (string, error) {
			return c.Connect(ctx, params())
		})
	},
}

var configureCmd = &cobra.Command{
	Use:   "configure",
	Short: "Store the orchestrator credential for auto-connect",
	Long:  "Writes AUTH and ORCH_URL to the bridge credentials file. No connection is opened.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		quietLogger()

		out := "configured"
		if err := credentials.New(cfg.Bridge.CredentialsFile).Save(authFlag, urlFlag); err != nil {
			if errors.CodeOf(err) != errors.ErrCodeCredentialInvalid {
				return err
			}
			out = "Please supply 'auth' Bearer token"
		}
		fmt.Fprintln(cmd.OutOrStdout(), out)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "cathedral-bridge.yaml", "config file path")
	rootCmd.PersistentFlags().StringVar(&socketPath, "socket", "", "control socket path (default from config)")

	for _, c := range []*cobra.Command{restartCmd, connectCmd, configureCmd} {
		c.Flags().StringVar(&authFlag, "auth", "", "bearer credential, e.g. 'Bearer <token>'")
		c.Flags().StringVar(&urlFlag, "url", "", "orchestrator WebSocket URL")
	}

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(restartCmd)
	rootCmd.AddCommand(connectCmd)
	rootCmd.AddCommand(configureCmd)
}

func loadConfig() (*protocol.Config, error) {
	cfg, err := protocol.LoadConfig(cfgFile)
	if err != nil {
		return nil, err
	}
	if socketPath != "" {
		cfg.Control.SocketPath = socketPath
	}
	return cfg, nil
}

// quietLogger keeps command output clean; only warnings reach stderr.
func quietLogger() {
	logger.Log = logger.New(os.Stderr, "warn", "text")
}

func params() control.Params {
	return control.Params{Auth: authFlag, OrchURL: urlFlag}
}

func callDaemon(cmd *cobra.Command, call func(context.Context, *control.Client) (string, error)) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	quietLogger()

	ctx, cancel := context.WithTimeout(cmd.Context(), commandTimeout)
	defer cancel()

	out, err := call(ctx, control.NewClient(cfg.Control.SocketPath))
	if err != nil {
		return fmt.Errorf("bridge daemon at %s: %w", cfg.Control.SocketPath, err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), out)
	return nil
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// Personal.AI order the ending
