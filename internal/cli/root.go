package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"localchat/internal/app"
	"localchat/internal/config"
)

// options carries what the persistent flags resolve to.
type options struct {
	configPath string
	envFile    string
	flags      config.Config

	cfg config.Config
	log zerolog.Logger

	out    io.Writer
	errOut io.Writer
	newApp func(ctx context.Context, cfg config.Config, log zerolog.Logger) (*app.App, error)
}

func defaultNewApp(ctx context.Context, cfg config.Config, log zerolog.Logger) (*app.App, error) {
	return app.New(ctx, cfg, log, app.Options{})
}

// Execute runs the localchat command tree with os.Args.
func Execute(ctx context.Context) error {
	return NewRootCmd().ExecuteContext(ctx)
}

// NewRootCmd builds the localchat command tree.
func NewRootCmd() *cobra.Command {
	return newRootCmd(&options{out: os.Stdout, errOut: os.Stderr, newApp: defaultNewApp})
}

func newRootCmd(o *options) *cobra.Command {
	root := &cobra.Command{
		Use:           "localchat",
		Short:         "Retrieval-grounded chat over local GGUF models",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(o.out)
	root.SetErr(o.errOut)

	pf := root.PersistentFlags()
	pf.StringVar(&o.configPath, "config", "", "Config file: .yaml|.json|.toml (defaults LOCALCHAT_CONFIG)")
	pf.StringVar(&o.envFile, "env-file", ".env", "File of LOCALCHAT_* variables loaded before config; set variables win")
	pf.StringVar(&o.flags.LogLevel, "log-level", "", "Log level: debug|info|warn|error")
	pf.StringVar(&o.flags.DBPath, "db", "", "SQLite database path")
	pf.StringVar(&o.flags.ModelsDir, "models-dir", "", "Directory to scan for *.gguf model files")
	root.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		if err := loadEnvFile(o.envFile, cmd.Flags().Changed("env-file")); err != nil {
			return err
		}
		return o.resolve()
	}

	root.AddCommand(newServeCmd(o), newModelsCmd(o), newAskCmd(o), newCheckCmd(o), newCompletionCmd(root))
	return root
}

// resolve layers defaults, the config file, LOCALCHAT_* variables and flags,
// in increasing precedence.
func (o *options) resolve() error {
	cfg := config.Default()
	if o.configPath == "" {
		o.configPath = os.Getenv("LOCALCHAT_CONFIG")
	}
	if o.configPath != "" {
		file, err := config.Load(o.configPath)
		if err != nil {
			return fmt.Errorf("load config %s: %w", o.configPath, err)
		}
		cfg = config.Merge(cfg, file)
	}
	cfg = config.Merge(cfg, envOverrides())
	cfg = config.Merge(cfg, o.flags)
	o.cfg = cfg
	o.log = newLogger(o.errOut, cfg.LogLevel)
	return nil
}

// loadEnvFile exports the variables in path that are not already set. A
// missing default file is not an error.
func loadEnvFile(path string, explicit bool) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if !explicit && errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load env file %s: %w", path, err)
	}
	return nil
}

func envOverrides() config.Config {
	return config.Config{
		Addr:      os.Getenv("LOCALCHAT_ADDR"),
		ModelsDir: os.Getenv("LOCALCHAT_MODELS_DIR"),
		DBPath:    os.Getenv("LOCALCHAT_DB"),
		LogLevel:  os.Getenv("LOCALCHAT_LOG_LEVEL"),
	}
}

func newCompletionCmd(root *cobra.Command) *cobra.Command {
	cmd := &cobra.Command{Use: "completion", Short: "Generate the autocompletion script for the specified shell"}
	cmd.AddCommand(
		&cobra.Command{Use: "bash", Short: "Bash completion", RunE: func(c *cobra.Command, args []string) error { return root.GenBashCompletion(c.OutOrStdout()) }},
		&cobra.Command{Use: "zsh", Short: "Zsh completion", RunE: func(c *cobra.Command, args []string) error { return root.GenZshCompletion(c.OutOrStdout()) }},
		&cobra.Command{Use: "fish", Short: "Fish completion", RunE: func(c *cobra.Command, args []string) error { return root.GenFishCompletion(c.OutOrStdout(), true) }},
	)
	return cmd
}
