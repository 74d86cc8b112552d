package command

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/adamavenir/histkeep/internal/logging"
)

const AppName = "histkeep"

// Version is overwritten at build time using -ldflags.
var Version = "dev"

const defaultLogLevel = "warn"

func NewRootCmd(version string) *cobra.Command {
	cmd := &cobra.Command{
		Use:           AppName,
		Short:         "histkeep - sparse local message history",
		Long:          "histkeep keeps a partial local index of conversation history, tracks the gaps, and fetches missing ranges and media on demand.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return setupLogging(cmd, "")
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	cmd.Version = version
	cmd.SetVersionTemplate(AppName + " version {{.Version}}\n")
	cmd.SetOut(os.Stdout)
	cmd.SetErr(os.Stderr)

	cmd.PersistentFlags().String("project", "", "project directory (default: discovered from the working directory)")
	cmd.PersistentFlags().Bool("json", false, "output in JSON format")
	cmd.PersistentFlags().String("log-level", defaultLogLevel, "log level (debug, info, warn, error)")

	cmd.AddCommand(
		NewInitCmd(),
		NewConvCmd(),
		NewHolesCmd(),
		NewResolveCmd(),
		NewFetchCmd(),
		NewEvictCmd(),
		NewStatusCmd(),
		NewServeCmd(),
	)

	return cmd
}

func Execute() error {
	return NewRootCmd(Version).Execute()
}

// setupLogging applies --log-level, or configLevel when the flag was left
// at its default.
func setupLogging(cmd *cobra.Command, configLevel string) error {
	value, _ := cmd.Flags().GetString("log-level")
	if !cmd.Flags().Changed("log-level") && configLevel != "" {
		value = configLevel
	}
	level, err := logging.ParseLevel(value)
	if err != nil {
		return writeCommandError(cmd, err)
	}
	logging.Setup(logging.Options{Level: level, Output: cmd.ErrOrStderr()})
	return nil
}
