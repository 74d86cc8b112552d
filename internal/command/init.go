package command

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/adamavenir/histkeep/internal/core"
	"github.com/adamavenir/histkeep/internal/db"
	"github.com/adamavenir/histkeep/internal/transport"
)

// NewInitCmd creates the init command.
func NewInitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize histkeep in the current directory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			force, _ := cmd.Flags().GetBool("force")
			remote, _ := cmd.Flags().GetString("remote")
			token, _ := cmd.Flags().GetString("token")
			dir, _ := cmd.Flags().GetString("project")
			jsonMode, _ := cmd.Flags().GetBool("json")

			if remote != "" {
				normalized, err := transport.NormalizeBaseURL(remote)
				if err != nil {
					return writeCommandError(cmd, err)
				}
				remote = normalized
			}

			project, err := core.InitProject(dir, force)
			if err != nil {
				return writeCommandError(cmd, err)
			}
			config, err := core.UpdateProjectConfig(project, func(config *core.ProjectConfig) {
				if remote != "" {
					config.RemoteURL = remote
				}
				if token != "" {
					config.Token = token
				}
			})
			if err != nil {
				return writeCommandError(cmd, err)
			}

			conn, err := db.OpenDatabase(project)
			if err != nil {
				return writeCommandError(cmd, err)
			}
			defer conn.Close()
			if err := db.InitSchema(conn); err != nil {
				return writeCommandError(cmd, err)
			}

			if jsonMode {
				return writeJSON(cmd, map[string]any{
					"initialized": true,
					"root":        project.Root,
					"db_path":     project.DBPath,
					"remote_url":  config.RemoteURL,
				})
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Initialized histkeep in %s\n", project.Dir)
			if config.RemoteURL != "" {
				fmt.Fprintf(out, "  remote: %s\n", config.RemoteURL)
			}
			return nil
		},
	}

	cmd.Flags().Bool("force", false, "reinitialize, discarding the existing database")
	cmd.Flags().String("remote", "", "history service base URL")
	cmd.Flags().String("token", "", "history service bearer token")
	return cmd
}
