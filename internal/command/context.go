package command

import (
	"database/sql"
	"errors"
	"time"

	"github.com/spf13/cobra"

	"github.com/adamavenir/histkeep/internal/core"
	"github.com/adamavenir/histkeep/internal/db"
	"github.com/adamavenir/histkeep/internal/fetch"
	"github.com/adamavenir/histkeep/internal/gap"
	"github.com/adamavenir/histkeep/internal/mediacache"
	"github.com/adamavenir/histkeep/internal/transport"
)

var errNoRemote = errors.New("no remote configured. Run 'histkeep init --remote URL' or set " + core.EnvRemoteURL)

// CommandContext provides shared command resources.
type CommandContext struct {
	DB       *sql.DB
	Store    *db.Store
	Project  core.Project
	Config   core.ProjectConfig
	JSONMode bool
}

// GetContext resolves the project and opens its database.
func GetContext(cmd *cobra.Command) (*CommandContext, error) {
	projectDir, _ := cmd.Flags().GetString("project")
	jsonMode, _ := cmd.Flags().GetBool("json")

	project, err := core.DiscoverProject(projectDir)
	if err != nil {
		return nil, err
	}
	config, err := core.ReadProjectConfig(project)
	if err != nil {
		return nil, err
	}
	if err := setupLogging(cmd, config.LogLevel); err != nil {
		return nil, err
	}

	conn, err := db.OpenDatabase(project)
	if err != nil {
		return nil, err
	}
	if err := db.InitSchema(conn); err != nil {
		_ = conn.Close()
		return nil, err
	}

	return &CommandContext{
		DB:       conn,
		Store:    db.NewStore(conn),
		Project:  project,
		Config:   config,
		JSONMode: jsonMode,
	}, nil
}

// MediaCache opens the project's media cache directory.
func (c *CommandContext) MediaCache() (*mediacache.Cache, error) {
	return mediacache.NewOS(c.Config.MediaPath(c.Project))
}

// Client builds a history service client writing media into cache.
func (c *CommandContext) Client(cache *mediacache.Cache) (*transport.Client, error) {
	if c.Config.RemoteURL == "" {
		return nil, errNoRemote
	}
	return transport.NewClient(c.Config.RemoteURL, c.Config.Token, cache)
}

// GapConfig maps the project config onto resolver settings.
func (c *CommandContext) GapConfig() gap.Config {
	return gap.Config{
		PageLimit:     c.Config.PageLimit,
		MaxAttempts:   c.Config.MaxAttempts,
		BaseDelay:     time.Duration(c.Config.BaseDelay),
		MaxDelay:      time.Duration(c.Config.MaxDelay),
		FetchTimeout:  time.Duration(c.Config.FetchTimeout),
		MaxConcurrent: c.Config.MaxConcurrent,
	}
}

// NewResolver builds a resolver over the project store. A nil client is
// allowed for commands that only edit holes.
func (c *CommandContext) NewResolver(client *transport.Client, opts ...gap.Option) *gap.Resolver {
	var t gap.Transport
	if client != nil {
		t = client
	}
	return gap.New(t, c.Store, c.GapConfig(), opts...)
}

// NewCoordinator builds a fetch coordinator persisting into the project
// store. A nil client is allowed for commands that only evict.
func (c *CommandContext) NewCoordinator(client *transport.Client) *fetch.Coordinator {
	var f fetch.Fetcher
	if client != nil {
		f = client
	}
	return fetch.New(f, fetch.WithStatusStore(c.Store))
}

func (c *CommandContext) Close() {
	if c.DB != nil {
		_ = c.DB.Close()
	}
}
