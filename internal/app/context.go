// Package app wires configuration to the API client, the relationship
// board and the subtask grid, and opens the local store for the server.
package app

import (
	"context"
	"fmt"
	"log"

	"facilitrack/internal/config"
	"facilitrack/internal/db"
	"facilitrack/internal/domain"
	"facilitrack/internal/engine"
	"facilitrack/internal/migrate"
	"facilitrack/internal/relations"
	"facilitrack/internal/subtasks"
	ftsdk "facilitrack/sdk/go"
)

// Overrides are command-line values that take precedence over the config file.
type Overrides struct {
	BaseURL string
	Token   string
}

// Client builds an API client from the client section of cfg.
func Client(cfg *config.Config, o Overrides) (*ftsdk.Client, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	baseURL := cfg.Client.BaseURL
	if o.BaseURL != "" {
		baseURL = o.BaseURL
	}
	token := cfg.Client.Token
	if o.Token != "" {
		token = o.Token
	}
	if baseURL == "" {
		return nil, fmt.Errorf("client.base_url is required")
	}
	if token == "" {
		return nil, fmt.Errorf("an API token is required; set client.token or FACILITRACK_TOKEN (see ft token)")
	}
	c := ftsdk.New(baseURL, token)
	if cfg.Client.Timeout > 0 {
		c.Timeout = cfg.Client.Timeout
	}
	return c, nil
}

// LockMode maps the grid.commit_lock setting; anything but "collection" is per row.
func LockMode(cfg *config.Config) subtasks.LockMode {
	if cfg != nil && cfg.Grid.CommitLock == string(subtasks.LockCollection) {
		return subtasks.LockCollection
	}
	return subtasks.LockRow
}

// OpenBoard builds a board for focalID and loads its first snapshot.
func OpenBoard(ctx context.Context, cfg *config.Config, store relations.Store, milestoneID, focalID domain.ID, logger *log.Logger) (*relations.Board, error) {
	b := relations.NewBoard(store, milestoneID, focalID)
	b.Logger = logger
	if cfg != nil {
		b.Serialize = cfg.SerializeDrops()
	}
	if err := b.Refresh(ctx); err != nil {
		return nil, err
	}
	return b, nil
}

// OpenGrid builds the subtask grid of parentID and loads it.
func OpenGrid(ctx context.Context, cfg *config.Config, store subtasks.Store, parentID domain.ID, logger *log.Logger) (*subtasks.Grid, error) {
	g := subtasks.New(store, parentID)
	g.Lock = LockMode(cfg)
	g.Logger = logger
	if err := g.Load(ctx); err != nil {
		return nil, err
	}
	return g, nil
}

// OpenEngine opens and migrates the workspace database. The returned close
// func releases the connection.
func OpenEngine(ctx context.Context, workspace string) (engine.Engine, func() error, error) {
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return engine.Engine{}, nil, err
	}
	if err := migrate.Migrate(ctx, conn); err != nil {
		conn.Close()
		return engine.Engine{}, nil, fmt.Errorf("migrate %s: %w", db.Path(workspace), err)
	}
	return engine.New(conn), conn.Close, nil
}
