package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"sgc/internal/config"
	"sgc/internal/db"
	"sgc/internal/domain"
	"sgc/internal/engine"
	"sgc/internal/migrate"
	"sgc/internal/repo"
)

// SystemActorID signs the events written while bootstrapping a workspace.
const SystemActorID = "sgc-system"

type Options struct {
	Workspace string
	// DBFile overrides the database location inside the workspace.
	DBFile    string
	Logger    *zap.SugaredLogger
}

// Env is an opened workspace: database, resolved config and engine.
type Env struct {
	DB     *sql.DB
	Config *config.Config
	Engine engine.Engine
}

func (e Env) Close() error {
	if e.DB == nil {
		return nil
	}
	return e.DB.Close()
}

// Open migrates the workspace database, resolves the org config and seeds the
// unit tree on first use.
func Open(ctx context.Context, opts Options) (Env, error) {
	conn, err := db.Open(db.Config{Workspace: opts.Workspace, File: opts.DBFile})
	if err != nil {
		return Env{}, err
	}
	if _, err := migrate.Migrate(ctx, conn); err != nil {
		conn.Close()
		return Env{}, fmt.Errorf("migrate: %w", err)
	}
	r := repo.Repo{DB: conn}
	cfg, err := ResolveConfig(ctx, opts.Workspace, r)
	if err != nil {
		conn.Close()
		return Env{}, err
	}
	e := engine.New(conn, cfg)
	if opts.Logger != nil {
		e.Logger = opts.Logger
		e.Notifier = engine.LogNotifier{Logger: opts.Logger}
	}
	if err := seedUnits(ctx, e, cfg); err != nil {
		conn.Close()
		return Env{}, err
	}
	return Env{DB: conn, Config: cfg, Engine: e}, nil
}

// ResolveConfig prefers the stored org config, then sgc.yml in the
// workspace, then the built-in default.
func ResolveConfig(ctx context.Context, workspace string, r repo.Repo) (*config.Config, error) {
	cfg, err := r.GetOrgConfig(ctx)
	if err == nil {
		return cfg, nil
	}
	if !errors.Is(err, repo.ErrNotFound) {
		return nil, fmt.Errorf("load org config: %w", err)
	}
	cfg, err = config.LoadOptional(workspace)
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		cfg = config.Default()
	}
	return cfg, nil
}

// SystemActor is the administrator identity used for bootstrap writes.
func SystemActor(cfg *config.Config) domain.Actor {
	root := ""
	if units := cfg.Units(); len(units) > 0 {
		root = units[0].Sigla
	}
	return domain.Actor{ID: SystemActorID, Role: domain.RoleAdmin, Unidade: root}
}

func seedUnits(ctx context.Context, e engine.Engine, cfg *config.Config) error {
	units, err := e.Repo.ListUnits(ctx)
	if err != nil {
		return err
	}
	if len(units) > 0 {
		return nil
	}
	if _, err := e.ImportarUnidades(ctx, SystemActor(cfg), cfg); err != nil {
		return fmt.Errorf("seed unidades: %w", err)
	}
	return nil
}
