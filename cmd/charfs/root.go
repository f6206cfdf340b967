package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"charfs/internal/configuration"
	"charfs/internal/devices"
	"charfs/internal/entity"
	"charfs/internal/kernel"
	"charfs/internal/logging"
	"charfs/internal/storage"
)

var (
	logger = logging.GetLogger()
)

// envKeys maps viper keys to the configuration entries they override.
var envKeys = map[string]string{
	"storage":          configuration.KeyStorage,
	"state_path":       configuration.KeyStatePath,
	"log_level":        configuration.KeyLogLevel,
	"backups":          configuration.KeyBackups,
	"cache_size":       configuration.KeyCacheSize,
	"idempotency_size": configuration.KeyIdempotencySize,
}

// app carries the resolved configuration between cobra hooks.
type app struct {
	v   *viper.Viper
	cfg configuration.Config
}

// session is one booted kernel with every device mounted.
type session struct {
	adapter storage.Adapter
	kernel  *kernel.Kernel
	set     *devices.Set
	store   *entity.Store
}

func newRootCmd() *cobra.Command {
	v := viper.New()
	v.SetEnvPrefix("CHARFS")
	v.AutomaticEnv()
	a := &app{v: v}

	root := &cobra.Command{
		Use:   "charfs",
		Short: "Character sheets served as a virtual filesystem",
		Long: `charfs keeps tabletop character data in a persistent virtual filesystem.

Derived values (ability scores, skill totals, bonuses, conditions) are
exposed as device files under /dev and /proc/character, computed on every
read from the entity records under /entity.

Configuration is read from charfs.env, then CHARFS_* environment variables,
then flags; later sources win.`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: a.configure,
	}

	flags := root.PersistentFlags()
	flags.String("config", configuration.DefaultFile, "configuration file")
	flags.String("storage", "", "storage backend (memory, file, sqlite)")
	flags.String("state-path", "", "state file or database path")
	flags.String("log-level", "", "log level (ERROR, WARN, INFO, DEBUG, TRACE)")
	flags.Bool("no-color", false, "disable colored log output")
	_ = v.BindPFlag("config", flags.Lookup("config"))
	_ = v.BindPFlag("storage", flags.Lookup("storage"))
	_ = v.BindPFlag("state_path", flags.Lookup("state-path"))
	_ = v.BindPFlag("log_level", flags.Lookup("log-level"))
	_ = v.BindPFlag("no_color", flags.Lookup("no-color"))

	root.AddCommand(
		newBootCmd(a),
		newLsCmd(a),
		newCatCmd(a),
		newStatCmd(a),
		newWriteCmd(a),
		newMkdirCmd(a),
		newRmCmd(a),
		newSheetCmd(a),
		newBonusCmd(a),
		newConditionCmd(a),
		newSeedCmd(a),
		newExportCmd(a),
		newMountCmd(a),
	)
	return root
}

// configure resolves the configuration file and applies environment and
// flag overrides on top.
func (a *app) configure(cmd *cobra.Command, _ []string) error {
	cfg, err := configuration.Load(&configuration.GodotenvProvider{}, a.v.GetString("config"))
	if err != nil {
		return err
	}

	overrides := make(map[string]string)
	for key, name := range envKeys {
		if a.v.IsSet(key) {
			overrides[name] = a.v.GetString(key)
		}
	}
	if err := cfg.Apply(overrides); err != nil {
		return fmt.Errorf("(config) %w", err)
	}
	a.cfg = cfg

	logger.Configure(cmd.ErrOrStderr(), a.v.GetBool("no_color"))
	logger.SetLevel(cfg.Level())
	logger.Debug("Storage: %s at %s (%d backups)", cfg.Storage, cfg.StatePath, cfg.Backups)
	return nil
}

// open boots a kernel over the configured storage and mounts the devices.
func (a *app) open(ctx context.Context) (*session, error) {
	adapter, err := storage.Open(ctx, a.cfg.StorageOptions())
	if err != nil {
		return nil, err
	}

	k, err := kernel.New(adapter, a.cfg.KernelOptions())
	if err != nil {
		adapter.Close()
		return nil, err
	}
	if _, err := k.Boot(ctx); err != nil {
		adapter.Close()
		return nil, fmt.Errorf("boot failed: %w", err)
	}

	set := devices.New()
	if err := set.Mount(ctx, k); err != nil {
		return nil, errors.Join(err, k.Shutdown(ctx), adapter.Close())
	}

	return &session{
		adapter: adapter,
		kernel:  k,
		set:     set,
		store:   entity.NewStore(k, k.Context()),
	}, nil
}

// close shuts the kernel down, persisting the filesystem.
func (s *session) close(ctx context.Context) error {
	return errors.Join(s.kernel.Shutdown(ctx), s.adapter.Close())
}

// run wraps fn with a session that is closed once fn returns.
func (a *app) run(fn func(ctx context.Context, s *session, cmd *cobra.Command, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}

		s, err := a.open(ctx)
		if err != nil {
			return err
		}
		runErr := fn(ctx, s, cmd, args)
		return errors.Join(runErr, s.close(ctx))
	}
}
