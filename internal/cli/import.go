package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/SmitUplenchwar2687/tickreplay/internal/dataset"
)

func newImportCmd() *cobra.Command {
	var (
		configPath string
		file       string
		redis      redisOptions
	)

	cmd := &cobra.Command{
		Use:   "import",
		Short: "Load a trade dataset into Redis for the redis source",
		Long: `Reads a dataset file, sorts it by timestamp and stores it as a Redis list
so that "server --source redis" can replay it. An existing dataset under
the same key is replaced atomically.`,
		Example: `  tickreplay import --file trades_sample.parquet
  tickreplay import --file trades.ndjson --redis-host localhost:6380 --redis-key trades:2024-01-01`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("file") {
				cfg.Source.File.Path = file
			}
			redis.applyTo(cmd, &cfg.Source.Redis)
			if cfg.Source.Redis.Key == "" {
				return fmt.Errorf("--redis-key is required")
			}

			records, err := dataset.LoadFile(cfg.Source.File.Path)
			if err != nil {
				return err
			}
			dataset.SortByTimestamp(records)

			store, err := openRedisStore(cfg.Source.Redis)
			if err != nil {
				return err
			}
			defer store.Close()

			n, err := store.Save(cmd.Context(), cfg.Source.Redis.Key, records)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Imported %d trades from %s into %s\n", n, cfg.Source.File.Path, cfg.Source.Redis.Key)
			return nil
		},
	}

	addConfigFlag(cmd, &configPath)
	cmd.Flags().StringVar(&file, "file", "", "dataset file to import (default: source.file.path from config)")
	redis.addFlags(cmd)

	return cmd
}
