// Command oql-gen reads table definitions from a live database and writes
// oql-tagged entity structs, one file per table.
package main

import (
	"database/sql"
	"fmt"
	"os"
	"runtime"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	_ "modernc.org/sqlite"

	"github.com/shrek82/oql/config"
	"github.com/shrek82/oql/logger"
)

type options struct {
	configFile string
	tables     []string
	pkg        string
	out        string
	overwrite  bool
	workers    int
	verbose    bool
}

func newRootCmd() *cobra.Command {
	opts := &options{}
	v := config.New()

	cmd := &cobra.Command{
		Use:   "oql-gen",
		Short: "Generate oql entity structs from database tables",
		Example: `  oql-gen --driver mysql --dsn "root:pw@tcp(127.0.0.1:3306)/shop?parseTime=true" -t orders -t order_items
  oql-gen --config oql.yaml --out ./entity --pkg entity`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if opts.configFile != "" {
				v.SetConfigFile(opts.configFile)
				if err := v.ReadInConfig(); err != nil {
					return errors.Wrapf(err, "read %s", opts.configFile)
				}
			}
			c, err := config.Decode(v)
			if err != nil {
				return err
			}
			dsn, err := c.DataSource.ConnString()
			if err != nil {
				return err
			}
			db, err := sql.Open(c.DataSource.Driver, dsn)
			if err != nil {
				return errors.Wrap(err, "open database")
			}
			defer db.Close()

			level := logger.LogLevelWarn
			if opts.verbose {
				level = logger.LogLevelInfo
			}
			g := &generator{
				db:        db,
				driver:    c.DataSource.Driver,
				pkg:       opts.pkg,
				out:       opts.out,
				overwrite: opts.overwrite,
				workers:   opts.workers,
				log:       logger.New(logger.WithOutput(cmd.ErrOrStderr()), logger.WithLevel(level)),
			}
			files, err := g.run(cmd.Context(), opts.tables)
			if err != nil {
				return err
			}
			for _, f := range files {
				fmt.Fprintln(cmd.OutOrStdout(), f)
			}
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVarP(&opts.configFile, "config", "c", "", "YAML config with a datasource section")
	f.String("driver", "", "database driver (mysql, postgres, sqlite3, sqlite)")
	f.String("dsn", "", "driver specific connection string")
	f.StringSliceVarP(&opts.tables, "table", "t", nil, "tables to generate, all when empty")
	f.StringVarP(&opts.pkg, "pkg", "p", "entity", "package name of the generated files")
	f.StringVarP(&opts.out, "out", "o", "./entity", "output directory")
	f.BoolVar(&opts.overwrite, "overwrite", false, "replace files that already exist")
	f.IntVarP(&opts.workers, "workers", "w", runtime.GOMAXPROCS(0), "tables processed in parallel")
	f.BoolVarP(&opts.verbose, "verbose", "v", false, "log every generated table")
	_ = v.BindPFlag("datasource.driver", f.Lookup("driver"))
	_ = v.BindPFlag("datasource.dsn", f.Lookup("dsn"))
	return cmd
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "oql-gen:", err)
		os.Exit(1)
	}
}
