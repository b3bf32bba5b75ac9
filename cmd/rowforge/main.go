package main

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/joho/godotenv"
	"github.com/shirou/gopsutil/v3/process"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/rowforge/rowforge/pkg/client"
	"github.com/rowforge/rowforge/pkg/coltype"
	"github.com/rowforge/rowforge/pkg/config"
	"github.com/rowforge/rowforge/pkg/json"
	"github.com/rowforge/rowforge/pkg/logger"
	"github.com/rowforge/rowforge/pkg/plan"
	"github.com/rowforge/rowforge/pkg/schema"
)

var version = "0.1.0"

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()

	root := &cobra.Command{
		Use:   "rowforge",
		Short: "rowforge - insert pipeline client for columnar analytical stores",
		Long: `rowforge streams structured rows into a columnar analytical store over HTTP.
It resolves the most compact wire format the rows allow, batches them into
blocks, and reports exactly which rows the store acknowledged.`,
	}

	root.AddCommand(versionCommand())
	root.AddCommand(typesCommand())
	root.AddCommand(pingCommand())
	root.AddCommand(describeCommand())
	root.AddCommand(benchCommand())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func versionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("rowforge v%s\n", version)
			fmt.Printf("Go version: %s\n", runtime.Version())
			fmt.Printf("OS/Arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
		},
	}
}

// typeNotes maps each wire-type family to the Go values the encoder
// accepts for it.
var typeNotes = map[coltype.Kind]string{
	coltype.KindInt8:           "int family, range checked",
	coltype.KindInt16:          "int family, range checked",
	coltype.KindInt32:          "int family, range checked",
	coltype.KindInt64:          "int family",
	coltype.KindInt128:         "*big.Int or decimal string",
	coltype.KindInt256:         "*big.Int or decimal string",
	coltype.KindUInt8:          "uint family, range checked",
	coltype.KindUInt16:         "uint family, range checked",
	coltype.KindUInt32:         "uint family, range checked",
	coltype.KindUInt64:         "uint family",
	coltype.KindUInt128:        "*big.Int or decimal string",
	coltype.KindUInt256:        "*big.Int or decimal string",
	coltype.KindFloat32:        "float32/float64",
	coltype.KindFloat64:        "float32/float64",
	coltype.KindBool:           "bool",
	coltype.KindString:         "string or []byte",
	coltype.KindFixedString:    "string or []byte of the declared width",
	coltype.KindUUID:           "canonical UUID string",
	coltype.KindDate:           "time.Time or date string",
	coltype.KindDate32:         "time.Time or date string",
	coltype.KindDateTime:       "time.Time, epoch seconds, or RFC 3339 string",
	coltype.KindDateTime64:     "time.Time, epoch, or RFC 3339 string",
	coltype.KindDecimal:        "decimal string, int, or float",
	coltype.KindEnum8:          "member name or discriminant",
	coltype.KindEnum16:         "member name or discriminant",
	coltype.KindIPv4:           "dotted-quad string or net.IP",
	coltype.KindIPv6:           "IPv6 string or net.IP",
	coltype.KindJSON:           "map, slice, or pre-serialized JSON string",
	coltype.KindNullable:       "nil or the element's values",
	coltype.KindArray:          "slice of the element's values",
	coltype.KindMap:            "map of key values to element values",
	coltype.KindLowCardinality: "the element's values",
}

func typesCommand() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "types",
		Short: "List supported wire-type families",
		RunE: func(cmd *cobra.Command, args []string) error {
			type entry struct {
				Family  string `json:"family"`
				Accepts string `json:"accepts"`
			}
			entries := make([]entry, 0, len(typeNotes))
			for k := coltype.KindInt8; k <= coltype.KindLowCardinality; k++ {
				entries = append(entries, entry{Family: k.String(), Accepts: typeNotes[k]})
			}

			if asJSON {
				out, err := json.MarshalIndent(entries, "", "  ")
				if err != nil {
					return err
				}
				fmt.Println(string(out))
				return nil
			}
			for _, e := range entries {
				fmt.Printf("  %-16s %s\n", e.Family, e.Accepts)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Emit the list as JSON")
	return cmd
}

func pingCommand() *cobra.Command {
	var endpoint string
	cmd := &cobra.Command{
		Use:   "ping",
		Short: "Check that the store answers",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClient(endpoint, "", "")
			if err != nil {
				return err
			}
			defer c.Close(context.Background())

			start := time.Now()
			if err := c.Ping(cmd.Context()); err != nil {
				return err
			}
			fmt.Printf("%s answered in %v\n", endpoint, time.Since(start).Round(time.Microsecond))
			return nil
		},
	}
	cmd.Flags().StringVarP(&endpoint, "endpoint", "e", "http://localhost:8123", "Store HTTP endpoint")
	return cmd
}

func describeCommand() *cobra.Command {
	var endpoint, database string
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "describe <table>",
		Short: "Show a table's columns as the insert planner sees them",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClient(endpoint, database, "")
			if err != nil {
				return err
			}
			defer c.Close(context.Background())

			table, err := c.DescribeTable(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if asJSON {
				out, err := json.MarshalIndent(table.Columns, "", "  ")
				if err != nil {
					return err
				}
				fmt.Println(string(out))
				return nil
			}
			for i := range table.Columns {
				col := &table.Columns[i]
				role := "required"
				switch {
				case !col.Insertable():
					role = "server-generated"
				case col.Omittable():
					role = "optional (server default)"
				}
				fmt.Printf("  %-24s %-32s %s\n", col.Name, col.Type, role)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&endpoint, "endpoint", "e", "http://localhost:8123", "Store HTTP endpoint")
	cmd.Flags().StringVarP(&database, "database", "d", "default", "Database to resolve the table against")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Emit the columns as JSON")
	return cmd
}

func benchCommand() *cobra.Command {
	var (
		endpoint   string
		database   string
		table      string
		configFile string
		rows       int
		blockSize  int
		workers    int
		formatName string
		compress   string
		logLevel   string
	)
	cmd := &cobra.Command{
		Use:   "bench",
		Short: "Run a synthetic insert load against a table",
		Long: `Bench generates synthetic rows matching the target table's schema and
inserts them, then reports throughput and process resource usage.

Example:
  rowforge bench --endpoint http://localhost:8123 --table metrics.events --rows 1000000`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBench(cmd.Context(), benchOptions{
				endpoint:   endpoint,
				database:   database,
				table:      table,
				configFile: configFile,
				rows:       rows,
				blockSize:  blockSize,
				workers:    workers,
				formatName: formatName,
				compress:   compress,
				logLevel:   logLevel,
			})
		},
	}
	cmd.Flags().StringVarP(&endpoint, "endpoint", "e", "http://localhost:8123", "Store HTTP endpoint")
	cmd.Flags().StringVarP(&database, "database", "d", "default", "Database the table lives in")
	cmd.Flags().StringVarP(&table, "table", "t", "", "Target table (required)")
	cmd.Flags().StringVar(&configFile, "config", "", "Path to a client YAML config file (flags override it)")
	cmd.Flags().IntVarP(&rows, "rows", "n", 100000, "Number of synthetic rows to insert")
	cmd.Flags().IntVar(&blockSize, "block-size", 10000, "Rows per block")
	cmd.Flags().IntVar(&workers, "workers", runtime.NumCPU(), "Encode workers")
	cmd.Flags().StringVar(&formatName, "format", "auto", "Wire format (auto, binary, compact, text)")
	cmd.Flags().StringVar(&compress, "compress", "", "Body compression (gzip, zstd, lz4, deflate, snappy)")
	cmd.Flags().StringVar(&logLevel, "log-level", "warn", "Log level (debug, info, warn, error)")
	_ = cmd.MarkFlagRequired("table")
	return cmd
}

type benchOptions struct {
	endpoint   string
	database   string
	table      string
	configFile string
	rows       int
	blockSize  int
	workers    int
	formatName string
	compress   string
	logLevel   string
}

func runBench(ctx context.Context, opts benchOptions) error {
	cfg := config.New(opts.endpoint, opts.database)
	if opts.configFile != "" {
		if err := config.Load(opts.configFile, cfg); err != nil {
			return err
		}
		if cfg.Endpoint == "" {
			cfg.Endpoint = opts.endpoint
		}
		if cfg.Database == "" {
			cfg.Database = opts.database
		}
	}
	cfg.Insert.BlockSize = opts.blockSize
	cfg.Insert.Format = opts.formatName
	cfg.Encoding.Workers = opts.workers
	cfg.Encoding.ParallelThreshold = 2
	if opts.compress != "" {
		cfg.Compression.Algorithm = opts.compress
	}
	cfg.Logging.Level = opts.logLevel

	c, err := client.New(cfg)
	if err != nil {
		return err
	}
	defer c.Close(context.Background())

	log := logger.Get().With(zap.String("component", "rowforge-bench"))
	if err := c.Ping(ctx); err != nil {
		return fmt.Errorf("store unreachable at %s: %w", cfg.Endpoint, err)
	}

	table, err := c.DescribeTable(ctx, opts.table)
	if err != nil {
		return err
	}
	log.Info("generating rows",
		zap.String("table", opts.table),
		zap.Int("rows", opts.rows),
		zap.Int("columns", len(table.Columns)))

	benchRows := make([]plan.Row, opts.rows)
	for i := range benchRows {
		row, err := syntheticRow(table, i)
		if err != nil {
			return err
		}
		benchRows[i] = row
	}

	op, err := c.Insert(opts.table).Rows(benchRows).Build()
	if err != nil {
		return err
	}

	proc, _ := process.NewProcess(int32(os.Getpid()))
	var startCPU float64
	if proc != nil {
		if times, err := proc.Times(); err == nil {
			startCPU = times.Total()
		}
	}

	start := time.Now()
	res, err := op.Run(ctx)
	elapsed := time.Since(start)
	if err != nil {
		return err
	}

	fmt.Printf("\n=== rowforge bench: %s ===\n", opts.table)
	fmt.Printf("Rows:       %d in %d blocks (%s)\n", res.Rows, res.Blocks, res.Format)
	fmt.Printf("Payload:    %.2f MiB\n", float64(res.Bytes)/(1<<20))
	fmt.Printf("Duration:   %v\n", elapsed.Round(time.Millisecond))
	fmt.Printf("Throughput: %.0f rows/s, %.2f MiB/s\n",
		float64(res.Rows)/elapsed.Seconds(),
		float64(res.Bytes)/(1<<20)/elapsed.Seconds())

	if proc != nil {
		if times, err := proc.Times(); err == nil && elapsed.Seconds() > 0 {
			fmt.Printf("CPU:        %.1f%%\n", (times.Total()-startCPU)/elapsed.Seconds()*100)
		}
		if memInfo, err := proc.MemoryInfo(); err == nil {
			fmt.Printf("RSS:        %.1f MiB\n", float64(memInfo.RSS)/(1<<20))
		}
	}
	return nil
}

// syntheticRow fills every insertable column with a value of the right
// family, derived from the row index so payloads are not uniform.
func syntheticRow(table *schema.Table, i int) (plan.Row, error) {
	row := make(plan.Row, len(table.Columns))
	for ci := range table.Columns {
		col := &table.Columns[ci]
		if !col.Insertable() {
			continue
		}
		v, err := syntheticValue(col.Parsed, i)
		if err != nil {
			return nil, fmt.Errorf("column %s: %w", col.Name, err)
		}
		row[col.Name] = v
	}
	return row, nil
}

func syntheticValue(t *coltype.Type, i int) (interface{}, error) {
	switch t.Kind {
	case coltype.KindNullable, coltype.KindLowCardinality:
		return syntheticValue(t.Elem, i)
	case coltype.KindInt8, coltype.KindUInt8:
		return i % 100, nil
	case coltype.KindInt16, coltype.KindUInt16:
		return i % 30000, nil
	case coltype.KindInt32, coltype.KindUInt32, coltype.KindInt64, coltype.KindUInt64:
		return i, nil
	case coltype.KindInt128, coltype.KindUInt128, coltype.KindInt256, coltype.KindUInt256:
		return fmt.Sprintf("%d", i), nil
	case coltype.KindFloat32, coltype.KindFloat64:
		return float64(i) * 1.5, nil
	case coltype.KindBool:
		return i%2 == 0, nil
	case coltype.KindString:
		return fmt.Sprintf("bench-%d", i), nil
	case coltype.KindFixedString:
		s := fmt.Sprintf("%0*d", t.Length, i%10)
		return s[:t.Length], nil
	case coltype.KindUUID:
		return fmt.Sprintf("00000000-0000-4000-8000-%012d", i%1000000000000), nil
	case coltype.KindDate, coltype.KindDate32, coltype.KindDateTime, coltype.KindDateTime64:
		return time.Now().UTC().Add(-time.Duration(i) * time.Second), nil
	case coltype.KindDecimal:
		return fmt.Sprintf("%d.%02d", i, i%100), nil
	case coltype.KindEnum8, coltype.KindEnum16:
		if len(t.Enum) == 0 {
			return nil, fmt.Errorf("enum type %s has no members", t.Name)
		}
		return t.Enum[i%len(t.Enum)].Name, nil
	case coltype.KindIPv4:
		return fmt.Sprintf("10.0.%d.%d", (i/256)%256, i%256), nil
	case coltype.KindIPv6:
		return fmt.Sprintf("2001:db8::%x", i%65536), nil
	case coltype.KindJSON:
		return map[string]interface{}{"seq": i, "tag": fmt.Sprintf("bench-%d", i%100)}, nil
	case coltype.KindArray:
		inner, err := syntheticValue(t.Elem, i)
		if err != nil {
			return nil, err
		}
		return []interface{}{inner}, nil
	case coltype.KindMap:
		key, err := syntheticValue(t.Key, i)
		if err != nil {
			return nil, err
		}
		val, err := syntheticValue(t.Value, i)
		if err != nil {
			return nil, err
		}
		return map[interface{}]interface{}{key: val}, nil
	default:
		return nil, fmt.Errorf("no synthetic value for type %s", t.Name)
	}
}

func newClient(endpoint, database, logLevel string) (*client.Client, error) {
	if database == "" {
		database = "default"
	}
	if logLevel == "" {
		logLevel = "warn"
	}
	cfg := config.New(endpoint, database)
	cfg.Logging.Level = logLevel
	return client.New(cfg)
}
