// README: Scenario runner against a live roam-api; reports case results and how each chat turn resolved.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var errFailed = errors.New("bench failed")

type Config struct {
	BaseURL        string
	DSN            string
	RedisAddr      string
	ApplyMigration bool
	Strict         bool
	Timeout        time.Duration
	Concurrency    int
	Duration       time.Duration
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var v *viper.Viper
	cmd := &cobra.Command{
		Use:           "bench",
		Short:         "Run booking scenarios against a live roam-api",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := configFrom(v)
			ctx, cancel := context.WithTimeout(cmd.Context(), cfg.Timeout)
			defer cancel()

			r := NewRunner(cfg)
			results := r.RunAll(ctx)
			if !report(cmd.OutOrStdout(), results, r.stats, cfg.Strict) {
				return errFailed
			}
			return nil
		},
	}

	v = bindFlags(cmd)
	return cmd
}

// bindFlags binds every flag to ROAM_BENCH_<FLAG>; dsn and redis also read the server's own variables.
func bindFlags(cmd *cobra.Command) *viper.Viper {
	f := cmd.Flags()
	f.String("base-url", "http://localhost:8080", "API base URL")
	f.String("dsn", "", "Postgres DSN (empty skips DB checks)")
	f.String("redis", "", "Redis address (empty skips Redis checks)")
	f.Bool("apply-migration", false, "Apply embedded migrations before tests")
	f.Bool("strict", false, "Fail on pending tests")
	f.Duration("timeout", 2*time.Minute, "Total timeout")
	f.Int("concurrency", 8, "Concurrency for perf tests")
	f.Duration("duration", 10*time.Second, "Duration for perf tests")

	v := viper.New()
	_ = v.BindPFlags(f)
	v.SetEnvPrefix("ROAM_BENCH")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	_ = v.BindEnv("dsn", "ROAM_BENCH_DSN", "ROAM_DB_DSN")
	_ = v.BindEnv("redis", "ROAM_BENCH_REDIS", "ROAM_REDIS_ADDR")
	return v
}

func configFrom(v *viper.Viper) Config {
	cfg := Config{
		BaseURL:        strings.TrimRight(v.GetString("base-url"), "/"),
		DSN:            v.GetString("dsn"),
		RedisAddr:      v.GetString("redis"),
		ApplyMigration: v.GetBool("apply-migration"),
		Strict:         v.GetBool("strict"),
		Timeout:        v.GetDuration("timeout"),
		Concurrency:    v.GetInt("concurrency"),
		Duration:       v.GetDuration("duration"),
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Minute
	}
	if cfg.Duration <= 0 {
		cfg.Duration = 10 * time.Second
	}
	return cfg
}

// report prints the case summary and the turn breakdown. It returns false when the run failed.
func report(w io.Writer, results []Result, stats *turnStats, strict bool) bool {
	counts := map[string]int{}
	for _, r := range results {
		counts[r.Status]++
	}
	fmt.Fprintln(w, "\n== Summary ==")
	fmt.Fprintf(w, "PASS=%d FAIL=%d PENDING=%d SKIP=%d\n",
		counts[StatusPass], counts[StatusFail], counts[StatusPending], counts[StatusSkip])

	fmt.Fprintln(w, "\n== Turns ==")
	stats.write(w)

	return counts[StatusFail] == 0 && !(strict && counts[StatusPending] > 0)
}
