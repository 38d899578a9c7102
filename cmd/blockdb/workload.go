package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"blockdb/db"
	"blockdb/record"
	"blockdb/transaction"
)

var (
	workloadCmd = &cobra.Command{
		Use:   "workload",
		Short: "Run concurrent insert transactions against the database",
		Args:  cobra.NoArgs,
		RunE:  workloadRun,
	}

	workers      = 4
	txsPerWorker = 100
	txRate       = 0.0
	rollbackPct  = 10
)

func init() {
	fs := workloadCmd.Flags()
	fs.IntVarP(&workers, "workers", "w", workers, "number of concurrent clients")
	fs.IntVar(&txsPerWorker, "txs", txsPerWorker, "transactions per client")
	fs.Float64Var(&txRate, "rate", txRate, "transactions per second across all clients (0 is unlimited)")
	fs.IntVar(&rollbackPct, "rollback-percent", rollbackPct, "percentage of transactions rolled back on purpose")
	fs.StringVar(&cfg.MetricsAddr, "metrics-addr", cfg.MetricsAddr, "`address` to serve Prometheus metrics on")
	rootCmd.AddCommand(workloadCmd)
}

type workerStats struct {
	committed  atomic.Int64
	rolledBack atomic.Int64
	aborted    atomic.Int64
}

func workloadLayout() *record.Layout {
	schema := record.NewSchema()
	schema.AddIntField("id")
	schema.AddStringField("payload", 16)
	return record.NewLayout(schema)
}

func workloadRun(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	reg := prometheus.NewRegistry()
	d, err := db.Open(cfg, db.WithLogger(log), db.WithRegisterer(reg))
	if err != nil {
		return err
	}
	defer d.Close()

	if cfg.MetricsAddr != "" {
		srv := &http.Server{
			Addr:    cfg.MetricsAddr,
			Handler: promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
		}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("metrics server failed", zap.Error(err))
			}
		}()
		defer srv.Close()
		log.Info("serving metrics", zap.String("addr", cfg.MetricsAddr))
	}

	limit := rate.Inf
	if txRate > 0 {
		limit = rate.Limit(txRate)
	}
	limiter := rate.NewLimiter(limit, 1)

	layout := workloadLayout()
	stats := make([]workerStats, workers)
	start := time.Now()

	g, ctx := errgroup.WithContext(ctx)
	for w := range workers {
		g.Go(func() error {
			table := fmt.Sprintf("workload%d", w)
			for i := range txsPerWorker {
				if err := limiter.Wait(ctx); err != nil {
					return nil
				}
				err := insertOne(d, table, layout, int32(i), i%100 < rollbackPct, &stats[w])
				if err != nil {
					return fmt.Errorf("worker %d: %w", w, err)
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	elapsed := time.Since(start)

	tw := tablewriter.NewWriter(cmd.OutOrStdout())
	tw.SetAutoFormatHeaders(false)
	tw.SetHeader([]string{"worker", "committed", "rolled back", "aborted", "rows"})
	for w := range workers {
		rows, err := countRows(d, fmt.Sprintf("workload%d", w), layout)
		if err != nil {
			return err
		}
		tw.Append([]string{
			strconv.Itoa(w),
			strconv.FormatInt(stats[w].committed.Load(), 10),
			strconv.FormatInt(stats[w].rolledBack.Load(), 10),
			strconv.FormatInt(stats[w].aborted.Load(), 10),
			strconv.Itoa(rows),
		})
	}
	tw.Render()
	fmt.Fprintf(cmd.OutOrStdout(), "%d transactions in %s\n", workers*txsPerWorker, elapsed.Round(time.Millisecond))
	return nil
}

// insertOne inserts one row in its own transaction. A lock or buffer
// timeout rolls the transaction back and is counted, not returned.
func insertOne(d *db.DB, table string, layout *record.Layout, id int32, rollback bool, stats *workerStats) error {
	tx, err := d.NewTx()
	if err != nil {
		return err
	}

	err = func() error {
		ts, err := record.NewTableScan(tx, table, layout)
		if err != nil {
			return err
		}
		defer ts.Close()

		if err := ts.Insert(); err != nil {
			return err
		}
		if err := ts.WriteInt32("id", id); err != nil {
			return err
		}
		return ts.WriteString("payload", fmt.Sprintf("row-%d", id))
	}()

	switch {
	case transaction.IsAbort(err):
		stats.aborted.Add(1)
		return tx.Rollback()
	case err != nil:
		return errors.Join(err, tx.Rollback())
	case rollback:
		stats.rolledBack.Add(1)
		return tx.Rollback()
	}

	if err := tx.Commit(); err != nil {
		return errors.Join(err, tx.Rollback())
	}
	stats.committed.Add(1)
	return nil
}

func countRows(d *db.DB, table string, layout *record.Layout) (int, error) {
	tx, err := d.NewTx()
	if err != nil {
		return 0, err
	}
	ts, err := record.NewTableScan(tx, table, layout)
	if err != nil {
		return 0, errors.Join(err, tx.Rollback())
	}

	n := 0
	for {
		ok, err := ts.Next()
		if err != nil {
			ts.Close()
			return 0, errors.Join(err, tx.Rollback())
		}
		if !ok {
			break
		}
		n++
	}
	ts.Close()
	return n, tx.Commit()
}
