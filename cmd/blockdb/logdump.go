package main

import (
	"fmt"
	"strconv"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"blockdb/db"
	"blockdb/transaction"
)

var (
	logdumpCmd = &cobra.Command{
		Use:   "logdump",
		Short: "Print the records of the write-ahead log, newest first",
		Args:  cobra.NoArgs,
		RunE:  logdumpRun,
	}

	dumpLimit = 0
)

func init() {
	logdumpCmd.Flags().IntVarP(&dumpLimit, "limit", "n", dumpLimit, "print at most `n` records (0 prints all)")
	rootCmd.AddCommand(logdumpCmd)
}

func logdumpRun(cmd *cobra.Command, args []string) error {
	d, err := db.Open(cfg, db.WithLogger(log), db.WithoutRecovery())
	if err != nil {
		return err
	}
	defer d.Close()

	it, err := d.LogManager().Iterator()
	if err != nil {
		return err
	}

	tw := tablewriter.NewWriter(cmd.OutOrStdout())
	tw.SetAutoFormatHeaders(false)
	tw.SetHeader([]string{"#", "op", "tx", "block", "offset", "old value"})

	for n := 1; it.HasNext() && (dumpLimit == 0 || n <= dumpLimit); n++ {
		b, err := it.Next()
		if err != nil {
			return err
		}
		r, err := transaction.ParseRecord(b)
		if err != nil {
			return fmt.Errorf("record %d: %w", n, err)
		}
		tw.Append(recordRow(n, r))
	}

	tw.Render()
	return nil
}

func recordRow(n int, r transaction.Record) []string {
	row := []string{strconv.Itoa(n), r.Op().String(), strconv.Itoa(int(r.TxNumber())), "", "", ""}
	switch r := r.(type) {
	case transaction.SetIntRecord:
		row[3] = r.Block.String()
		row[4] = strconv.Itoa(int(r.Offset))
		row[5] = strconv.Itoa(int(r.OldValue))
	case transaction.SetStringRecord:
		row[3] = r.Block.String()
		row[4] = strconv.Itoa(int(r.Offset))
		row[5] = strconv.Quote(r.OldValue)
	}
	return row
}
