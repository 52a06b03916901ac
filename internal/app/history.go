package app

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/charmbracelet/x/ansi"

	"logram/internal/config"
	"logram/internal/storage"
	logx "logram/pkg/logx"
)

const historyTitleWidth = 40

// ListDeliveries prints the newest delivery history entries from the store
// configured in cfgPath.
func ListDeliveries(ctx context.Context, cfgPath string, limit int, out io.Writer) error {
	cfg, err := config.NewManager(cfgPath).Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	sc, enabled, err := mapStorageConfig(cfg)
	if err != nil {
		return err
	}
	if !enabled {
		return storage.ErrDisabled
	}
	st, err := storage.Open(sc, logx.Nop())
	if err != nil {
		return err
	}
	defer st.Close()

	entries, err := st.RecentDeliveries(ctx, limit)
	if err != nil {
		return err
	}
	return WriteDeliveries(out, entries)
}

// WriteDeliveries renders entries as an aligned table.
func WriteDeliveries(out io.Writer, entries []storage.DeliveryEntry) error {
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TIME\tACTION\tSOURCE\tTITLE\tMSG\tLINES\tTOOK\tSTATUS")
	for _, e := range entries {
		status := "ok"
		if !e.OK() {
			status = ansi.Truncate(e.Error, historyTitleWidth, "…")
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%d\t%s\t%s\n",
			e.At.Local().Format(time.DateTime),
			e.Action,
			e.Source,
			ansi.Truncate(e.Title, historyTitleWidth, "…"),
			e.MessageID,
			e.Lines,
			time.Duration(e.TookMS)*time.Millisecond,
			status,
		)
	}
	return tw.Flush()
}
