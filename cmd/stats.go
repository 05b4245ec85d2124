package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/autoreply/internal/config"
	"github.com/nextlevelbuilder/autoreply/internal/stats"
	"github.com/nextlevelbuilder/autoreply/internal/store"
)

func statsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Reply counters",
	}
	cmd.AddCommand(statsShowCmd())
	return cmd
}

func statsShowCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Print the persisted reply counters",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(resolveConfigPath())
			if err != nil {
				return err
			}
			st, err := store.Open(store.Config{
				Backend:     cfg.Stats.Backend,
				Path:        cfg.StatsPath(),
				PostgresDSN: cfg.Database.PostgresDSN,
			})
			if err != nil {
				return fmt.Errorf("open stats store: %w", err)
			}
			defer st.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
			defer cancel()
			c, found, err := stats.Read(ctx, st)
			if err != nil {
				return fmt.Errorf("read stats: %w", err)
			}
			if !found {
				fmt.Println("No replies recorded yet.")
				return nil
			}
			if asJSON {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(c)
			}
			printCounters(os.Stdout, c)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print raw JSON")
	return cmd
}

func printCounters(w io.Writer, c stats.Counters) {
	share := func(n uint64) string {
		if c.TotalReplies == 0 {
			return "-"
		}
		return strconv.FormatFloat(float64(n)*100/float64(c.TotalReplies), 'f', 1, 64) + "%"
	}
	writeTable(w, []string{"KIND", "REPLIES", "SHARE"}, [][]string{
		{"keyword", strconv.FormatUint(c.KeywordMatches, 10), share(c.KeywordMatches)},
		{"ai", strconv.FormatUint(c.AIReplies, 10), share(c.AIReplies)},
		{"fallback", strconv.FormatUint(c.FallbackReplies, 10), share(c.FallbackReplies)},
		{"total", strconv.FormatUint(c.TotalReplies, 10), share(c.TotalReplies)},
	})
}
