// Command history prints stored analytics snapshots for a user and the trend
// the engine derives from them.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"greentech/analytics"
	"greentech/config"
	"greentech/store"

	"go.uber.org/zap"
)

var (
	userID = flag.String("user", "", "User ID (defaults to USER_ID)")
	limit  = flag.Int("limit", 20, "Number of snapshots to read")
	alerts = flag.Bool("alerts", false, "Also list unresolved alerts")
)

func main() {
	flag.Parse()

	logger, _ := zap.NewDevelopment()
	defer logger.Sync()

	cfg, err := config.LoadConfig()
	if err != nil {
		logger.Fatal("Failed to load config", zap.Error(err))
	}
	if *userID == "" {
		*userID = cfg.UserID
	}
	if *userID == "" {
		logger.Fatal("A user ID is required (-user or USER_ID)")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	st, err := store.New(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize store", zap.Error(err))
	}

	snaps, err := st.ListAnalytics(ctx, *userID, *limit)
	if err != nil {
		logger.Fatal("Error reading analytics", zap.Error(err))
	}

	fmt.Printf("Snapshots found: %d\n\n", len(snaps))

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "CREATED\tHEALTH\tIRRIGATION\tRISK\tTEMP\tHUMIDITY\tSOIL")
	history := make([]analytics.HistoryPoint, len(snaps))
	for i, s := range snaps {
		history[i] = analytics.HistoryPoint{PlantHealthScore: s.PlantHealthScore, CreatedAt: s.CreatedAt}
		fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%.1f\t%.1f\t%d\n",
			s.CreatedAt.Local().Format("2006-01-02 15:04:05"),
			s.PlantHealthScore, s.IrrigationNeedScore, s.ClimateRiskScore,
			s.Snapshot.Temperature, s.Snapshot.Humidity, s.Snapshot.SoilMoisture)
	}
	w.Flush()

	fmt.Printf("\nTrend: %s\n", analytics.ComputeTrend(history))

	if !*alerts {
		return
	}

	open, err := st.ListAlerts(ctx, *userID, store.AlertFilter{Resolved: store.Bool(false), Limit: *limit})
	if err != nil {
		logger.Fatal("Error reading alerts", zap.Error(err))
	}

	fmt.Printf("\nUnresolved alerts: %d\n", len(open))
	for _, a := range open {
		fmt.Printf("  [%s] %s (%s) %s\n", a.Severity, a.Title, a.Category, a.CreatedAt.Local().Format("2006-01-02 15:04"))
	}
}
