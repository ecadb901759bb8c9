// Command simd runs the statecraft simulation daemon: a continuously
// ticking multi-agent world where agents act on their own cadence, batched
// resolution moves entity KPIs, and sensitive actions wait for operator
// approval.
package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/talgya/statecraft/internal/geo"
	"github.com/talgya/statecraft/internal/kpi"
	"github.com/talgya/statecraft/internal/memory"
	"github.com/talgya/statecraft/internal/oracle"
	"github.com/talgya/statecraft/internal/persistence"
	"github.com/talgya/statecraft/internal/scenario"
	"github.com/talgya/statecraft/internal/sim"
	"github.com/talgya/statecraft/internal/situation"
)

const defaultModel = "claude-haiku-4-5-20251001"

var rootCmd = &cobra.Command{
	Use:   "simd",
	Short: "Statecraft simulation daemon",
	Long: `Statecraft runs a turn-less geopolitical simulation. Agents act on
independent virtual-time cadences, a batched resolver turns their actions
into narrative outcomes and KPI movement, and flagged actions from reporting
agents queue for operator approval.`,
}

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	rootCmd.AddCommand(runCmd())
	rootCmd.AddCommand(gamesCmd())
	rootCmd.AddCommand(kpisCmd())
	rootCmd.AddCommand(eventsCmd())
	rootCmd.AddCommand(approvalsCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("STATECRAFT")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().String("db", "statecraft.db", "sqlite database path")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	_ = viper.BindPFlag("db", rootCmd.PersistentFlags().Lookup("db"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
}

func runCmd() *cobra.Command {
	var scenarioPath, model string
	var seed int64
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a simulation from a scenario file",
		RunE: func(cmd *cobra.Command, args []string) error {
			apiKey := os.Getenv("ANTHROPIC_API_KEY")
			if apiKey == "" {
				return fmt.Errorf("ANTHROPIC_API_KEY is required")
			}

			sc, err := scenario.FromFile(scenarioPath)
			if err != nil {
				return err
			}

			db, err := persistence.Open(viper.GetString("db"))
			if err != nil {
				return err
			}
			defer db.Close()

			if _, exists, err := db.GetGame(sc.Game.ID); err != nil {
				return err
			} else if !exists {
				if err := db.CreateGame(sc.Game.ID, sc.Game.Title); err != nil {
					return err
				}
			}

			kpis, err := kpi.NewManager(sc.Rules, nil)
			if err != nil {
				return err
			}
			sc.SeedKPIs(kpis)

			client := oracle.NewClient(apiKey, model)
			situations := situation.NewTracker()
			memories := memory.NewStore(time.Now)
			worldMap := geo.NewNoiseMap(sc.Zones, seed, time.Now)

			mgr, err := sim.NewManager(sc.Options(), kpis, situations, sim.Collaborators{
				Decider:  client,
				Resolver: client,
				Map:      worldMap,
				Memories: memories,
				Store:    db,
			})
			if err != nil {
				return err
			}

			if err := mgr.Load(); err != nil {
				return err
			}
			if err := mgr.Start(); err != nil {
				return err
			}

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
			sig := <-sigCh
			slog.Info("received signal, shutting down", "signal", sig)

			if err := mgr.Stop(); err != nil {
				return err
			}
			st := mgr.CurrentStatus()
			return db.TouchGame(sc.Game.ID, st.GameTime.Format(time.RFC3339))
		},
	}
	cmd.Flags().StringVarP(&scenarioPath, "scenario", "s", "scenario.yml", "scenario file")
	cmd.Flags().StringVar(&model, "model", defaultModel, "oracle model")
	cmd.Flags().Int64Var(&seed, "seed", 0, "world map noise seed")
	return cmd
}

func gamesCmd() *cobra.Command {
	games := &cobra.Command{Use: "games", Short: "Manage saved games"}
	games.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List saved games",
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := persistence.Open(viper.GetString("db"))
			if err != nil {
				return err
			}
			defer db.Close()

			items, err := db.ListGames()
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(items)
			}
			tw := table.NewWriter()
			tw.SetOutputMirror(os.Stdout)
			tw.AppendHeader(table.Row{"ID", "Title", "Game Time", "Updated"})
			for _, g := range items {
				tw.AppendRow(table.Row{g.ID, g.Title, g.GameTime, g.UpdatedAt})
			}
			tw.Render()
			return nil
		},
	})
	games.AddCommand(&cobra.Command{
		Use:   "delete <game-id>",
		Short: "Delete a saved game",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := persistence.Open(viper.GetString("db"))
			if err != nil {
				return err
			}
			defer db.Close()
			if err := db.DeleteGame(args[0]); err != nil {
				return err
			}
			fmt.Println("deleted", args[0])
			return nil
		},
	})
	return games
}

func kpisCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "kpis <game-id>",
		Short: "Show entity KPIs from the latest save",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := loadSnapshot(args[0])
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(st.KPIs)
			}
			tw := table.NewWriter()
			tw.SetOutputMirror(os.Stdout)
			tw.AppendHeader(table.Row{"Entity", "Metric", "Value", "Min", "Max"})
			for entity, metrics := range st.KPIs.Metrics {
				for name, m := range metrics {
					tw.AppendRow(table.Row{entity, name, m.Value, m.Min, m.Max})
				}
			}
			tw.SortBy([]table.SortBy{{Name: "Entity"}, {Name: "Metric"}})
			tw.Render()
			return nil
		},
	}
}

func eventsCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "events <game-id>",
		Short: "Show recent events from the latest save",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := loadSnapshot(args[0])
			if err != nil {
				return err
			}
			events := st.Context.Events
			if len(events) > limit {
				events = events[len(events)-limit:]
			}
			if viper.GetBool("json") {
				return printJSON(events)
			}
			tw := table.NewWriter()
			tw.SetOutputMirror(os.Stdout)
			tw.AppendHeader(table.Row{"Time", "Agent", "Type", "Status", "Summary"})
			for _, ev := range events {
				tw.AppendRow(table.Row{
					ev.GameTime.Format("2006-01-02 15:04"),
					ev.AgentID, ev.ActionType, ev.Status, truncate(ev.Summary, 60),
				})
			}
			tw.Render()
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "max events to show")
	return cmd
}

func approvalsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "approvals <game-id>",
		Short: "Show pending approvals from the latest save",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := loadSnapshot(args[0])
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(st.Approvals.Pending)
			}
			tw := table.NewWriter()
			tw.SetOutputMirror(os.Stdout)
			tw.AppendHeader(table.Row{"ID", "Agent", "Type", "Urgency", "Summary"})
			for _, a := range st.Approvals.Pending {
				tw.AppendRow(table.Row{a.ID, a.AgentID, a.ActionType, a.Urgency, truncate(a.Summary, 60)})
			}
			tw.Render()
			return nil
		},
	}
}

func loadSnapshot(gameID string) (*sim.GameState, error) {
	db, err := persistence.Open(viper.GetString("db"))
	if err != nil {
		return nil, err
	}
	defer db.Close()

	blob, err := db.LoadState(gameID)
	if err != nil {
		return nil, err
	}
	if len(blob) == 0 {
		return nil, fmt.Errorf("game %s has no saved state", gameID)
	}
	var st sim.GameState
	if err := json.Unmarshal(blob, &st); err != nil {
		return nil, fmt.Errorf("decode saved state: %w", err)
	}
	return &st, nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
