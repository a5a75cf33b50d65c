// orbview-diag exercises the tracking core from the command line: one-shot
// propagation, a live tracking simulation, and observer pass prediction.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/orbview/orbview/internal/passes"
	"github.com/orbview/orbview/internal/propagation"
	"github.com/orbview/orbview/internal/tle"
	"github.com/orbview/orbview/internal/tracker"
	"github.com/orbview/orbview/internal/transform"
)

var (
	tlePath string
	satID   string
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, nil))

	root := &cobra.Command{
		Use:           "orbview-diag",
		Short:         "Diagnostics for the orbview tracking core",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&tlePath, "tle", "", "path to a TLE catalog file (required)")
	root.PersistentFlags().StringVar(&satID, "id", "25544", "satellite ID to operate on")
	root.MarkPersistentFlagRequired("tle")

	root.AddCommand(propagateCmd(logger), trackCmd(logger), passesCmd(logger))

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func loadSatellite(logger *slog.Logger) (tle.Satellite, error) {
	f, err := os.Open(tlePath)
	if err != nil {
		return tle.Satellite{}, err
	}
	defer f.Close()

	sats, err := tle.Parse(f, logger)
	if err != nil {
		return tle.Satellite{}, err
	}
	catalog := tle.BuildCatalog("file:"+tlePath, time.Now(), sats)
	sat, ok := catalog.Lookup(satID)
	if !ok {
		return tle.Satellite{}, fmt.Errorf("satellite %s not found in %s (%d entries)", satID, tlePath, len(sats))
	}
	return sat, nil
}

func propagateCmd(logger *slog.Logger) *cobra.Command {
	var at string

	cmd := &cobra.Command{
		Use:   "propagate",
		Short: "Evaluate one satellite's position at a timestamp",
		RunE: func(cmd *cobra.Command, args []string) error {
			sat, err := loadSatellite(logger)
			if err != nil {
				return err
			}

			t := time.Now().UTC()
			if at != "" {
				if t, err = time.Parse(time.RFC3339, at); err != nil {
					return fmt.Errorf("invalid --at timestamp: %w", err)
				}
			}

			handle, err := propagation.Compile(sat.Line1, sat.Line2)
			if err != nil {
				return err
			}
			pos, err := handle.Evaluate(t)
			if err != nil {
				return err
			}

			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(map[string]any{
				"id":               sat.ID,
				"name":             sat.Name,
				"t":                t.Format(time.RFC3339Nano),
				"position":         pos,
				"orbital_period_s": handle.OrbitalPeriod().Seconds(),
			})
		},
	}
	cmd.Flags().StringVar(&at, "at", "", "evaluation time (RFC3339, default now)")
	return cmd
}

func trackCmd(logger *slog.Logger) *cobra.Command {
	var (
		duration time.Duration
		rate     int
	)

	cmd := &cobra.Command{
		Use:   "track",
		Short: "Run the predictive tracker live, comparing predictions to exact positions",
		RunE: func(cmd *cobra.Command, args []string) error {
			sat, err := loadSatellite(logger)
			if err != nil {
				return err
			}

			handles := propagation.NewHandleCache()
			trk := tracker.New(handles, tracker.Config{}, logger)
			if err := trk.StartTracking(sat.ID, sat.Line1, sat.Line2); err != nil {
				return err
			}
			defer trk.StopTracking()

			handle, err := handles.Get(sat.Line1, sat.Line2)
			if err != nil {
				return err
			}

			fmt.Printf("tracking %s (%s) for %s at %d Hz\n", sat.ID, sat.Name, duration, rate)
			ticker := time.NewTicker(time.Second / time.Duration(rate))
			defer ticker.Stop()
			deadline := time.Now().Add(duration)

			for now := range ticker.C {
				if now.After(deadline) {
					return nil
				}
				pred, ok := trk.PredictedPosition(now)
				if !ok {
					return fmt.Errorf("tracking stopped unexpectedly")
				}
				line := fmt.Sprintf("t=%s lon=%9.4f lat=%8.4f alt=%7.1fkm conf=%.2f",
					now.UTC().Format("15:04:05.000"),
					pred.Position.Longitude, pred.Position.Latitude,
					pred.Position.AltitudeKm, pred.Confidence,
				)
				if exact, err := handle.Evaluate(now); err == nil {
					dLon := exact.Longitude - pred.Position.Longitude
					dLat := exact.Latitude - pred.Position.Latitude
					line += fmt.Sprintf("  err=(%.5f°,%.5f°)", dLon, dLat)
				}
				fmt.Println(line)
			}
			return nil
		},
	}
	cmd.Flags().DurationVar(&duration, "duration", 10*time.Second, "how long to track")
	cmd.Flags().IntVar(&rate, "rate", 2, "printed predictions per second")
	return cmd
}

func passesCmd(logger *slog.Logger) *cobra.Command {
	var (
		lat, lon, altKm float64
		hours           float64
		minElev         float64
	)

	cmd := &cobra.Command{
		Use:   "passes",
		Short: "Predict passes over a ground observer",
		RunE: func(cmd *cobra.Command, args []string) error {
			sat, err := loadSatellite(logger)
			if err != nil {
				return err
			}

			results := passes.Predict(context.Background(), propagation.NewHandleCache(), passes.Request{
				Observer:     transform.NewObserver(lat, lon, altKm),
				Satellites:   []tle.Satellite{sat},
				Start:        time.Now().UTC(),
				HorizonHours: hours,
				MinElevation: minElev,
				MaxPasses:    20,
			})

			r := results[0]
			if r.Error != "" {
				return fmt.Errorf("prediction failed: %s", r.Error)
			}
			fmt.Printf("%d passes of %s over (%.4f, %.4f) in the next %.0fh\n", len(r.Passes), sat.ID, lat, lon, hours)
			for i, p := range r.Passes {
				fmt.Printf("  pass %d: rise=%s maxEl=%.1f° az@max=%.0f° dur=%.0fs\n",
					i, p.StartTime.Format(time.RFC3339), p.MaxElevation, p.AzimuthAtMax, p.DurationSeconds)
			}
			return nil
		},
	}
	cmd.Flags().Float64Var(&lat, "lat", 0, "observer latitude (degrees)")
	cmd.Flags().Float64Var(&lon, "lon", 0, "observer longitude (degrees)")
	cmd.Flags().Float64Var(&altKm, "alt-km", 0, "observer altitude (km)")
	cmd.Flags().Float64Var(&hours, "hours", 24, "prediction horizon (hours)")
	cmd.Flags().Float64Var(&minElev, "min-elevation", 10, "minimum elevation (degrees)")
	cmd.MarkFlagRequired("lat")
	cmd.MarkFlagRequired("lon")
	return cmd
}
