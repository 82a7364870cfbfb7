package main

import (
	"encoding/csv"
	"fmt"
	"log"
	"log/slog"
	"os"
	"strconv"

	"github.com/TUM-AIMED/hyfed/client"
	"github.com/TUM-AIMED/hyfed/pkg/algorithm"
	"github.com/spf13/cobra"
)

func main() {
	var (
		configPath string
		dataPath   string
		algoName   string
		masked     bool
		toc        int64
	)

	rootCmd := &cobra.Command{
		Use:   "hyfed-client",
		Short: "HyFed participant client",
		Long:  `HyFed participant client joins a federated project and drives it through its rounds.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := client.LoadConfig(configPath)
			if err != nil {
				return err
			}

			handler, err := buildHandler(algoName, dataPath, toc, masked)
			if err != nil {
				return err
			}

			logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
			driver, err := client.NewDriver(client.DriverOptions{
				Config:  cfg,
				Handler: handler,
				Logger:  logger,
			})
			if err != nil {
				return err
			}

			return driver.Run(cmd.Context())
		},
	}

	rootCmd.Flags().StringVar(&configPath, "config", "client.toml", "path to the TOML configuration")
	rootCmd.Flags().StringVar(&dataPath, "data", "", "path to the local samples CSV (stats algorithm)")
	rootCmd.Flags().StringVar(&algoName, "algorithm", algorithm.StatsName, "algorithm to run")
	rootCmd.Flags().BoolVar(&masked, "masked", false, "hide local values from the coordinator behind compensator masks")
	rootCmd.Flags().Int64Var(&toc, "toc", 1, "local toc value (ticktock algorithm)")

	if err := rootCmd.Execute(); err != nil {
		log.Fatal(err)
	}
}

func buildHandler(name, dataPath string, toc int64, masked bool) (algorithm.ClientHandler, error) {
	switch name {
	case algorithm.StatsName:
		samples, err := loadSamples(dataPath)
		if err != nil {
			return nil, err
		}

		return algorithm.NewStatsClient(samples, masked), nil
	case algorithm.TickTockName:
		return algorithm.NewTickTockClient(toc, masked), nil
	default:
		return nil, fmt.Errorf("unknown algorithm %q", name)
	}
}

// loadSamples reads one sample per row, one feature per column.
func loadSamples(path string) ([][]float64, error) {
	if path == "" {
		return nil, fmt.Errorf("the stats algorithm needs a --data CSV file")
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		return nil, err
	}

	samples := make([][]float64, 0, len(rows))
	for i, row := range rows {
		sample := make([]float64, len(row))
		for j, cell := range row {
			v, err := strconv.ParseFloat(cell, 64)
			if err != nil {
				return nil, fmt.Errorf("row %d column %d: %w", i+1, j+1, err)
			}
			sample[j] = v
		}
		samples = append(samples, sample)
	}

	return samples, nil
}
