package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/rcliao/agriplan/internal/collector"
)

func init() {
	cmd := &cobra.Command{
		Use:   "weather",
		Short: "Show the forecast and warnings the pipeline would use",
		Run:   runWeather,
	}

	cmd.Flags().String("lat", "", "Latitude (required)")
	cmd.Flags().String("lon", "", "Longitude (required)")
	cmd.Flags().Int("days", 7, "Forecast horizon: 7 or 30")

	cmd.MarkFlagRequired("lat")
	cmd.MarkFlagRequired("lon")

	RootCmd.AddCommand(cmd)
}

func runWeather(cmd *cobra.Command, args []string) {
	latStr, _ := cmd.Flags().GetString("lat")
	lonStr, _ := cmd.Flags().GetString("lon")
	days, _ := cmd.Flags().GetInt("days")

	lat, err := strconv.ParseFloat(latStr, 64)
	if err != nil {
		exitErr("--lat", err)
	}
	lon, err := strconv.ParseFloat(lonStr, 64)
	if err != nil {
		exitErr("--lon", err)
	}
	if days != 7 && days != 30 {
		exitErr("weather", fmt.Errorf("%w: got %d", collector.ErrInvalidHorizon, days))
	}

	cfg := loadConfig()
	w := collector.NewWeatherCollector(cfg.Weather.Host, cfg.Weather.APIKey, days, cfg.Weather.Timeout)

	ctx := cmd.Context()
	forecast, err := w.Forecast(ctx, lat, lon, days)
	if err != nil {
		exitErr("forecast", err)
	}
	warnings, err := w.Warnings(ctx, lat, lon)
	if err != nil {
		exitErr("warnings", err)
	}

	emit(map[string]interface{}{
		"forecast": forecast,
		"warnings": warnings,
	}, func() string {
		return collector.FormatForecast(forecast) + "\n\nAlerts: " + collector.FormatWarnings(warnings)
	})
}
