package cli

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/rcliao/agriplan/internal/collector"
	"github.com/rcliao/agriplan/internal/fuser"
	"github.com/rcliao/agriplan/internal/model"
	"github.com/rcliao/agriplan/internal/orchestrator"
)

func init() {
	plan := &cobra.Command{
		Use:   "plan",
		Short: "Run Part1: the strategic planting plan",
		Run:   func(cmd *cobra.Command, args []string) { runStage(cmd, model.Part1) },
	}
	schedule := &cobra.Command{
		Use:   "schedule",
		Short: "Run Part2: the daily execution schedule (needs a plan)",
		Run:   func(cmd *cobra.Command, args []string) { runStage(cmd, model.Part2) },
	}
	ask := &cobra.Command{
		Use:   "ask [question]",
		Short: "Run Part3: ask a daily question (needs a plan and a schedule)",
		Run:   func(cmd *cobra.Command, args []string) { runStage(cmd, model.Part3, args...) },
	}
	preview := &cobra.Command{
		Use:   "prompt <stage> [question]",
		Short: "Print the composed prompt of a stage without calling the model",
		Args:  cobra.MinimumNArgs(1),
		Run:   runPrompt,
	}

	for _, cmd := range []*cobra.Command{plan, schedule, ask, preview} {
		addInputFlags(cmd)
		RootCmd.AddCommand(cmd)
	}
	for _, cmd := range []*cobra.Command{plan, schedule, ask} {
		cmd.Flags().Bool("stream", true, "Print the answer as it arrives (text format only)")
	}
	ask.Flags().String("date", "", "Current date for the question (default: today)")
	preview.Flags().String("date", "", "Current date for a part3 question")
}

func addInputFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.StringP("input", "i", "", "YAML file with the farm input (location, soil, crop_type, goal)")
	f.String("location", "", "Plot name")
	f.String("lat", "", "Latitude")
	f.String("lon", "", "Longitude")
	f.Float64("area", 0, "Planted area in mu")
	f.String("soil-ph", "", "Soil pH")
	f.String("crop", "", "Crop type")
	f.String("variety", "", "Crop variety")
	f.String("target-yield", "", "Target yield")
	f.String("image", "", "Crop photo file")
	f.Int("horizon", 0, "Forecast horizon in days: 7 or 30 (default per stage)")
}

// readInput merges the --input file with individual flags; flags win.
func readInput(cmd *cobra.Command) (collector.Input, error) {
	var in collector.Input
	f := cmd.Flags()

	if path, _ := f.GetString("input"); path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return in, fmt.Errorf("read input: %w", err)
		}
		if err := yaml.Unmarshal(b, &in); err != nil {
			return in, fmt.Errorf("parse input: %w", err)
		}
	}

	str := func(name string, dst *string) {
		if v, _ := f.GetString(name); v != "" {
			*dst = v
		}
	}
	str("location", &in.Location.Name)
	str("soil-ph", &in.Soil.PH)
	str("crop", &in.CropType)
	str("variety", &in.Variety)
	str("target-yield", &in.Goal.TargetYield)

	for _, c := range []struct {
		flag string
		dst  **float64
	}{{"lat", &in.Location.Lat}, {"lon", &in.Location.Lon}} {
		v, _ := f.GetString(c.flag)
		if v == "" {
			continue
		}
		x, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return in, fmt.Errorf("--%s: %w", c.flag, err)
		}
		*c.dst = &x
	}
	if v, _ := f.GetFloat64("area"); v > 0 {
		in.AreaMu = v
	}
	if v, _ := f.GetInt("horizon"); v != 0 {
		in.HorizonDays = v
	}
	if path, _ := f.GetString("image"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return in, fmt.Errorf("read image: %w", err)
		}
		in.Image = &collector.Upload{Filename: filepath.Base(path), Data: data}
	}
	return in, nil
}

func readQuery(cmd *cobra.Command, args []string) *model.Query {
	q := strings.TrimSpace(strings.Join(args, " "))
	if q == "" {
		return nil
	}
	date, _ := cmd.Flags().GetString("date")
	return &model.Query{Date: date, Question: q}
}

func runStage(cmd *cobra.Command, stage model.Stage, args ...string) {
	in, err := readInput(cmd)
	if err != nil {
		exitErr("input", err)
	}
	ctx := cmd.Context()
	a := mustApp(ctx)
	defer a.Close()

	orch, err := a.restore(ctx, sessionID)
	if err != nil {
		exitErr("restore session", err)
	}

	var q *model.Query
	if stage == model.Part3 {
		q = readQuery(cmd, args)
		if q != nil && q.Date == "" {
			q.Date = todayString()
		}
	}
	stream, _ := cmd.Flags().GetBool("stream")
	var (
		resp model.ModelResponse
		out  *deltaWriter
	)
	if stream && strings.EqualFold(formatFlag, "text") {
		out = &deltaWriter{w: os.Stdout}
		resp, err = orch.Stream(ctx, stage, in, q, out.write)
		out.end()
	} else {
		resp, err = orch.Run(ctx, stage, in, q)
	}
	if err != nil {
		exitErr(stage.String(), err)
	}
	if !resp.OK() {
		var mce *fuser.MissingContextError
		if errors.As(resp.Err, &mce) {
			for _, r := range mce.Remediation() {
				fmt.Fprintln(os.Stderr, "hint: "+r)
			}
		}
		exitErr(stage.String(), resp.Err)
	}
	if out != nil && out.n > 0 {
		return
	}

	emit(struct {
		model.ModelResponse `yaml:",inline"`
		State               orchestrator.State `json:"state" yaml:"state"`
	}{resp, orch.State()}, func() string { return resp.Text })
}

func runPrompt(cmd *cobra.Command, args []string) {
	stage, err := model.ParseStage(args[0])
	if err != nil {
		exitErr("prompt", err)
	}
	in, err := readInput(cmd)
	if err != nil {
		exitErr("input", err)
	}
	ctx := cmd.Context()
	a := mustApp(ctx)
	defer a.Close()

	p, err := a.orchestrator(sessionID).Preview(ctx, stage, in, readQuery(cmd, args[1:]))
	if err != nil {
		exitErr("prompt", err)
	}
	emit(p, func() string { return p.Text })
}

// deltaWriter copies streamed text to w as it arrives.
type deltaWriter struct {
	w io.Writer
	n int
}

func (d *deltaWriter) write(s string) {
	n, _ := io.WriteString(d.w, s)
	d.n += n
}

// end terminates a streamed answer with a newline.
func (d *deltaWriter) end() {
	if d.n > 0 {
		fmt.Fprintln(d.w)
	}
}

func todayString() string { return time.Now().Format("2006-01-02") }
