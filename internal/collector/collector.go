// Package collector turns raw user input and external sources into
// normalized context records.
package collector

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/rcliao/agriplan/internal/fuser"
	"github.com/rcliao/agriplan/internal/logger"
	"github.com/rcliao/agriplan/internal/metrics"
	"github.com/rcliao/agriplan/internal/model"
)

// Location is the plot position. Lat and Lon are nil when unknown.
type Location struct {
	Name string   `json:"name,omitempty" yaml:"name,omitempty"`
	Lat  *float64 `json:"lat,omitempty" yaml:"lat,omitempty"`
	Lon  *float64 `json:"lon,omitempty" yaml:"lon,omitempty"`
}

// HasCoords reports whether both coordinates are set.
func (l Location) HasCoords() bool { return l.Lat != nil && l.Lon != nil }

type Soil struct {
	PH            string `json:"ph,omitempty" yaml:"ph,omitempty"`
	OrganicMatter string `json:"organic_matter,omitempty" yaml:"organic_matter,omitempty"`
	Notes         string `json:"notes,omitempty" yaml:"notes,omitempty"`
}

type Goal struct {
	StartDate   string `json:"start_date,omitempty" yaml:"start_date,omitempty"`
	EndDate     string `json:"end_date,omitempty" yaml:"end_date,omitempty"`
	SeedType    string `json:"seed_type,omitempty" yaml:"seed_type,omitempty"`
	Fertilizer  string `json:"fertilizer,omitempty" yaml:"fertilizer,omitempty"`
	Irrigation  string `json:"irrigation,omitempty" yaml:"irrigation,omitempty"`
	TargetYield string `json:"target_yield,omitempty" yaml:"target_yield,omitempty"`
	Notes       string `json:"notes,omitempty" yaml:"notes,omitempty"`
}

// Upload is an uploaded crop photo. Data is base64 in JSON.
type Upload struct {
	Filename string `json:"filename,omitempty" yaml:"filename,omitempty"`
	Data     []byte `json:"data" yaml:"-"`
}

// Input is everything the farmer supplies for a stage.
type Input struct {
	Location    Location `json:"location" yaml:"location"`
	AreaMu      float64  `json:"area_mu,omitempty" yaml:"area_mu,omitempty"`
	Soil        Soil     `json:"soil" yaml:"soil"`
	CropType    string   `json:"crop_type,omitempty" yaml:"crop_type,omitempty"`
	Variety     string   `json:"variety,omitempty" yaml:"variety,omitempty"`
	Goal        Goal     `json:"goal" yaml:"goal"`
	Image       *Upload  `json:"image,omitempty" yaml:"-"`
	HorizonDays int      `json:"horizon_days,omitempty" yaml:"horizon_days,omitempty"`
}

// Collector produces the record of one variant. A nil record with a nil
// error means the input for the variant was not provided.
type Collector interface {
	Variant() model.Variant
	Collect(ctx context.Context, in Input) (*model.ContextRecord, error)
}

// Gatherer runs collectors concurrently.
type Gatherer struct {
	collectors []Collector
	log        *logger.Logger
	metrics    *metrics.Metrics
}

func NewGatherer(log *logger.Logger, m *metrics.Metrics, cs ...Collector) *Gatherer {
	return &Gatherer{collectors: cs, log: logger.Or(log).With("component", "collector"), metrics: m}
}

// Gather runs every collector. A failing collector marks its variant
// unavailable and never fails the whole gather; only cancellation of ctx
// returns an error.
func (g *Gatherer) Gather(ctx context.Context, in Input) (fuser.Input, error) {
	records := make([]*model.ContextRecord, len(g.collectors))
	errs := make([]error, len(g.collectors))

	var eg errgroup.Group
	for i, c := range g.collectors {
		eg.Go(func() error {
			rec, err := c.Collect(ctx, in)
			records[i], errs[i] = rec, err
			return nil
		})
	}
	eg.Wait()

	if err := ctx.Err(); err != nil {
		return fuser.Input{}, err
	}

	out := fuser.Input{}
	for i, c := range g.collectors {
		if errs[i] != nil {
			v := c.Variant()
			g.log.Warn("collector failed", "variant", v.String(), "error", errs[i])
			g.metrics.IncCollectorError(v.String())
			if out.Unavailable == nil {
				out.Unavailable = map[model.Variant]string{}
			}
			out.Unavailable[v] = errs[i].Error()
			continue
		}
		if records[i] != nil {
			out.Records = append(out.Records, *records[i])
		}
	}
	return out, nil
}

// fieldSet accumulates non-empty fields.
type fieldSet map[string]model.Value

func (f fieldSet) str(name, v string) {
	if v = strings.TrimSpace(v); v != "" {
		f[name] = model.String(v)
	}
}

func (f fieldSet) num(name string, v *float64) {
	if v != nil {
		f[name] = model.Number(*v)
	}
}

func (f fieldSet) record(v model.Variant, source string) *model.ContextRecord {
	if len(f) == 0 {
		return nil
	}
	r := model.NewRecord(v, source, time.Now().UTC(), f)
	return &r
}

// GeoCollector reads the plot location, area and soil.
type GeoCollector struct{}

func (GeoCollector) Variant() model.Variant { return model.Geographic }

func (GeoCollector) Collect(_ context.Context, in Input) (*model.ContextRecord, error) {
	f := fieldSet{}
	f.str("name", in.Location.Name)
	f.num("lat", in.Location.Lat)
	f.num("lon", in.Location.Lon)
	if in.AreaMu > 0 {
		a := in.AreaMu
		f.num("area_mu", &a)
	}
	f.str("soil_ph", in.Soil.PH)
	f.str("soil_organic_matter", in.Soil.OrganicMatter)
	f.str("soil_notes", in.Soil.Notes)
	return f.record(model.Geographic, "input/location"), nil
}

// CropCollector reads the crop type.
type CropCollector struct{}

func (CropCollector) Variant() model.Variant { return model.Crop }

func (CropCollector) Collect(_ context.Context, in Input) (*model.ContextRecord, error) {
	f := fieldSet{}
	f.str("crop_type", in.CropType)
	f.str("variety", in.Variety)
	return f.record(model.Crop, "input/crop"), nil
}

// GoalCollector reads the planting goal.
type GoalCollector struct{}

func (GoalCollector) Variant() model.Variant { return model.Goal }

func (GoalCollector) Collect(_ context.Context, in Input) (*model.ContextRecord, error) {
	f := fieldSet{}
	f.str("start_date", in.Goal.StartDate)
	f.str("end_date", in.Goal.EndDate)
	f.str("seed_type", in.Goal.SeedType)
	f.str("fertilizer", in.Goal.Fertilizer)
	f.str("irrigation", in.Goal.Irrigation)
	f.str("target_yield", in.Goal.TargetYield)
	f.str("notes", in.Goal.Notes)
	return f.record(model.Goal, "input/goal"), nil
}

func formatCoord(f float64) string {
	return strconv.FormatFloat(f, 'f', 4, 64)
}

func unavailable(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", model.ErrContextUnavailable, fmt.Sprintf(format, args...))
}
