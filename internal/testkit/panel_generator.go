package testkit

import (
	"encoding/csv"
	"fmt"
	"io"
	"math/rand"
	"time"

	"didlab/domain/panel"
)

// PanelGeneratorConfig configures the synthetic unit x period panel
type PanelGeneratorConfig struct {
	Units        int           `json:"units"`
	Periods      int           `json:"periods"`
	TreatedShare float64       `json:"treated_share"`
	Baseline     float64       `json:"baseline"`
	Effect       float64       `json:"effect"`        // added to treated rows from period floor(Periods/2)
	TrendSlope   float64       `json:"trend_slope"`   // per period, both arms
	TreatedDrift float64       `json:"treated_drift"` // extra per-period slope for the treated arm
	Noise        float64       `json:"noise"`         // sd of the row-level error
	UnitEffectSD float64       `json:"unit_effect_sd"`
	StartDate    time.Time     `json:"start_date"`
	Step         time.Duration `json:"step"`
	Covariates   bool          `json:"covariates"`
	Seed         int64         `json:"seed"`
}

// Column names written by the generator
const (
	ColUnit    = "unit"
	ColArm     = "arm"
	ColPeriod  = "period"
	ColOutcome = "conversion_rate"
	ColRegion  = "region"
	ColSize    = "store_size"

	ArmTreated = "treatment"
	ArmControl = "control"
)

// DefaultPanelConfig returns a small balanced panel with a 0.15 effect
func DefaultPanelConfig() PanelGeneratorConfig {
	return PanelGeneratorConfig{
		Units:        20,
		Periods:      6,
		TreatedShare: 0.5,
		Baseline:     0.10,
		Effect:       0.15,
		TrendSlope:   0.01,
		Noise:        0.01,
		UnitEffectSD: 0.02,
		StartDate:    time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		Step:         7 * 24 * time.Hour,
		Seed:         42,
	}
}

// PanelGenerator produces deterministic panels from a seed
type PanelGenerator struct {
	config PanelGeneratorConfig
	rng    *rand.Rand
}

// NewPanelGenerator creates a new generator
func NewPanelGenerator(config PanelGeneratorConfig) *PanelGenerator {
	return &PanelGenerator{
		config: config,
		rng:    rand.New(rand.NewSource(config.Seed)),
	}
}

// Generate builds the frame, rows ordered by unit then period. Unit 1 is
// always treated so the first-seen arm is the treated one.
func (g *PanelGenerator) Generate() (*panel.Frame, error) {
	c := g.config
	if c.Units < 2 || c.Periods < 1 {
		return nil, fmt.Errorf("panel needs at least 2 units and 1 period, got %d x %d", c.Units, c.Periods)
	}
	nTreated := int(float64(c.Units)*c.TreatedShare + 0.5)
	if nTreated < 1 {
		nTreated = 1
	}
	if nTreated >= c.Units {
		nTreated = c.Units - 1
	}

	n := c.Units * c.Periods
	unit := make([]panel.Value, 0, n)
	arm := make([]panel.Value, 0, n)
	period := make([]panel.Value, 0, n)
	outcome := make([]panel.Value, 0, n)
	region := make([]panel.Value, 0, n)
	size := make([]panel.Value, 0, n)

	regions := []string{"north", "south", "west"}
	for u := 0; u < c.Units; u++ {
		// spreads exactly nTreated units evenly over the unit range
		treated := (u*nTreated)%c.Units < nTreated
		unitEffect := g.rng.NormFloat64() * c.UnitEffectSD
		reg := regions[u%len(regions)]
		storeSize := float64(50 + g.rng.Intn(200))

		for t := 0; t < c.Periods; t++ {
			y := c.Baseline + unitEffect + c.TrendSlope*float64(t) + g.rng.NormFloat64()*c.Noise
			label := ArmControl
			if treated {
				label = ArmTreated
				y += c.TreatedDrift * float64(t)
				if t >= c.Periods/2 {
					y += c.Effect
				}
			}
			unit = append(unit, panel.Text(fmt.Sprintf("unit_%03d", u+1)))
			arm = append(arm, panel.Text(label))
			period = append(period, panel.Timestamp(c.StartDate.Add(time.Duration(t)*c.Step)))
			outcome = append(outcome, panel.Number(y))
			region = append(region, panel.Text(reg))
			size = append(size, panel.Number(storeSize))
		}
	}

	cols := []panel.Column{
		{Name: ColUnit, Kind: panel.KindText, Values: unit},
		{Name: ColArm, Kind: panel.KindText, Values: arm},
		{Name: ColPeriod, Kind: panel.KindTimestamp, Values: period},
		{Name: ColOutcome, Kind: panel.KindNumber, Values: outcome},
	}
	if c.Covariates {
		cols = append(cols,
			panel.Column{Name: ColRegion, Kind: panel.KindText, Values: region},
			panel.Column{Name: ColSize, Kind: panel.KindNumber, Values: size},
		)
	}
	return panel.NewFrame(cols...)
}

// Row is one literal record for hand-built fixtures
type Row struct {
	Unit    string
	Arm     string
	Time    panel.Value
	Outcome float64
}

// FrameFromRows builds a unit/arm/period/outcome frame from literal rows
func FrameFromRows(rows []Row) (*panel.Frame, error) {
	unit := make([]panel.Value, len(rows))
	arm := make([]panel.Value, len(rows))
	period := make([]panel.Value, len(rows))
	outcome := make([]panel.Value, len(rows))
	timeKind := panel.KindMissing
	for i, r := range rows {
		unit[i] = panel.Text(r.Unit)
		arm[i] = panel.Text(r.Arm)
		period[i] = r.Time
		outcome[i] = panel.Number(r.Outcome)
		if timeKind == panel.KindMissing {
			timeKind = r.Time.Kind
		}
	}
	return panel.NewFrame(
		panel.Column{Name: ColUnit, Kind: panel.KindText, Values: unit},
		panel.Column{Name: ColArm, Kind: panel.KindText, Values: arm},
		panel.Column{Name: ColPeriod, Kind: timeKind, Values: period},
		panel.Column{Name: ColOutcome, Kind: panel.KindNumber, Values: outcome},
	)
}

// WriteCSV writes a frame with a header row, cells rendered by Value.String
func WriteCSV(w io.Writer, frame *panel.Frame) error {
	cw := csv.NewWriter(w)
	names := frame.Names()
	if err := cw.Write(names); err != nil {
		return err
	}
	record := make([]string, len(names))
	for i := 0; i < frame.Len(); i++ {
		for j, name := range names {
			col, _ := frame.Column(name)
			record[j] = col.Values[i].String()
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
