package report

import (
	"didlab/domain/did"
)

// MeanBar is one bar of the group-time means chart
type MeanBar struct {
	Label string  `json:"label"`
	Arm   string  `json:"arm"`
	Post  bool    `json:"post"`
	Mean  float64 `json:"mean"`
	N     int     `json:"n"`
}

// EventPoint is one marker of the event-study chart, with error bar bounds
type EventPoint struct {
	RelativeTime int     `json:"relative_time"`
	Time         string  `json:"time"`
	Coefficient  float64 `json:"coefficient"`
	CILower      float64 `json:"ci_lower"`
	CIUpper      float64 `json:"ci_upper"`
}

// ChartData is the plotting payload: the four cell means and the event-study
// profile. Either part is omitted when its branch produced no result.
type ChartData struct {
	RunID      string       `json:"run_id"`
	Outcome    string       `json:"outcome"`
	Means      []MeanBar    `json:"means,omitempty"`
	EventStudy []EventPoint `json:"event_study,omitempty"`
	// ReferenceTime is the omitted baseline period of the event study
	ReferenceTime string `json:"reference_time,omitempty"`
}

// BuildChartData extracts chart series from a report
func BuildChartData(r *did.Report) ChartData {
	c := ChartData{RunID: r.RunID.String(), Outcome: r.Columns.Outcome}

	if r.DID != nil {
		m := r.DID.Means
		c.Means = []MeanBar{
			{Label: "Treated (Pre)", Arm: r.DID.TreatedArm, Post: false, Mean: m.TreatedPre, N: m.NTreatedPre},
			{Label: "Treated (Post)", Arm: r.DID.TreatedArm, Post: true, Mean: m.TreatedPost, N: m.NTreatedPost},
			{Label: "Control (Pre)", Arm: r.DID.ControlArm, Post: false, Mean: m.ControlPre, N: m.NControlPre},
			{Label: "Control (Post)", Arm: r.DID.ControlArm, Post: true, Mean: m.ControlPost, N: m.NControlPost},
		}
	}

	if r.EventStudy != nil {
		c.ReferenceTime = r.EventStudy.ReferenceTime.String()
		for _, p := range r.EventStudy.Points {
			c.EventStudy = append(c.EventStudy, EventPoint{
				RelativeTime: p.RelativeTime,
				Time:         p.Time.String(),
				Coefficient:  p.Coefficient,
				CILower:      p.CILower,
				CIUpper:      p.CIUpper,
			})
		}
	}
	return c
}
