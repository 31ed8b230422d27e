// Package visualization holds the map and chart payload produced for an
// assistant reply, and the interpreter that extracts it from raw model text.
package visualization

const (
	DefaultBorderColor     = "hsl(217 91% 60%)"
	DefaultBackgroundColor = "hsl(217 91% 60% / 0.1)"
)

// MapPoint is a single float position.
type MapPoint struct {
	Lat  float64  `json:"lat" firestore:"lat"`
	Lng  float64  `json:"lng" firestore:"lng"`
	ID   string   `json:"id" firestore:"id"`
	Temp *float64 `json:"temp,omitempty" firestore:"temp,omitempty"`
}

// Dataset is one line series of a chart.
type Dataset struct {
	Label           string    `json:"label" firestore:"label"`
	Data            []float64 `json:"data" firestore:"data"`
	BorderColor     string    `json:"borderColor,omitempty" firestore:"borderColor,omitempty"`
	BackgroundColor string    `json:"backgroundColor,omitempty" firestore:"backgroundColor,omitempty"`
}

// ChartData is a line chart over shared labels.
type ChartData struct {
	Labels     []string  `json:"labels" firestore:"labels"`
	XAxisLabel string    `json:"xAxisLabel,omitempty" firestore:"xAxisLabel,omitempty"`
	YAxisLabel string    `json:"yAxisLabel,omitempty" firestore:"yAxisLabel,omitempty"`
	Datasets   []Dataset `json:"datasets" firestore:"datasets"`
}

// Visualization is the structured answer of the model. The JSON field names
// are the contract stated in the prompt and must not change.
type Visualization struct {
	IsValidQuery bool       `json:"is_valid_query" firestore:"is_valid_query"`
	Summary      string     `json:"summary" firestore:"summary"`
	MapPoints    []MapPoint `json:"mapPoints,omitempty" firestore:"mapPoints,omitempty"`
	ChartData    *ChartData `json:"chartData,omitempty" firestore:"chartData,omitempty"`
}

// Renderable reports whether the visualization carries chart data for a
// relevant query. Only those are attached to messages. A chartData object
// without datasets still counts: the panel shows the map and an empty chart
// rather than demoting the answer to a summary-only reply.
func (v *Visualization) Renderable() bool {
	return v != nil && v.IsValidQuery && v.ChartData != nil
}

// ApplyDefaultColors fills dataset colors the model left out.
func (v *Visualization) ApplyDefaultColors() {
	if v == nil || v.ChartData == nil {
		return
	}
	for i := range v.ChartData.Datasets {
		ds := &v.ChartData.Datasets[i]
		if ds.BorderColor == "" {
			ds.BorderColor = DefaultBorderColor
		}
		if ds.BackgroundColor == "" {
			ds.BackgroundColor = DefaultBackgroundColor
		}
	}
}
