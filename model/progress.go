package model

// Phase tags the stage a predictive search is in.
type Phase string

const (
	PhaseFiltering Phase = "filtering"
	PhaseCoarse    Phase = "coarse"
	PhaseRefining  Phase = "refining"
	PhaseComplete  Phase = "complete"
)

// PredictionProgress is reported while a predictive search runs.
type PredictionProgress struct {
	Phase   Phase
	Percent float64
	Status  string
}
