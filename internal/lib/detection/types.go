package detection

// ImpairmentState is the single label reported to the user for an analysis
// cycle. A frame can trip multiple impairment flags at once, but exactly one
// state is surfaced, chosen by fixed precedence in Classify.
type ImpairmentState string

const (
	StateDrunk      ImpairmentState = "drunk"
	StateSleepy     ImpairmentState = "sleepy"
	StateDistracted ImpairmentState = "distracted"
	StateNormal     ImpairmentState = "normal"
)

// RawVisualObservation is the normalized form of the vision model's JSON
// payload. The external payload is untrusted: every field is optional on
// input and absent flags default to false. Confidence is a pointer so an
// absent value can be distinguished from an explicit zero.
type RawVisualObservation struct {
	EyesRed        bool     `json:"eyesRed"`
	EyesGlassy     bool     `json:"eyesGlassy"`
	EyesHalfClosed bool     `json:"eyesHalfClosed"`
	EyesClosed     bool     `json:"eyesClosed"`
	FaceRed        bool     `json:"faceRed"`
	LookingAway    bool     `json:"lookingAway"`
	Confidence     *float64 `json:"confidence"`
}

// DetectionResult is the classification produced for one analysis cycle.
// Immutable once built; held as the current result until replaced or
// monitoring stops.
type DetectionResult struct {
	IsDrunk      bool            `json:"is_drunk"`
	IsSleepy     bool            `json:"is_sleepy"`
	IsDistracted bool            `json:"is_distracted"`
	Confidence   float64         `json:"confidence"`
	Indicators   []string        `json:"indicators"`
	State        ImpairmentState `json:"state"`
}

// Impaired reports whether any impairment flag fired.
func (r DetectionResult) Impaired() bool {
	return r.IsDrunk || r.IsSleepy || r.IsDistracted
}
