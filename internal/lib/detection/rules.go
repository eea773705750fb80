package detection

// Indicator labels, appended in fixed order when the matching flag is set.
const (
	IndicatorRedEyes       = "red eyes"
	IndicatorGlassyEyes    = "glassy eyes"
	IndicatorDroopyEyelids = "droopy eyelids"
	IndicatorEyesClosed    = "eyes closed"
	IndicatorFacialRedness = "facial redness"
	IndicatorLookingAway   = "looking away"
)

// defaultConfidence is used when the model omits a confidence value.
const defaultConfidence = 75.0

// Classify maps a RawVisualObservation to a DetectionResult using fixed,
// non-configurable rules. State precedence is drunk > sleepy > distracted >
// normal: drunk detection dominates the reported label even when sleepy
// indicators also fire.
func Classify(obs RawVisualObservation) DetectionResult {
	result := DetectionResult{
		IsDrunk:      (obs.EyesRed || obs.EyesGlassy) && (obs.FaceRed || obs.EyesHalfClosed),
		IsSleepy:     obs.EyesClosed || obs.EyesHalfClosed,
		IsDistracted: obs.LookingAway,
	}

	if obs.EyesRed {
		result.Indicators = append(result.Indicators, IndicatorRedEyes)
	}
	if obs.EyesGlassy {
		result.Indicators = append(result.Indicators, IndicatorGlassyEyes)
	}
	if obs.EyesHalfClosed {
		result.Indicators = append(result.Indicators, IndicatorDroopyEyelids)
	}
	if obs.EyesClosed {
		result.Indicators = append(result.Indicators, IndicatorEyesClosed)
	}
	if obs.FaceRed {
		result.Indicators = append(result.Indicators, IndicatorFacialRedness)
	}
	if obs.LookingAway {
		result.Indicators = append(result.Indicators, IndicatorLookingAway)
	}

	switch {
	case result.IsDrunk:
		result.State = StateDrunk
	case result.IsSleepy:
		result.State = StateSleepy
	case result.IsDistracted:
		result.State = StateDistracted
	default:
		result.State = StateNormal
	}

	confidence := defaultConfidence
	if obs.Confidence != nil {
		confidence = *obs.Confidence
	}
	if confidence < 0 {
		confidence = 0
	}
	if confidence > 100 {
		confidence = 100
	}
	result.Confidence = confidence

	return result
}
