package detection

import (
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

// FallbackSentinel is the single indicator carried by the parse-failure
// record. The UI shows it in place of real indicators.
const FallbackSentinel = "Analysis failed - unable to determine"

// ParseError indicates the model reply carried no decodable JSON object.
// Callers substitute FallbackResult rather than surfacing the error.
type ParseError struct {
	Reason string
	Raw    string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("unparseable model reply: %s", e.Reason)
}

// Parser extracts a RawVisualObservation from raw model output text. The
// model is asked for a bare JSON object but replies occasionally arrive
// wrapped in markdown fences or surrounded by prose.
type Parser struct {
	logger *zap.SugaredLogger
}

// NewParser creates a Parser. The logger records raw content on failures
// for diagnosis; parsing itself is a pure transform.
func NewParser(logger *zap.SugaredLogger) *Parser {
	return &Parser{logger: logger}
}

// Parse strips code-fence markers, locates the first balanced-looking {...}
// substring via a greedy brace match, and decodes it.
func (p *Parser) Parse(raw string) (RawVisualObservation, error) {
	cleaned := stripCodeFences(raw)

	start := strings.Index(cleaned, "{")
	end := strings.LastIndex(cleaned, "}")
	if start == -1 || end == -1 || end < start {
		p.logger.Warnw("No JSON object in model reply", "raw", raw)
		return RawVisualObservation{}, &ParseError{Reason: "no JSON object found", Raw: raw}
	}

	var obs RawVisualObservation
	if err := json.Unmarshal([]byte(cleaned[start:end+1]), &obs); err != nil {
		p.logger.Warnw("Model reply JSON did not decode", "raw", raw, "error", err)
		return RawVisualObservation{}, &ParseError{Reason: err.Error(), Raw: raw}
	}

	return obs, nil
}

// FallbackResult is the record substituted when a model reply could not be
// parsed: all flags false, confidence 0, one sentinel indicator.
func FallbackResult() DetectionResult {
	return DetectionResult{
		Confidence: 0,
		Indicators: []string{FallbackSentinel},
		State:      StateNormal,
	}
}

func stripCodeFences(s string) string {
	s = strings.TrimSpace(s)
	s = strings.ReplaceAll(s, "```json", "")
	s = strings.ReplaceAll(s, "```", "")
	return strings.TrimSpace(s)
}
