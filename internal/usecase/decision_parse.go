package usecase

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"Rewind/internal/domain/models"
)

// decisionPayload is the structured output both paths must produce.
type decisionPayload struct {
	Decision            string          `json:"decision"`
	Confidence          json.RawMessage `json:"confidence"`
	Rationale           string          `json:"rationale"`
	RelevantEvidenceIDs []any           `json:"relevant_evidence_ids"`
}

type parsedDecision struct {
	Decision    models.Decision
	Confidence  float64
	Rationale   string
	EvidenceIDs []string
}

// parseDecision validates raw JSON against the decision schema. Every
// rejection wraps models.ErrValidationFailure.
func parseDecision(raw string) (*parsedDecision, error) {
	var p decisionPayload
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return nil, fmt.Errorf("%w: output is not a JSON object: %v", models.ErrValidationFailure, err)
	}

	label := models.Decision(strings.ToUpper(strings.TrimSpace(p.Decision)))
	if label == "" {
		return nil, fmt.Errorf("%w: missing 'decision' field", models.ErrValidationFailure)
	}
	if label != models.DecisionYes && label != models.DecisionNo {
		return nil, fmt.Errorf("%w: invalid decision value %q, must be YES or NO", models.ErrValidationFailure, p.Decision)
	}

	conf, err := parseConfidence(p.Confidence)
	if err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(p.RelevantEvidenceIDs))
	for _, v := range p.RelevantEvidenceIDs {
		switch id := v.(type) {
		case string:
			if id = strings.TrimSpace(id); id != "" {
				ids = append(ids, id)
			}
		case float64:
			ids = append(ids, strconv.FormatFloat(id, 'f', -1, 64))
		}
	}
	return &parsedDecision{
		Decision:    label,
		Confidence:  conf,
		Rationale:   strings.TrimSpace(p.Rationale),
		EvidenceIDs: ids,
	}, nil
}

func parseConfidence(raw json.RawMessage) (float64, error) {
	s := strings.TrimSpace(string(raw))
	if s == "" || s == "null" {
		return 0, fmt.Errorf("%w: missing 'confidence' field", models.ErrValidationFailure)
	}
	s = strings.Trim(s, `"`)
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, fmt.Errorf("%w: confidence must be a number, got %s", models.ErrValidationFailure, raw)
	}
	if v < 0 || v > 1 {
		return 0, fmt.Errorf("%w: confidence must be between 0.0 and 1.0, got %g", models.ErrValidationFailure, v)
	}
	return v, nil
}

// lastJSONObject returns the last balanced, valid top-level JSON object in s.
// Programs may print diagnostics before the result, so the tail wins.
func lastJSONObject(s string) (string, bool) {
	var (
		found    string
		depth    int
		start    = -1
		inString bool
		escaped  bool
	)
	for i := 0; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			if depth > 0 {
				inString = true
			}
		case '{':
			if depth == 0 {
				start = i
			}
			depth++
		case '}':
			if depth == 0 {
				continue
			}
			depth--
			if depth == 0 && start >= 0 {
				if cand := s[start : i+1]; json.Valid([]byte(cand)) {
					found = cand
				}
				start = -1
			}
		}
	}
	return found, found != ""
}

// stripFences removes a surrounding markdown code fence, if any.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		if nl := strings.IndexByte(s, '\n'); nl >= 0 {
			s = s[nl+1:]
		} else {
			s = strings.TrimPrefix(s, "```")
		}
	}
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "... (truncated)"
}
