package extractor

import (
	"encoding/json"
	"fmt"
	"strings"
)

// FormatError reports a completion that does not match the Answer shape.
type FormatError struct {
	Reason string
	Err    error
}

func (e *FormatError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Reason, e.Err)
	}
	return e.Reason
}

func (e *FormatError) Unwrap() error {
	return e.Err
}

type rawAnswer struct {
	Reports   *[]Candidate `json:"reports"`
	Reasoning string       `json:"reasoning"`
}

// ParseAnswer decodes the model's completion text. The whole answer is
// rejected if any part of it is unusable.
func ParseAnswer(raw string) (Answer, error) {
	body := stripFence(raw)
	if body == "" {
		return Answer{}, &FormatError{Reason: "empty completion"}
	}

	var resp rawAnswer
	if err := json.Unmarshal([]byte(body), &resp); err != nil {
		return Answer{}, &FormatError{Reason: "decode answer", Err: err}
	}
	if resp.Reports == nil {
		return Answer{}, &FormatError{Reason: `answer has no "reports" array`}
	}
	for i, c := range *resp.Reports {
		if strings.TrimSpace(c.Name) == "" {
			return Answer{}, &FormatError{Reason: fmt.Sprintf("report %d has no name", i)}
		}
	}

	return Answer{Reports: *resp.Reports, Reasoning: resp.Reasoning}, nil
}

// stripFence removes a surrounding ``` or ```json fence, which some models
// add despite being told not to.
func stripFence(raw string) string {
	s := strings.TrimSpace(raw)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	} else {
		s = ""
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
