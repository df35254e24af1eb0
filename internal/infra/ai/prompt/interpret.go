package prompt

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// SystemPrompt gives strict directions and the schema of the JSON output.
func SystemPrompt() string {
	return `You are a neuroimaging research statistician. You must produce one valid JSON object only (no markdown, no commentary) that follows the schema below. Do not include code fences.

Requirements:
- Output must be a single JSON object.
- Only discuss regions listed in the summary; never invent regions or numbers.
- direction is "higher", "lower", "positive", "negative" or "unclear", relative to the first group level or to the covariate.
- Mention the multiple-comparisons correction and any excluded regions in caveats.
- Keep every string short and factual.

Schema (example with empty values):
{
  "run_id": "<string>",
  "summary": "<string>",
  "significant_regions": [
    {"region": "<string>", "direction": "<higher|lower|positive|negative|unclear>", "note": "<string>"}
  ],
  "caveats": ["<string>"],
  "advice": "<string>"
}`
}

// UserPrompt wraps an artifact summary.
func UserPrompt(artifactURL, summary string) string {
	return fmt.Sprintf("Interpret this regional brain-measure analysis and respond with the JSON per schema.\nArtifact: %s\n\n%s", artifactURL, summary)
}

// Interpretation is the schema the model must follow.
type Interpretation struct {
	RunID              string   `json:"run_id"`
	Summary            string   `json:"summary"`
	SignificantRegions []Region `json:"significant_regions"`
	Caveats            []string `json:"caveats"`
	Advice             string   `json:"advice"`
}

type Region struct {
	Region    string `json:"region"`
	Direction string `json:"direction"`
	Note      string `json:"note"`
}

var directions = map[string]bool{"higher": true, "lower": true, "positive": true, "negative": true, "unclear": true}

// Normalize checks a model reply against the schema and re-encodes it
// compactly. Code fences around the object are tolerated.
func Normalize(raw string) (string, error) {
	s := strings.TrimSpace(raw)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	s = strings.TrimSpace(s)

	var out Interpretation
	if err := json.Unmarshal([]byte(s), &out); err != nil {
		return "", fmt.Errorf("model reply is not a JSON object: %w", err)
	}
	if strings.TrimSpace(out.Summary) == "" {
		return "", errors.New("model reply has no summary")
	}
	for i := range out.SignificantRegions {
		d := strings.ToLower(strings.TrimSpace(out.SignificantRegions[i].Direction))
		if !directions[d] {
			d = "unclear"
		}
		out.SignificantRegions[i].Direction = d
	}
	if out.SignificantRegions == nil {
		out.SignificantRegions = []Region{}
	}
	if out.Caveats == nil {
		out.Caveats = []string{}
	}
	b, err := json.Marshal(out)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
