package assist

import (
	"encoding/json"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/FACorreiaa/ledger-reconciler/internal/domain/common"
)

const (
	actionMerge        = "merge"
	actionKeepSeparate = "keep_separate"
	noReasoning        = "No reasoning provided"
	neutralConfidence  = 0.5
)

var jsonObject = regexp.MustCompile(`(?s)\{.*\}`)

// StripCodeFence removes a leading ```json or ``` fence and every closing fence.
func StripCodeFence(content string) string {
	content = strings.TrimSpace(content)
	switch {
	case strings.HasPrefix(content, "```json"):
		content = strings.ReplaceAll(strings.ReplaceAll(content, "```json", ""), "```", "")
	case strings.HasPrefix(content, "```"):
		content = strings.ReplaceAll(content, "```", "")
	}
	return strings.TrimSpace(content)
}

// DecodeRecordList decodes a JSON array of objects into string-valued rows.
// Objects without both date and amount are dropped; anything other than an
// array yields nil.
func DecodeRecordList(content string) []map[string]string {
	dec := json.NewDecoder(strings.NewReader(StripCodeFence(content)))
	dec.UseNumber()

	var items []any
	if err := dec.Decode(&items); err != nil {
		return nil
	}

	var rows []map[string]string
	for _, item := range items {
		obj, ok := item.(map[string]any)
		if !ok {
			continue
		}
		if _, ok := obj["date"]; !ok {
			continue
		}
		if _, ok := obj["amount"]; !ok {
			continue
		}

		row := make(map[string]string, len(obj))
		for key, value := range obj {
			if s, ok := stringify(value); ok {
				row[key] = s
			}
		}
		rows = append(rows, row)
	}
	return rows
}

func stringify(value any) (string, bool) {
	switch v := value.(type) {
	case string:
		return v, true
	case json.Number:
		return v.String(), true
	case bool:
		return strconv.FormatBool(v), true
	default:
		return "", false
	}
}

// DecodeVerdict reads the first {...} object of a duplicate analysis. When no
// object parses, the presence of "duplicate" or "merge" gives a best-effort
// verdict at confidence 0.5.
func DecodeVerdict(content string) common.DuplicateVerdict {
	if match := jsonObject.FindString(content); match != "" {
		var raw struct {
			AreDuplicates     *bool    `json:"are_duplicates"`
			Confidence        *float64 `json:"confidence"`
			Reasoning         *string  `json:"reasoning"`
			RecommendedAction *string  `json:"recommended_action"`
		}
		if err := json.Unmarshal([]byte(match), &raw); err == nil {
			verdict := common.DuplicateVerdict{
				Reasoning:         noReasoning,
				RecommendedAction: actionKeepSeparate,
			}
			if raw.AreDuplicates != nil {
				verdict.AreDuplicates = *raw.AreDuplicates
			}
			if raw.Confidence != nil {
				verdict.Confidence = clamp(*raw.Confidence)
			}
			if raw.Reasoning != nil {
				verdict.Reasoning = *raw.Reasoning
			}
			if raw.RecommendedAction != nil {
				verdict.RecommendedAction = *raw.RecommendedAction
			}
			return verdict
		}
	}

	lower := strings.ToLower(content)
	verdict := common.DuplicateVerdict{
		AreDuplicates:     strings.Contains(lower, "duplicate") || strings.Contains(lower, "merge"),
		Confidence:        neutralConfidence,
		Reasoning:         content,
		RecommendedAction: actionKeepSeparate,
	}
	if strings.Contains(lower, "duplicate") {
		verdict.RecommendedAction = actionMerge
	}
	return verdict
}

// DecodeConfidence parses a bare number clamped to [0,1]; anything else is 0.5.
func DecodeConfidence(content string) float64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(content), 64)
	if err != nil || math.IsNaN(v) {
		return neutralConfidence
	}
	return clamp(v)
}

func clamp(v float64) float64 {
	return max(0, min(1, v))
}
