package extractor

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// NormalizeResponse tolerates the shapes language models actually emit:
// fenced JSON, a list instead of an object, string or named importance
// levels, and missing or malformed dates. fallbackDate fills in when the
// model omits or garbles memory_date.
func NormalizeResponse(raw, fallbackDate string) (*Candidate, error) {
	text := stripFences(strings.TrimSpace(raw))
	if text == "" || strings.EqualFold(text, "NONE") {
		return nil, nil
	}

	var payload any
	if err := json.Unmarshal([]byte(text), &payload); err != nil {
		return nil, fmt.Errorf("extraction response is not valid JSON: %w", err)
	}

	// Some models wrap the object in a single-element list.
	if list, ok := payload.([]any); ok {
		if len(list) == 0 {
			return nil, nil
		}
		payload = list[0]
	}

	obj, ok := payload.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("extraction response has unexpected shape %T", payload)
	}

	content := coerceString(obj["content"])
	if strings.TrimSpace(content) == "" {
		return nil, nil
	}

	subject := coerceString(obj["subject"])
	if strings.TrimSpace(subject) == "" {
		subject = "General"
	}

	date := coerceString(obj["memory_date"])
	if _, err := time.Parse("2006-01-02", date); err != nil {
		date = fallbackDate
	}

	return &Candidate{
		Content:    content,
		MemoryDate: date,
		Subject:    subject,
		Importance: coerceImportance(obj["importance"]),
	}, nil
}

func stripFences(s string) string {
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if idx := strings.Index(s, "\n"); idx >= 0 {
		// Drop the language tag line, e.g. "json".
		s = s[idx+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

// coerceString flattens whatever value sits in a field into a string:
// lists join with spaces, nested objects render their values.
func coerceString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case []any:
		parts := make([]string, 0, len(t))
		for _, item := range t {
			if s := coerceString(item); s != "" {
				parts = append(parts, s)
			}
		}
		return strings.Join(parts, " ")
	case map[string]any:
		parts := make([]string, 0, len(t))
		for _, item := range t {
			if s := coerceString(item); s != "" {
				parts = append(parts, s)
			}
		}
		return strings.Join(parts, " ")
	default:
		return fmt.Sprint(t)
	}
}

// coerceImportance maps numbers and named levels onto the 1-5 scale,
// defaulting to 3 for anything unrecognized.
func coerceImportance(v any) int {
	switch t := v.(type) {
	case float64:
		return clampImportance(int(t))
	case string:
		switch strings.ToLower(strings.TrimSpace(t)) {
		case "high", "critical":
			return 5
		case "low", "trivial":
			return 1
		default:
			var n int
			if _, err := fmt.Sscanf(t, "%d", &n); err == nil {
				return clampImportance(n)
			}
			return 3
		}
	default:
		return 3
	}
}

func clampImportance(n int) int {
	if n < 1 {
		return 1
	}
	if n > 5 {
		return 5
	}
	return n
}
