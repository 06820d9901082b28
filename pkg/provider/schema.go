package provider

import "google.golang.org/genai"

// AICheckSchema is the response shape for content-origin classification.
var AICheckSchema = &genai.Schema{
	Type: genai.TypeObject,
	Properties: map[string]*genai.Schema{
		"ai_score":   {Type: genai.TypeNumber},
		"confidence": {Type: genai.TypeNumber},
		"reason":     {Type: genai.TypeString},
	},
	Required: []string{"ai_score", "confidence", "reason"},
}

// DecisionSchema restricts the attendance decision to its closed vocabulary.
var DecisionSchema = &genai.Schema{
	Type: genai.TypeObject,
	Properties: map[string]*genai.Schema{
		"attendance_decision": {Type: genai.TypeString, Enum: []string{"PRESENT", "ABSENT"}},
		"understanding_level": {Type: genai.TypeString, Enum: []string{"HIGH", "MEDIUM", "POOR"}},
		"reason":              {Type: genai.TypeString},
	},
	Required: []string{"attendance_decision", "understanding_level", "reason"},
}
