package decision

import (
	"fmt"
	"strings"
)

func buildPrompt(in Input, maxChars int) string {
	text := strings.TrimSpace(in.OCRText)
	if maxChars > 0 {
		if r := []rune(text); len(r) > maxChars {
			text = string(r[:maxChars]) + " ..."
		}
	}
	if text == "" {
		text = "(no readable text)"
	}
	concept := strings.TrimSpace(in.Concept)
	if concept == "" {
		concept = "(not provided by the teacher)"
	}
	copied := "none"
	if in.CopiedFrom != nil {
		copied = in.CopiedFrom.String()
	}

	var b strings.Builder
	b.WriteString(`You decide whether a student attended a lecture, based on the notes they photographed
during the lecture.

Rules:
- ABSENT when the notes are very likely AI generated (ai_score >= 0.8 with confidence >= 0.6).
- ABSENT when the notes are very likely copied from another student (max_similarity >= 0.9).
- ABSENT when there is no readable text.
- ABSENT when the notes have nothing to do with the lecture concept.
- Otherwise PRESENT.
`)
	fmt.Fprintf(&b, "understanding_level rates how well the notes cover the lecture concept:\n"+
		"%s (key ideas in the student's own words), %s (partial), %s (little or none).\n\n",
		LevelHigh, LevelMedium, LevelPoor)
	fmt.Fprintf(&b, "Answer with JSON only, exactly these fields:\n"+
		`{"attendance_decision": "PRESENT" | "ABSENT", "understanding_level": %q | %q | %q, "reason": "<one or two sentences>"}`+"\n\n",
		LevelHigh, LevelMedium, LevelPoor)
	fmt.Fprintf(&b, "Subject: %s\n", in.SubjectName)
	fmt.Fprintf(&b, "Lecture concept: %s\n", concept)
	fmt.Fprintf(&b, "ai_score: %.2f\nai_confidence: %.2f\nai_reason: %s\n", in.AIScore, in.AIConfidence, in.AIReason)
	fmt.Fprintf(&b, "max_similarity: %.2f\ncopied_from: %s\n", in.MaxSimilarity, copied)
	fmt.Fprintf(&b, "Notes:\n\"\"\"\n%s\n\"\"\"\n", text)
	return b.String()
}
