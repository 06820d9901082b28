package ocr

// UnclearMarker stands in for characters that cannot be read.
const UnclearMarker = "[UNCLEAR]"

// Prompt is the transcription contract every vision provider receives. Both extraction
// slots use the same text so that primary and fallback output are interchangeable.
const Prompt = `You are performing OCR and transcription ONLY.

CRITICAL RULES:
- Do NOT rewrite, paraphrase, summarize, or correct the text.
- Do NOT normalize grammar, spelling, or punctuation.
- Do NOT merge or split sentences.
- Do NOT remove redundancy or repeated lines.
- Do NOT infer missing words.
- Do NOT improve clarity or flow.

Preservation requirements:
- Preserve original line breaks, spacing, and paragraph structure.
- Preserve bullet points, numbering, and headings exactly as they appear.
- Preserve spelling mistakes, grammatical errors, and inconsistencies.
- Preserve duplicated phrases or sentences verbatim.
- Preserve capitalization and unusual formatting.

If text is unclear or ambiguous:
- Transcribe the closest visible characters.
- Use ` + UnclearMarker + ` only when characters cannot be read.

Output format:
- Plain text only.
- No commentary, no explanations, no corrections.

Goal:
Produce a faithful transcription that maximally preserves original authorship signals and entropy.`
