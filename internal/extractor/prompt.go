package extractor

import "fmt"

func buildExtractionPrompt(document string) string {
	return fmt.Sprintf(`Extract the key information from this bank letter that customers need to know.

LETTER:
%s

Rules:
- Only list information that is ACTUALLY IN THE LETTER. Do not add anything.
- CRITICAL: dates, deadlines, amounts, rates, legal obligations.
- IMPORTANT: required actions, contact details, features, benefits.
- CONTEXTUAL: background, greetings or closings that matter to the customer.
- Do not list things the letter says are absent (for example "no fees mentioned").

Return a JSON array with at least 3 points:
[{"content": "...", "importance": "CRITICAL|IMPORTANT|CONTEXTUAL", "category": "date|amount|deadline|action|contact|feature|benefit|legal|general", "explanation": "..."}]`, document)
}
