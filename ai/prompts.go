package ai

import "fmt"

const expansionResponseSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "array",
  "items": {
    "type": "object",
    "properties": {
      "location": {"type": "string"},
      "reason": {"type": "string"}
    },
    "required": ["location", "reason"],
    "additionalProperties": false
  }
}`

const expansionPromptTemplate = `You are a travel recommendation assistant.

RULES:
- Only consider locations that are in %[1]s.
- From the information given by the query find the priorities, then pick the TOP %[2]d best matching locations in %[1]s.
- If fewer than %[2]d eligible locations exist in %[1]s, return as many as you can.
- Each location must be unique.
- Briefly explain WHY each location was selected.
- Order the entries from most to least relevant to the query.
- Output ONLY a JSON array. Do not include any preamble, explanation or markdown.
- Each entry must have the field "location" and the field "reason".

The output must comply with this schema:

%[3]s

Example:
Query: medieval castles with sea views
Output:
[
  {"location": "Dunluce Castle", "reason": "ruined medieval castle on a clifftop above the sea"},
  {"location": "Bunratty Castle", "reason": "restored 15th century tower house near the Shannon estuary"}
]

Query: `

// ExpansionPreamble returns the fixed instruction text sent ahead of every
// query. It ends with "Query: " so the raw query can be appended directly.
func ExpansionPreamble(region string, maxCandidates int) string {
	return fmt.Sprintf(expansionPromptTemplate, region, maxCandidates, expansionResponseSchema)
}

// ExpansionPrompt concatenates the preamble and the caller's raw query.
func ExpansionPrompt(region string, maxCandidates int, query string) string {
	return ExpansionPreamble(region, maxCandidates) + query
}
