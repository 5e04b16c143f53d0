package extractor

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/MikeSquared-Agency/tally/internal/locale"
	"github.com/MikeSquared-Agency/tally/internal/roster"
)

const systemPrompt = `You are a helpful assistant that extracts service report data from chat messages.

## Report fields
- name: the publisher's name
- isActive: whether the publisher has given a report and therefore counts as active
- hours: hours spent in service (optional, leave out if not given)
- studies: number of bible studies (optional, leave out if not given)
- comment: anything that belongs to the report but not to the other fields, such as bethel hours, sickness or conventions. Never copy the original message into the comment.

Each report also carries metadata:
- originalText: the fragment of the message the report came from
- isNew: true if the name could not be matched against the publisher list
- matchConfidence: high | medium | low
- reportedBy: "self", or the name of whoever reported on the publisher's behalf
- reasoning: how you arrived at this report

## Matching rules
Every report must be matched against the provided publisher list. Make a best effort.
1. Exact name match, case-insensitive
2. Fuzzy match: allow typos, missing diacritics and nickname variations
3. Family reporting:
   - "No [Name]:" or "From [Name]:" means a family head is reporting
   - "Visi sludināja" or "All preached" means every family member was active
   - List items after a family head's introduction belong to that family
4. If matching confidence is low, mark the report as a potentially new publisher
5. Explain difficult matches in the reasoning field

## Family detection
- Look for shared surnames in the publisher list
- Compare family names fuzzily; Dālbergs and Dālberga are the same family
- Use context to spot family relationships
- When a family head reports for others, distribute the information to each member

## Output
- Sort the reports array by family name.
- Only include publishers who actually gave a report or are mentioned with activity data in the message.
- Do not include publishers who appear only in the publisher list. Silence is not a report.
- A name that cannot be matched may be a new publisher; include it with isNew set to true.

Return ONLY a single valid JSON object. Do not wrap it in markdown code blocks.

Example:
{
  "reports": [
    {"name": "Kalle Johansson", "isActive": true, "hours": 25, "studies": 3, "comment": "Beteljobb 10h, sjuk 1d", "originalText": "Kalle: 25h, 3 studies, beteljobb 10h, sjuk 1d", "isNew": false, "matchConfidence": "high", "reportedBy": "self", "reasoning": "Exact match on first name and only Kalle in the list"}
  ],
  "reasoning": "Describe how you worked through the reports"
}`

const userPromptTemplate = `Extract data from the following message data:
<data>%s</data>

using this list with publisher names:
<publishers>%s</publishers>

IMPORTANT: Output all text content (names, comments, reasoning) in %s.`

// SystemPrompt returns the fixed extraction policy.
func SystemPrompt() string {
	return systemPrompt
}

// BuildPrompts renders the instruction pair for one extraction call.
func BuildPrompts(text string, participants []roster.Participant, language string) Prompts {
	return Prompts{
		System: systemPrompt,
		User:   fmt.Sprintf(userPromptTemplate, text, nameList(participants), locale.Lookup(language).Instruction),
	}
}

func nameList(participants []roster.Participant) string {
	names := make([]string, 0, len(participants))
	for _, p := range participants {
		names = append(names, p.Name)
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(names)
	return strings.TrimSuffix(buf.String(), "\n")
}
