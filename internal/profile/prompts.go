package profile

import (
	"encoding/json"
	"fmt"

	"github.com/kalambet/aide/internal/backend"
)

const extractionSystemPrompt = `You are a profile extraction engine. Analyze the input for details about the user. Your output must be ONLY a single valid JSON object that conforms to the provided schema. Do not include any other text, prose, or markdown.

Extract information only if it reveals something meaningful about the user's background, experience, interests, goals, skills, preferences, work style, or domain knowledge.

Rules:
- Only extract information that is clearly about the user, not about others or general topics.
- Organize extracted_info by category (e.g. "background", "interests", "goals").
- Rate confidence from 0 to 1.
- If no relevant information is found, set has_relevant_info to false and leave the other fields empty.`

const mergeSystemPrompt = `You are a profile merge engine. Combine the new user information into the existing profile. Your output must be ONLY a single valid JSON object that conforms to the provided schema.

Rules:
- Preserve existing information unless the new information is more specific or carries higher confidence.
- Never drop existing sections that the new information does not touch.
- Add new information in appropriate sections.
- Resolve conflicts in favor of more recent, more specific, or higher-confidence information.
- Keep the profile concise but detailed.
- Set insight to a brief note about what was learned about the user.`

// buildExtractionMessages constructs the chat messages for the extraction
// phase.
func buildExtractionMessages(input string, src Source) []backend.Message {
	kind := "conversation"
	if src == SourceDirect {
		kind = "direct profile information"
	}
	return []backend.Message{
		{Role: "system", Content: extractionSystemPrompt},
		{Role: "user", Content: fmt.Sprintf("Input type: %s\n\nInput:\n%s", kind, input)},
	}
}

// buildMergeMessages constructs the chat messages for the merge phase.
func buildMergeMessages(current map[string]any, extracted map[string]any, confidence float64) ([]backend.Message, error) {
	currentJSON, err := json.MarshalIndent(current, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshaling current profile: %w", err)
	}
	extractedJSON, err := json.MarshalIndent(extracted, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshaling extracted info: %w", err)
	}

	user := fmt.Sprintf("Current profile:\n%s\n\nNew information:\n%s\n\nConfidence in new information: %.2f",
		currentJSON, extractedJSON, confidence)
	return []backend.Message{
		{Role: "system", Content: mergeSystemPrompt},
		{Role: "user", Content: user},
	}, nil
}

// extractionSchema is the JSON schema for the extraction phase response.
func extractionSchema() *backend.Schema {
	return &backend.Schema{
		Type: "object",
		Properties: map[string]backend.SchemaProperty{
			"has_relevant_info": {Type: "boolean", Description: "Whether meaningful user information was found"},
			"extracted_info":    {Type: "object", Description: "Extracted information organized by category"},
			"confidence":        {Type: "number", Description: "Confidence in the extracted information, 0 to 1"},
			"reasoning":         {Type: "string", Description: "Why this information is relevant to the user profile"},
		},
		Required: []string{"has_relevant_info", "extracted_info", "confidence", "reasoning"},
	}
}

// mergeSchema is the JSON schema for the merge phase response.
func mergeSchema() *backend.Schema {
	return &backend.Schema{
		Type: "object",
		Properties: map[string]backend.SchemaProperty{
			"profile": {Type: "object", Description: "The complete merged profile document"},
			"insight": {Type: "string", Description: "Brief note about what was learned about the user"},
		},
		Required: []string{"profile", "insight"},
	}
}
