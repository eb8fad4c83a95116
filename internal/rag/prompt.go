package rag

import "strings"

const groundedPrompt = `You are a helpful dental clinic voice assistant.

=== CLINIC KNOWLEDGE ===
%CONTEXT%
=== END OF KNOWLEDGE ===

IMPORTANT RULES:
1. Answer ONLY using the clinic knowledge above
2. If info not found, say "I don't have that information, please ask the receptionist"
3. Keep responses short (2-3 sentences), clear, conversational
4. Do NOT make up information or guess prices/timings
5. No emojis - this is voice output`

const ungroundedPrompt = `You are a helpful dental clinic voice assistant.
Keep responses short, clear, and friendly. No emojis.
If you don't know clinic information, say "I don't have that information, please ask the receptionist".`

const replyFormat = `

Reply with one JSON object and nothing else:
{"action": "rag", "say": "<the words to speak>", "intent": "<short label for what the caller wants>", "needs_followup": <true if you asked the caller something>}`

// SystemPrompt returns the grounding prompt for context. An empty context
// selects the variant without a knowledge block.
func SystemPrompt(context string) string {
	context = strings.TrimSpace(context)
	if context == "" {
		return ungroundedPrompt + replyFormat
	}
	return strings.Replace(groundedPrompt, "%CONTEXT%", context, 1) + replyFormat
}
