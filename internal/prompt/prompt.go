// Package prompt builds the enriched system prompt: a static persona block
// followed by a freshness block of current-period facts.
package prompt

import "strings"

// DefaultPersona is the built-in persona block for the AI-venture-capital
// research assistant. Deployments can replace it via configuration.
const DefaultPersona = `你是硅谷科技评论（SVTR.AI）的AI创投分析助手，专注于全球AI产业链的投融资研究。
You are the AI venture analyst of SVTR.AI, covering funding rounds, startups
and investors across the global AI landscape. 你用用户提问的语言回答，中文提问用中文回答，
英文提问用英文回答。回答保持专业、简洁，并注明数据的时间范围。`

// groundingInstruction is appended after the freshness block so the model
// anchors its answer in the supplied facts.
const groundingInstruction = `请基于以上最新行业事实回答问题，优先保证时效性与准确性。
Ground your answers in the facts above, prioritising recency and accuracy.`

// BuildSystemPrompt concatenates the persona block with the freshness facts
// block. It always returns a usable prompt: with an empty facts block the
// result degrades to persona-only text. Only trailing whitespace is trimmed
// from the persona, so the caller's persona text always prefixes the result.
func BuildSystemPrompt(basePersona, freshnessFacts string) string {
	persona := strings.TrimRight(basePersona, " \t\n")
	facts := strings.TrimSpace(freshnessFacts)

	if facts == "" {
		return persona
	}

	var b strings.Builder
	b.WriteString(persona)
	b.WriteString("\n\n")
	b.WriteString(facts)
	b.WriteString("\n\n")
	b.WriteString(groundingInstruction)
	return b.String()
}
