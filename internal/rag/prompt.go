package rag

import (
	"fmt"
	"strings"

	"github.com/liao/guide-bot/internal/chat"
	"github.com/liao/guide-bot/internal/persona"
	"github.com/liao/guide-bot/internal/store"
)

// ApologyMessage 合成失败时返回给用户的固定文案
const ApologyMessage = "I found some recommendations, but I had trouble summarizing them."

const noCandidatesText = "No specific recommendations found."

// BuildExpandPrompt 查询扩展
func BuildExpandPrompt(query string) string {
	var b strings.Builder
	b.WriteString("Analyze the following user query and brainstorm a set of 3-5 related, but distinct, search queries that capture different facets of the user's intent.\n")
	b.WriteString("The queries should be optimized for a vector similarity search in a recommendation database.\n")
	b.WriteString("Respond ONLY with a JSON array of strings, for example: [\"query one\", \"query two\", \"query three\"].\n\n")
	fmt.Fprintf(&b, "User Query: %q\n\n", query)
	b.WriteString("Expanded Queries:\n")
	return b.String()
}

// BuildFilterPrompt 否定约束过滤，只给出名称、摘要和引用
func BuildFilterPrompt(query string, candidates []store.Candidate) string {
	var b strings.Builder
	b.WriteString("You are checking recommendations against a user's request.\n")
	fmt.Fprintf(&b, "User Query: %q\n\n", query)
	b.WriteString("Candidates:\n")
	for i, c := range candidates {
		fmt.Fprintf(&b, "[%d] Name: %s\n    Summary: %s\n    Quote: %s\n", i, c.Name, c.Summary, c.Quote)
	}
	b.WriteString("\nIdentify any explicit negative constraints in the query (things the user says they do not want, dislike or want to exclude).\n")
	b.WriteString("Return the indices of the candidates that do NOT violate any of those constraints. If the query has no negative constraints, return every index.\n")
	b.WriteString("Respond ONLY with a JSON object of the form {\"valid_indices\": [0, 1]}.\n")
	return b.String()
}

// BuildSynthesisPrompt 组装回答提示词：设定、历史、最新问题、候选
func BuildSynthesisPrompt(guide *persona.Guide, query string, history []chat.Turn, candidates []store.Candidate) string {
	var b strings.Builder

	b.WriteString(guide.Intro())
	b.WriteString("\n\n")
	if extra := guide.FormatForPrompt(); extra != "" {
		b.WriteString("## About you\n")
		b.WriteString(extra)
		b.WriteString("\n")
	}

	b.WriteString("## Conversation so far\n")
	if len(history) == 0 {
		b.WriteString("(this is the start of the conversation)\n")
	}
	for _, t := range history {
		fmt.Fprintf(&b, "User: %s\nAI: %s\n", t.UserQuery, t.AIResponse)
	}
	b.WriteString("\n")

	fmt.Fprintf(&b, "## Latest query\n%q\n\n", query)

	b.WriteString("## Potential recommendations\n")
	b.WriteString(FormatCandidates(candidates))
	b.WriteString("\n")

	b.WriteString("## Rules\n")
	b.WriteString("1. Answer the latest query conversationally, keeping the conversation history in mind.\n")
	b.WriteString("2. If recommendations were found, explain why they are good, drawing from their summary or quote.\n")
	b.WriteString("3. Explicitly name every recommendation you discuss, e.g. \"For a classic slice, check out Tony's Pizza, known for its 'crispy crust'.\"\n")
	b.WriteString("4. Do not include the source URLs in the answer. They will be listed separately.\n")
	b.WriteString("5. If no recommendations were found, give a helpful answer based only on the conversation and the query. Never invent a place.\n")
	return b.String()
}

// FormatCandidates 候选编号从 1 开始
func FormatCandidates(candidates []store.Candidate) string {
	if len(candidates) == 0 {
		return noCandidatesText + "\n"
	}
	var b strings.Builder
	for i, c := range candidates {
		fmt.Fprintf(&b, "%d. Name: %s\n", i+1, c.Name)
		fmt.Fprintf(&b, "   Location: %s\n", c.Location)
		fmt.Fprintf(&b, "   Neighborhood: %s\n", c.Neighborhood)
		fmt.Fprintf(&b, "   Summary: %s\n", c.Summary)
		fmt.Fprintf(&b, "   Quote: %s\n", c.Quote)
		fmt.Fprintf(&b, "   Source URL: %s\n", c.SourceURL)
	}
	return b.String()
}
