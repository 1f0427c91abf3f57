package consensus

import (
	"fmt"
	"strings"
)

// Prompt templates are deterministic: the same request renders the same
// prompt for every model, which keeps fingerprints and cached results
// meaningful.

const (
	neutralTemplate = "Answer the following question accurately and concisely.\n\nQuestion: %s"

	roleTemplate = "You are %s. Answer the following question from that perspective, " +
		"drawing on the expertise the role implies. Be accurate and concise.\n\nQuestion: %s"

	debateTemplate = "You are participating in a structured debate%s. State your position " +
		"on the question below, defend it with your strongest arguments, and address the most " +
		"likely counterarguments.\n\nQuestion: %s"

	chainOfThoughtScaffold = "Think through this problem step by step:\n" +
		"1. Break the problem into its component parts.\n" +
		"2. Work through each part, showing your reasoning.\n" +
		"3. Combine the parts into a final answer.\n" +
		"End with a clear, standalone statement of your final answer.\n\n"

	socraticScaffold = "Approach this by questioning your own assumptions:\n" +
		"1. What is really being asked?\n" +
		"2. What assumptions underlie the obvious answer, and do they hold?\n" +
		"3. What would change your conclusion?\n" +
		"After the questioning, state your final answer plainly.\n\n"

	multiPerspectiveScaffold = "Consider this from at least three distinct perspectives " +
		"(for example: technical, practical, and critical). Summarise what each perspective " +
		"contributes, then reconcile them into a single final answer.\n\n"

	criticTemplate = "Review the following answer to a question. Identify factual errors, " +
		"gaps in reasoning, and missing considerations. Be specific and constructive; do not " +
		"rewrite the answer yourself.\n\nQuestion: %s\n\nAnswer under review:\n%s"

	reviserTemplate = "Improve the following answer using the critique provided. Keep what " +
		"is correct, fix what the critique identifies, and produce a complete revised answer. " +
		"Return only the revised answer.\n\nQuestion: %s\n\nCurrent answer:\n%s\n\nCritique:\n%s"
)

// RenderPrompt produces the prompt for the model at index idx. Roles wrap
// around when fewer roles than models were supplied; an empty role list
// falls back to the method's neutral framing.
func RenderPrompt(req *Request, idx int) string {
	var body string

	role := ""
	if len(req.Roles) > 0 {
		role = req.Roles[idx%len(req.Roles)]
	}

	switch req.Method {
	case MethodDebate:
		suffix := ""
		if role != "" {
			suffix = fmt.Sprintf(" as %s", role)
		}
		body = fmt.Sprintf(debateTemplate, suffix, req.Question)
	case MethodExpertRoles:
		if role != "" {
			body = fmt.Sprintf(roleTemplate, role, req.Question)
		} else {
			body = fmt.Sprintf(neutralTemplate, req.Question)
		}
	default: // direct_consensus, chain
		if role != "" {
			body = fmt.Sprintf(roleTemplate, role, req.Question)
		} else {
			body = fmt.Sprintf(neutralTemplate, req.Question)
		}
	}

	if req.EnableChainOfThought {
		body = reasoningScaffold(req.ReasoningMethod) + body
	}

	return body
}

// RenderCritic produces the critique prompt for a refinement round.
func RenderCritic(question, answer string) string {
	return fmt.Sprintf(criticTemplate, question, answer)
}

// RenderReviser produces the revision prompt for a refinement round.
func RenderReviser(question, answer, critique string) string {
	return fmt.Sprintf(reviserTemplate, question, answer, critique)
}

func reasoningScaffold(method string) string {
	switch method {
	case ReasoningSocraticMethod:
		return socraticScaffold
	case ReasoningMultiPerspective:
		return multiPerspectiveScaffold
	default:
		return chainOfThoughtScaffold
	}
}

// identicalTexts reports whether all texts are equal after trimming
// surrounding whitespace. The scorer short-circuits to a perfect score in
// that case.
func identicalTexts(texts []string) bool {
	if len(texts) < 2 {
		return true
	}
	first := strings.TrimSpace(texts[0])
	for _, t := range texts[1:] {
		if strings.TrimSpace(t) != first {
			return false
		}
	}
	return true
}
