package usecase

import (
	"fmt"
	"strings"
	"time"

	"Rewind/internal/domain/models"
)

const (
	codeSystemPrompt = "You are an expert trading agent analyzing prediction markets. " +
		"You will receive market context and news articles. " +
		"Write Python code that analyzes this information and returns a decision. " +
		"The code must be robust and handle edge cases."

	refineSystemPrompt = "You are debugging Python code that failed to execute properly. " +
		"Fix the code based on the error message and execution history. " +
		"Return ONLY the corrected Python code, no explanations."

	explainSystemPrompt = "You are analyzing code execution results. " +
		"Explain what the code computed and how it arrived at its decision. " +
		"Be concise but informative."

	directSystemPrompt = "You are an expert trading agent analyzing prediction markets. " +
		"Analyze the market context and news to make a decision."

	querySystemPrompt = "You generate web search queries that help forecast the outcome of a prediction market. " +
		"Respond with JSON only."

	resultShape = `{"decision": "YES" or "NO", "confidence": 0.0-1.0, "rationale": "explanation", "relevant_evidence_ids": ["id1", "id2"]}`
)

func marketHeader(ic *models.IntervalContext) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Market: %s\n", orDefault(ic.Market.Title, "Unknown"))
	fmt.Fprintf(&b, "Description: %s\n", orDefault(ic.Market.Description, "N/A"))
	fmt.Fprintf(&b, "Current Price (YES probability): %.2f%%\n", ic.MarketState.Price*100)
	fmt.Fprintf(&b, "Time: %s\n", ic.Time.UTC().Format(time.RFC3339))
	return b.String()
}

func buildCodePrompt(ic *models.IntervalContext) string {
	var b strings.Builder
	b.WriteString(marketHeader(ic))
	fmt.Fprintf(&b, "Number of news articles: %d\n", len(ic.Evidence))
	fmt.Fprintf(&b, "Previous interval decisions: %d\n\n", len(ic.PreviousDecisions))
	b.WriteString("Write Python code that:\n" +
		"1. Analyzes the market context and news articles\n" +
		"2. Determines if the event will happen (YES) or not (NO)\n" +
		"3. Assigns a confidence score (0.0 to 1.0)\n" +
		"4. Provides a rationale explaining the decision\n" +
		"5. Lists IDs of the most relevant evidence\n\n")
	fmt.Fprintf(&b, "Assign a dictionary to a variable named `result` with this exact structure:\nresult = %s\n\n", resultShape)
	b.WriteString("Use the `context` variable, which holds time, market, current_price, news, recent_history and previous_decisions. " +
		"Handle cases where news is empty or fields are missing.")
	return b.String()
}

func buildRefinePrompt(ic *models.IntervalContext, code, lastErr string, history []attemptRecord) string {
	var b strings.Builder
	fmt.Fprintf(&b, "The following code failed to execute:\n\n```python\n%s\n```\n\n", truncate(code, 2000))
	fmt.Fprintf(&b, "Error: %s\n\n", truncate(orDefault(lastErr, "Unknown error"), 500))
	b.WriteString("Execution History:\n")
	from := 0
	if len(history) > 3 {
		from = len(history) - 3
	}
	for _, h := range history[from:] {
		fmt.Fprintf(&b, "Attempt %d: %s\n", h.attempt, truncate(h.err, 200))
	}
	fmt.Fprintf(&b, "\nMarket Context:\n- Market: %s\n- Current Price: %.2f%%\n- News Articles: %d\n\n",
		orDefault(ic.Market.Title, "Unknown"), ic.MarketState.Price*100, len(ic.Evidence))
	fmt.Fprintf(&b, "Fix the code to:\n1. Execute without errors\n2. Assign `result` = %s\n3. Use the `context` variable which contains all market data\n\n", resultShape)
	b.WriteString("Return ONLY the corrected Python code.")
	return b.String()
}

func buildExplainPrompt(ic *models.IntervalContext, code, output string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Code that was executed:\n```python\n%s\n```\n\n", truncate(code, 1000))
	fmt.Fprintf(&b, "Execution Result:\n%s\n\n", output)
	fmt.Fprintf(&b, "Market Context:\n- Market: %s\n- Current Price: %.2f%%\n- News Articles Analyzed: %d\n\n",
		orDefault(ic.Market.Title, "Unknown"), ic.MarketState.Price*100, len(ic.Evidence))
	b.WriteString("Explain:\n1. What analysis the code performed\n2. What factors influenced the decision\n" +
		"3. How the confidence score was determined\n4. What evidence was considered most relevant")
	return b.String()
}

func buildDirectPrompt(ic *models.IntervalContext, fallback bool) string {
	var b strings.Builder
	b.WriteString(marketHeader(ic))
	b.WriteString("News Articles:\n")
	for i, ev := range ic.Evidence {
		if i == 5 {
			break
		}
		published := "undated"
		if ev.PublishedAt != nil {
			published = ev.PublishedAt.UTC().Format(time.RFC3339)
		}
		fmt.Fprintf(&b, "- (%s) [%s] %s\n  %s\n\n", ev.ID, published, ev.Title, truncate(ev.Text, 200))
	}
	if n := len(ic.PreviousDecisions); n > 0 {
		b.WriteString("Previous Decisions:\n")
		for _, pd := range ic.PreviousDecisions[max(0, n-5):] {
			fmt.Fprintf(&b, "- %s: %s (confidence %.2f, price %.2f%%)\n",
				pd.Timestamp.UTC().Format(time.RFC3339), pd.Decision, pd.Confidence, pd.Market.Price*100)
		}
		b.WriteString("\n")
	}
	fmt.Fprintf(&b, "Return your decision as JSON: %s", resultShape)
	if fallback {
		b.WriteString("\n\nNote: This is a fallback decision after code execution failed.")
	}
	return b.String()
}

func buildQueryPrompt(info models.MarketInfo, at time.Time, minQ, maxQ int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Market: %s\n", orDefault(info.Title, info.Slug))
	if info.Question != "" {
		fmt.Fprintf(&b, "Question: %s\n", info.Question)
	}
	fmt.Fprintf(&b, "Description: %s\n", truncate(orDefault(info.Description, "N/A"), 1000))
	fmt.Fprintf(&b, "Current date: %s\n\n", at.UTC().Format("2006-01-02"))
	fmt.Fprintf(&b, "Generate between %d and %d distinct search queries for recent news relevant to this market. ", minQ, maxQ)
	b.WriteString(`Respond as {"queries": ["query one", "query two"]}.`)
	return b.String()
}

func orDefault(s, def string) string {
	if strings.TrimSpace(s) == "" {
		return def
	}
	return s
}
