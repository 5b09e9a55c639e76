package core

import (
	"fmt"
	"strings"

	"github.com/mohammad-safakhou/cartpilot/models"
)

const planInstruction = `You turn shopping requests into storefront search queries.
Reply with one short search string a shopper would type into an online store's search box.
No quotes, no explanations, no punctuation beyond what the product name needs.`

const rankInstruction = `You rank products for a shopper.
From the numbered products below, pick the five that best match the shopper's request.
Reply with exactly five product titles, best first, one per line, copied verbatim from the list.
Do not add numbering, commentary or any other text.`

const labelInstruction = `You shorten product titles into labels a person can scan quickly.
For every title below write one short label (at most six words) that keeps brand, type and key attribute.
Reply with one label per line in the same order as the titles, and nothing else.`

const resolveInstruction = `You map a shopper's reply to an option number.
The shopper was shown the numbered options below and answered in free text.
Reply with a single integer between 1 and %d naming the option they meant.
If the reply is unclear, nonsensical or empty, reply with 1. Never reply with anything but the integer.`

func planPrompt(userPrompt string) string {
	return fmt.Sprintf("%s\n\nRequest: %s\nSearch query:", planInstruction, strings.TrimSpace(userPrompt))
}

func rankPrompt(cands []models.Candidate, userPrompt string) string {
	var b strings.Builder
	b.WriteString(rankInstruction)
	fmt.Fprintf(&b, "\n\nShopper request: %s\n\nProducts:\n", strings.TrimSpace(userPrompt))
	for i, c := range cands {
		fmt.Fprintf(&b, "%d. %s", i+1, c.Title)
		if c.Brand != "" {
			fmt.Fprintf(&b, " | brand: %s", c.Brand)
		}
		if c.Price != "" {
			fmt.Fprintf(&b, " | price: %s", c.Price)
		}
		if c.Rating > 0 {
			fmt.Fprintf(&b, " | rating: %d/5", c.Rating)
		}
		b.WriteByte('\n')
	}
	return b.String()
}

func labelPrompt(sel models.RankedSelection) string {
	var b strings.Builder
	b.WriteString(labelInstruction)
	b.WriteString("\n\nTitles:\n")
	for _, c := range sel {
		b.WriteString(c.Title)
		b.WriteByte('\n')
	}
	return b.String()
}

func resolvePrompt(sel models.RankedSelection, labels []string, raw string) string {
	var b strings.Builder
	fmt.Fprintf(&b, resolveInstruction, len(sel))
	b.WriteString("\n\nOptions:\n")
	for i, c := range sel {
		label := c.Title
		if i < len(labels) && labels[i] != "" {
			label = labels[i] + " (" + c.Title + ")"
		}
		fmt.Fprintf(&b, "%d. %s\n", i+1, label)
	}
	fmt.Fprintf(&b, "\nShopper reply: %q\nOption number:", raw)
	return b.String()
}
