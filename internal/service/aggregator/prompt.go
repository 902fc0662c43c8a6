package aggregator

import (
	"fmt"
	"strings"

	"VentaBot/entity"
)

const genericCustomerName = "the customer"

// resolveDisplayName falls back to a generic placeholder when the channel
// only supplied a phone number as the display name.
func resolveDisplayName(conv *entity.Conversation) string {
	name := strings.TrimSpace(conv.CustomerName)
	if name == "" || isNumeric(name) {
		return genericCustomerName
	}
	return name
}

func isNumeric(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			if r == '+' || r == ' ' {
				continue
			}
			return false
		}
	}
	return true
}

// buildInstruction assembles the full system prompt for one turn: identity
// and tone, the customer's name, the current catalog and the strict output
// contract. Deterministic for a given input, so history replay sees the
// same shape.
func buildInstruction(b *entity.Bot, conv *entity.Conversation, state *entity.BotState, products []entity.Product, maxSegmentChars int) string {
	var sb strings.Builder

	sb.WriteString("You are a friendly, persuasive sales agent closing deals over chat.\n")
	if b.Persona != "" {
		sb.WriteString(b.Persona)
		sb.WriteString("\n")
	}

	fmt.Fprintf(&sb, "You are talking to %s.\n", resolveDisplayName(conv))

	if state != nil && !state.WelcomeSent && b.Welcome != "" {
		fmt.Fprintf(&sb, "This is the first contact: open with this greeting, adapted naturally: %q\n", b.Welcome)
	}
	if state != nil && state.LastIntent != "" {
		fmt.Fprintf(&sb, "Last detected customer intent: %s.\n", state.LastIntent)
	}

	sb.WriteString("\n# Catalog\n")
	if len(products) == 0 {
		sb.WriteString("No products are currently available; collect the customer's interest politely.\n")
	}
	for i := range products {
		writeProductBlock(&sb, &products[i])
	}

	sb.WriteString("\n# Output rules\n")
	fmt.Fprintf(&sb, "- Reply with ONLY a JSON object: {\"message1\": string, \"message2\": string, \"message3\": string, \"photos\": [string], \"report\": string, \"intent\": string}.\n")
	fmt.Fprintf(&sb, "- Each message is one short chat bubble, at most %d characters; leave message2/message3 empty when one bubble is enough.\n", maxSegmentChars)
	sb.WriteString("- photos: URLs taken ONLY from the catalog image pools; first-contact images before the customer has seen the product, additional or testimonial images afterwards. Empty list when no photo helps.\n")
	sb.WriteString("- report: empty string while the sale is open. When the customer has confirmed the order AND provided delivery details, fill report with a complete order summary (product, quantity, price, customer name, address, phone); a non-empty report closes the conversation.\n")
	sb.WriteString("- intent: one short label for what the customer currently wants.\n")
	sb.WriteString("- Never mention being an AI. Stay on the current product; do not invent products, prices or discounts.\n")

	return sb.String()
}

func writeProductBlock(sb *strings.Builder, p *entity.Product) {
	fmt.Fprintf(sb, "\n## %s\n", p.Name)
	for _, benefit := range p.Benefits {
		fmt.Fprintf(sb, "- %s\n", benefit)
	}
	if len(p.Pricing) > 0 {
		sb.WriteString("Pricing:\n")
		for _, tier := range p.Pricing {
			fmt.Fprintf(sb, "- %d+ units: %.2f %s each\n", tier.MinQuantity, tier.UnitPrice, tier.Currency)
		}
	}
	writeImagePool(sb, "First-contact images", p.Images.FirstContact)
	writeImagePool(sb, "Additional images", p.Images.Additional)
	writeImagePool(sb, "Testimonial images", p.Images.Testimonial)
	if p.Shipping != "" {
		fmt.Fprintf(sb, "Shipping: %s\n", p.Shipping)
	}
}

func writeImagePool(sb *strings.Builder, label string, urls []string) {
	if len(urls) == 0 {
		return
	}
	fmt.Fprintf(sb, "%s:\n", label)
	for _, u := range urls {
		fmt.Fprintf(sb, "- %s\n", u)
	}
}
