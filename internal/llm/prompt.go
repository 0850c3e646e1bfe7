package llm

import (
	"strings"

	"github.com/dvloznov/finsight/internal/domain"
)

// SystemPrompt is shared by every provider and both extraction paths.
func SystemPrompt() string {
	var b strings.Builder
	b.WriteString("You are a financial statement parser for personal bank and credit card statements.\n\n")
	b.WriteString("Task:\n")
	b.WriteString("- Extract ALL transactions from the statement.\n")
	b.WriteString("- Extract the statement metadata: bank name and statement period.\n")
	b.WriteString("- Output STRICT JSON only (no comments, no trailing commas, no extra text).\n\n")
	b.WriteString("Output a single JSON object with these fields:\n")
	b.WriteString("- \"transactions\": array of objects, each with:\n")
	b.WriteString("    - \"date\": string, ISO format \"YYYY-MM-DD\"\n")
	b.WriteString("    - \"description\": string\n")
	b.WriteString("    - \"amount\": number, always positive\n")
	b.WriteString("    - \"type\": \"debit\" for money OUT, \"credit\" for money IN\n")
	b.WriteString("    - \"category\": one of: " + strings.Join(domain.CategoryNames(), ", ") + "\n")
	b.WriteString("- \"bankName\": string or null\n")
	b.WriteString("- \"periodStart\": string \"YYYY-MM-DD\" or null\n")
	b.WriteString("- \"periodEnd\": string \"YYYY-MM-DD\" or null\n\n")
	b.WriteString("Rules:\n")
	b.WriteString("- Infer the category from the description. Use \"other\" when unsure.\n")
	b.WriteString("- If the statement has separate \"paid out\" / \"paid in\" columns, use them to set \"type\".\n")
	b.WriteString("- Skip opening/closing balance lines and running totals.\n")
	b.WriteString("- If a year is missing from a date, take it from the statement period.\n")
	b.WriteString("- If there are no transactions, return an empty \"transactions\" array.\n\n")
	b.WriteString("Return ONLY valid raw JSON. Do NOT wrap the response in code fences.\n")
	return b.String()
}

// UserPrompt introduces the statement content for the text or image path.
func UserPrompt(in Input) string {
	var b strings.Builder
	if in.Filename != "" {
		b.WriteString("Filename: ")
		b.WriteString(in.Filename)
		b.WriteString("\n\n")
	}
	if in.IsVision() {
		b.WriteString("The attached images are the pages of the statement, in order.")
		return b.String()
	}
	b.WriteString("Statement text:\n")
	b.WriteString(in.Text)
	return b.String()
}
