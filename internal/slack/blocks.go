package slack

import (
	"fmt"
	"strings"
)

// Text is a Block Kit text object.
type Text struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// Block is the subset of Block Kit layout blocks the relay renders.
type Block struct {
	Type     string `json:"type"`
	Text     *Text  `json:"text,omitempty"`
	Fields   []Text `json:"fields,omitempty"`
	Elements []Text `json:"elements,omitempty"`
}

func Markdown(s string) Text { return Text{Type: "mrkdwn", Text: s} }

func Section(text string) Block {
	t := Markdown(text)
	return Block{Type: "section", Text: &t}
}

func FieldsSection(pairs ...[2]string) Block {
	fields := make([]Text, 0, len(pairs))
	for _, p := range pairs {
		fields = append(fields, Markdown(fmt.Sprintf("*%s:*\n%s", p[0], p[1])))
	}
	return Block{Type: "section", Fields: fields}
}

func Context(text string) Block {
	return Block{Type: "context", Elements: []Text{Markdown(text)}}
}

func Divider() Block { return Block{Type: "divider"} }

// Notice is the chat view of a reconciled-record notification. Data holds the
// stored column values of the record.
type Notice struct {
	Kind       string
	EntityType string
	ExternalID string
	Data       map[string]any
}

// NoticeBlocks renders a notice and returns the plain-text fallback alongside the
// blocks.
func NoticeBlocks(n Notice) (string, []Block) {
	switch n.Kind {
	case "client_created":
		name := clientName(n.Data)
		return "New client created: " + name, []Block{
			Section(":bust_in_silhouette: *New Client Created*\n*" + name + "*"),
			FieldsSection(
				[2]string{"Email", value(n.Data, "email", "Not provided")},
				[2]string{"ID", n.ExternalID},
			),
		}
	case "job_created", "job_completed":
		title := value(n.Data, "title", "Untitled Job")
		heading := ":new: *New Job Created*"
		fallback := "New job created: " + title
		if n.Kind == "job_completed" {
			heading = ":white_check_mark: *Job Completed*"
			fallback = "Job completed: " + title
		}
		return fallback, []Block{
			Section(heading + "\n*" + title + "*"),
			FieldsSection(
				[2]string{"Client", value(n.Data, "client_external_id", "Unknown")},
				[2]string{"Status", value(n.Data, "status", "Unknown")},
				[2]string{"Total", money(n.Data)},
				[2]string{"Start Date", value(n.Data, "start_at", "TBD")},
			),
			Context("Job " + n.ExternalID),
		}
	case "invoice_created", "invoice_paid":
		number := value(n.Data, "invoice_number", "Unknown")
		heading := ":receipt: *Invoice Created*"
		fallback := "Invoice created: #" + number
		if n.Kind == "invoice_paid" {
			heading = ":moneybag: *Invoice Paid*"
			fallback = "Invoice paid: #" + number
		}
		return fallback, []Block{
			Section(heading + "\n*Invoice #" + number + "*"),
			FieldsSection(
				[2]string{"Client", value(n.Data, "client_external_id", "Unknown")},
				[2]string{"Amount", money(n.Data)},
				[2]string{"Status", value(n.Data, "status", "Unknown")},
				[2]string{"Due", value(n.Data, "due_at", "Not set")},
			),
		}
	default:
		label := humanize(n.Kind)
		blocks := []Block{Section(":loudspeaker: *Jobber Event*\n" + label)}
		if n.ExternalID != "" {
			blocks = append(blocks, Context(strings.ToLower(n.EntityType)+" "+n.ExternalID))
		}
		return "Jobber " + label, blocks
	}
}

// ErrorBlocks renders an error reply with optional context.
func ErrorBlocks(msg, context string) []Block {
	blocks := []Block{Section(":x: *Error*\n" + msg)}
	if context != "" {
		blocks = append(blocks, Context("Context: "+context))
	}
	return blocks
}

func clientName(data map[string]any) string {
	if name := value(data, "company_name", ""); name != "" {
		return name
	}
	name := strings.TrimSpace(value(data, "first_name", "") + " " + value(data, "last_name", ""))
	if name == "" {
		return "Unnamed client"
	}
	return name
}

func money(data map[string]any) string {
	amount := value(data, "total_amount", "")
	if amount == "" {
		return "Not set"
	}
	cur := value(data, "currency", "")
	if cur == "" || cur == "USD" {
		return "$" + amount
	}
	return amount + " " + cur
}

// value reads a string-ish field, falling back when absent or blank.
func value(data map[string]any, key, fallback string) string {
	switch v := data[key].(type) {
	case string:
		if v != "" {
			return v
		}
	case *string:
		if v != nil && *v != "" {
			return *v
		}
	}
	return fallback
}

// humanize turns "job_updated" into "Job Updated".
func humanize(kind string) string {
	words := strings.FieldsFunc(kind, func(r rune) bool { return r == '_' || r == ' ' })
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + strings.ToLower(w[1:])
	}
	return strings.Join(words, " ")
}
