package reconcile

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/mattjoyce/jobrelay/internal/jobber"
	"github.com/mattjoyce/jobrelay/internal/storage"
)

// DefaultCurrency applies when the upstream amount carries none.
const DefaultCurrency = "USD"

// LineItem is the stored form of an invoice line.
type LineItem struct {
	Name        *string  `json:"name"`
	Description *string  `json:"description"`
	Quantity    *float64 `json:"quantity"`
	UnitCost    *string  `json:"unit_cost"`
	Total       *string  `json:"total"`
}

// Decimal renders minor units as an exact major-unit decimal string, e.g. 12050 → "120.50".
func Decimal(cents int64) string {
	sign := ""
	if cents < 0 {
		sign = "-"
		cents = -cents
	}
	return fmt.Sprintf("%s%d.%02d", sign, cents/100, cents%100)
}

func amount(m *jobber.Money) *string {
	if m == nil || m.Cents == nil {
		return nil
	}
	s := Decimal(*m.Cents)
	return &s
}

func currency(amounts ...*jobber.Money) string {
	for _, m := range amounts {
		if m != nil && m.Currency != "" {
			return strings.ToUpper(m.Currency)
		}
	}
	return DefaultCurrency
}

func primaryEmail(emails []jobber.Email) *string {
	for _, e := range emails {
		if e.Primary {
			addr := e.Address
			return &addr
		}
	}
	return nil
}

func primaryPhone(phones []jobber.Phone) *string {
	for _, p := range phones {
		if p.Primary {
			num := p.Number
			return &num
		}
	}
	return nil
}

func tagNames(tags []jobber.Tag) []string {
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		out = append(out, t.Name)
	}
	return out
}

func addAddress(f storage.Fields, prefix string, a *jobber.Address) {
	if a == nil {
		a = &jobber.Address{}
	}
	f[prefix+"address_line1"] = a.Street1
	f[prefix+"address_line2"] = a.Street2
	f[prefix+"city"] = a.City
	f[prefix+"province"] = a.Province
	f[prefix+"postal_code"] = a.PostalCode
	f[prefix+"country"] = a.Country
}

func addRef(f storage.Fields, column string, ref *jobber.Ref) {
	if ref != nil && ref.ID != "" {
		f[column] = ref.ID
	}
}

// ClientFields maps a fetched client onto storage columns. A fetched client is
// always active.
func ClientFields(c *jobber.ClientNode) storage.Fields {
	f := storage.Fields{
		"company_name": c.CompanyName,
		"first_name":   c.FirstName,
		"last_name":    c.LastName,
		"email":        primaryEmail(c.Emails),
		"phone":        primaryPhone(c.Phones),
		"tags":         tagNames(c.Tags),
		"is_active":    true,
	}
	addAddress(f, "", c.BillingAddress)
	return f
}

// JobFields maps a fetched job onto storage columns.
func JobFields(j *jobber.JobNode) storage.Fields {
	f := storage.Fields{
		"title":        j.Title,
		"description":  j.Description,
		"status":       j.JobStatus,
		"start_at":     j.StartAt,
		"end_at":       j.EndAt,
		"total_amount": amount(j.Total),
		"currency":     currency(j.Total),
		"job_number":   formatInt(j.JobNumber),
		"tags":         tagNames(j.Tags),
	}
	addRef(f, "client_external_id", j.Client)
	addAddress(f, "job_", j.JobAddress)
	return f
}

// InvoiceFields maps a fetched invoice onto storage columns. Line items keep their
// upstream order.
func InvoiceFields(inv *jobber.InvoiceNode) storage.Fields {
	items := make([]LineItem, 0, len(inv.LineItems))
	for _, li := range inv.LineItems {
		items = append(items, LineItem{
			Name:        li.Name,
			Description: li.Description,
			Quantity:    li.Quantity,
			UnitCost:    amount(li.UnitCost),
			Total:       amount(li.Total),
		})
	}
	f := storage.Fields{
		"invoice_number": inv.InvoiceNumber,
		"status":         inv.InvoiceStatus,
		"subtotal":       amount(inv.Subtotal),
		"tax_amount":     amount(inv.Taxes),
		"total_amount":   amount(inv.Total),
		"currency":       currency(inv.Total, inv.Subtotal),
		"issued_at":      inv.IssuedAt,
		"due_at":         inv.DueAt,
		"sent_at":        inv.SentAt,
		"paid_at":        inv.PaidAt,
		"line_items":     items,
	}
	addRef(f, "client_external_id", inv.Client)
	addRef(f, "job_external_id", inv.Job)
	return f
}

func formatInt(n *int64) *string {
	if n == nil {
		return nil
	}
	s := strconv.FormatInt(*n, 10)
	return &s
}
