package jobber

// Money is an amount in minor units.
type Money struct {
	Cents    *int64 `json:"cents"`
	Currency string `json:"currency"`
}

type Email struct {
	Address     string `json:"address"`
	Description string `json:"description"`
	Primary     bool   `json:"primary"`
}

type Phone struct {
	Number      string `json:"number"`
	Description string `json:"description"`
	Primary     bool   `json:"primary"`
}

type Address struct {
	Street1    *string `json:"street1"`
	Street2    *string `json:"street2"`
	City       *string `json:"city"`
	Province   *string `json:"province"`
	PostalCode *string `json:"postalCode"`
	Country    *string `json:"country"`
}

type Tag struct {
	Name string `json:"name"`
}

// Ref is a nested {id} selection.
type Ref struct {
	ID string `json:"id"`
}

type ClientNode struct {
	ID             string   `json:"id"`
	FirstName      *string  `json:"firstName"`
	LastName       *string  `json:"lastName"`
	CompanyName    *string  `json:"companyName"`
	Emails         []Email  `json:"emails"`
	Phones         []Phone  `json:"phones"`
	BillingAddress *Address `json:"billingAddress"`
	Tags           []Tag    `json:"tags"`
	CreatedAt      string   `json:"createdAt"`
	UpdatedAt      string   `json:"updatedAt"`
}

type JobNode struct {
	ID          string   `json:"id"`
	Title       *string  `json:"title"`
	Description *string  `json:"description"`
	JobStatus   *string  `json:"jobStatus"`
	StartAt     *string  `json:"startAt"`
	EndAt       *string  `json:"endAt"`
	Client      *Ref     `json:"client"`
	JobAddress  *Address `json:"jobAddress"`
	JobNumber   *int64   `json:"jobNumber"`
	Tags        []Tag    `json:"tags"`
	Total       *Money   `json:"total"`
	CreatedAt   string   `json:"createdAt"`
	UpdatedAt   string   `json:"updatedAt"`
}

type LineItem struct {
	Name        *string  `json:"name"`
	Description *string  `json:"description"`
	Quantity    *float64 `json:"quantity"`
	UnitCost    *Money   `json:"unitCost"`
	Total       *Money   `json:"total"`
}

type InvoiceNode struct {
	ID            string     `json:"id"`
	InvoiceNumber *string    `json:"invoiceNumber"`
	InvoiceStatus *string    `json:"invoiceStatus"`
	Client        *Ref       `json:"client"`
	Job           *Ref       `json:"job"`
	Subtotal      *Money     `json:"subtotal"`
	Taxes         *Money     `json:"taxes"`
	Total         *Money     `json:"total"`
	IssuedAt      *string    `json:"issuedAt"`
	DueAt         *string    `json:"dueAt"`
	SentAt        *string    `json:"sentAt"`
	PaidAt        *string    `json:"paidAt"`
	LineItems     []LineItem `json:"lineItems"`
	CreatedAt     string     `json:"createdAt"`
	UpdatedAt     string     `json:"updatedAt"`
}
