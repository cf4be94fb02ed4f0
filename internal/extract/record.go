package extract

// LineItem is a single purchased item parsed from a receipt line.
type LineItem struct {
	Name     string `json:"name"`
	Quantity int    `json:"quantity"`
	Price    int64  `json:"price"`
}

// CardInfo holds card payment details when the receipt shows a card
// transaction. The number is usually partially masked on the receipt.
type CardInfo struct {
	Number  string `json:"card_number,omitempty"`
	Type    string `json:"card_type,omitempty"`
	Company string `json:"card_company,omitempty"`
}

func (c *CardInfo) empty() bool {
	return c.Number == "" && c.Type == "" && c.Company == ""
}

// Record is the structured result of field extraction. Every field is
// optional: a field the extractor could not find is omitted from the
// serialized record rather than set to null, so consumers can tell
// "not found" apart from "found empty".
type Record struct {
	StoreName      string     `json:"store_name,omitempty"`
	BusinessNumber string     `json:"business_number,omitempty"`
	Address        string     `json:"address,omitempty"`
	Phone          string     `json:"phone,omitempty"`
	Date           string     `json:"date,omitempty"`
	Time           string     `json:"time,omitempty"`
	Items          []LineItem `json:"items,omitempty"`
	Subtotal       *int64     `json:"subtotal,omitempty"`
	Discount       *int64     `json:"discount,omitempty"`
	Tax            *int64     `json:"tax,omitempty"`
	TotalAmount    *int64     `json:"total_amount,omitempty"`
	PaymentMethod  string     `json:"payment_method,omitempty"`
	Card           *CardInfo  `json:"card_info,omitempty"`
	RawText        string     `json:"raw_text"`
}
