// Package extract turns recognized receipt text into a structured
// Record using the declarative pattern library. Extraction is
// deterministic and stateless beyond the immutable library, so one
// Extractor can serve concurrent requests.
package extract

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/docuflow/receiptscan/internal/logger"
	"github.com/docuflow/receiptscan/internal/patterns"
)

// Extractor parses recognized text into structured receipt fields.
type Extractor struct {
	lib   *patterns.Library
	total TotalStrategy
	log   *logger.Logger
}

// Option configures an Extractor.
type Option func(*Extractor)

// WithTotalStrategy replaces the default largest-amount total inference.
func WithTotalStrategy(s TotalStrategy) Option {
	return func(e *Extractor) {
		e.total = s
	}
}

// WithLogger sets the logger used for extraction diagnostics.
func WithLogger(log *logger.Logger) Option {
	return func(e *Extractor) {
		e.log = log
	}
}

// New creates an Extractor backed by the given pattern library.
func New(lib *patterns.Library, opts ...Option) *Extractor {
	e := &Extractor{
		lib:   lib,
		total: LargestAmount{},
		log:   logger.Get(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Extract parses text into a Record. Fields that cannot be found are
// left unset; Extract never fails.
func (e *Extractor) Extract(text string) *Record {
	record := &Record{RawText: text}
	lines := strings.Split(text, "\n")

	record.StoreName = e.extractStoreName(lines)
	record.BusinessNumber = e.extractBusinessNumber(text)
	record.Address = e.extractAddress(text)
	record.Phone = e.extractPhone(text)
	record.Date = e.extractDate(text)
	record.Time = e.extractTime(text)
	record.Items = e.extractItems(lines)
	e.extractAmounts(text, record)
	record.PaymentMethod = e.extractPaymentMethod(text)
	if record.PaymentMethod == "card" {
		record.Card = e.extractCardInfo(text)
	}

	e.log.Debugw("extraction completed",
		"text_length", len(text),
		"items", len(record.Items),
		"has_total", record.TotalAmount != nil,
	)

	return record
}

// extractStoreName looks for an explicit store-name label first, then
// falls back to heuristics over the top lines of the receipt.
func (e *Extractor) extractStoreName(lines []string) string {
	if re := e.lib.StoreNamePattern(); re != nil {
		for _, line := range lines {
			if match := re.FindStringSubmatch(line); match != nil {
				return strings.TrimSpace(match[2])
			}
		}
	}

	// The store name is usually in the first few lines.
	top := lines
	if len(top) > 5 {
		top = top[:5]
	}
	for _, line := range top {
		line = strings.TrimSpace(line)
		if e.lib.IsLikelyStoreName(line) {
			return line
		}
	}

	return ""
}

func (e *Extractor) extractBusinessNumber(text string) string {
	for _, re := range e.lib.BusinessNumber {
		match := re.FindStringSubmatch(text)
		if match == nil {
			continue
		}
		groups := match[1:]
		if len(groups) == 3 {
			return fmt.Sprintf("%s-%s-%s", groups[0], groups[1], groups[2])
		}
		number := groups[0]
		if len(number) == 10 {
			number = fmt.Sprintf("%s-%s-%s", number[:3], number[3:5], number[5:])
		}
		return number
	}
	return ""
}

func (e *Extractor) extractAddress(text string) string {
	for _, re := range e.lib.Address {
		if match := re.FindStringSubmatch(text); match != nil {
			return strings.Join(match[1:], " ")
		}
	}
	return ""
}

func (e *Extractor) extractPhone(text string) string {
	for _, re := range e.lib.Phone {
		if match := re.FindStringSubmatch(text); match != nil {
			return strings.Join(match[1:], "-")
		}
	}
	return ""
}

// extractDate tries patterns from most to least specific and returns the
// first match that is a valid calendar date, formatted as YYYY-MM-DD.
func (e *Extractor) extractDate(text string) string {
	for _, re := range e.lib.Date {
		match := re.FindStringSubmatch(text)
		if match == nil || len(match) != 4 {
			continue
		}

		yearStr, monthStr, dayStr := match[1], match[2], match[3]
		if len(yearStr) == 2 {
			yearStr = "20" + yearStr
		}

		year, err1 := strconv.Atoi(yearStr)
		month, err2 := strconv.Atoi(monthStr)
		day, err3 := strconv.Atoi(dayStr)
		if err1 != nil || err2 != nil || err3 != nil {
			continue
		}

		// Reject impossible calendar values; time.Date normalizes
		// overflow (month 13 becomes January), so round-trip check.
		date := time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
		if date.Year() != year || int(date.Month()) != month || date.Day() != day {
			continue
		}

		return date.Format("2006-01-02")
	}
	return ""
}

// extractTime returns the first recognized time of day as HH:MM,
// converting meridiem-qualified forms to 24-hour.
func (e *Extractor) extractTime(text string) string {
	for _, re := range e.lib.Time {
		match := re.FindStringSubmatch(text)
		if match == nil {
			continue
		}
		groups := match[1:]

		if groups[0] == "오전" || groups[0] == "오후" {
			hour, err := strconv.Atoi(groups[1])
			if err != nil {
				continue
			}
			if groups[0] == "오후" && hour < 12 {
				hour += 12
			} else if groups[0] == "오전" && hour == 12 {
				hour = 0
			}
			return fmt.Sprintf("%02d:%s", hour, groups[2])
		}

		hour, err := strconv.Atoi(groups[0])
		if err != nil {
			continue
		}
		return fmt.Sprintf("%02d:%s", hour, groups[1])
	}
	return ""
}

// extractItems matches purchase items line by line. Summary lines
// (totals, tax, change) are excluded before pattern matching, and the
// first matching pattern wins for a line so one line yields at most one
// item.
func (e *Extractor) extractItems(lines []string) []LineItem {
	var items []LineItem

	for _, line := range lines {
		if e.lib.IsItemStopLine(line) {
			continue
		}

		for _, re := range e.lib.Item {
			match := re.FindStringSubmatch(line)
			if match == nil {
				continue
			}
			groups := match[1:]

			name := strings.TrimSpace(groups[0])
			if name == "" {
				continue
			}

			var item LineItem
			switch len(groups) {
			case 3: // name + quantity + price
				quantity, err := strconv.Atoi(groups[1])
				if err != nil || quantity < 1 {
					continue
				}
				price, err := parseAmount(groups[2])
				if err != nil {
					continue
				}
				item = LineItem{Name: name, Quantity: quantity, Price: price}
			case 2: // name + price, quantity 1
				price, err := parseAmount(groups[1])
				if err != nil {
					continue
				}
				item = LineItem{Name: name, Quantity: 1, Price: price}
			default:
				continue
			}

			items = append(items, item)
			break
		}
	}

	return items
}

// extractAmounts fills total, subtotal, discount and tax. The total is
// keyword-anchored when possible and otherwise inferred by the
// configured TotalStrategy.
func (e *Extractor) extractAmounts(text string, record *Record) {
	if re := e.lib.TotalAmountPattern(); re != nil {
		if match := re.FindStringSubmatch(text); match != nil {
			if value, err := parseAmount(match[2]); err == nil {
				record.TotalAmount = &value
			}
		}
	}

	if record.TotalAmount == nil {
		if value, ok := e.total.InferTotal(text, e.lib); ok {
			record.TotalAmount = &value
			e.log.Debugw("total inferred by strategy", "amount", value)
		}
	}

	record.Subtotal = firstAmount(e.lib.Subtotal, text)
	record.Discount = firstAmount(e.lib.Discount, text)
	record.Tax = firstAmount(e.lib.Tax, text)
}

func (e *Extractor) extractPaymentMethod(text string) string {
	for _, pm := range e.lib.PaymentMethods {
		for _, keyword := range pm.Keywords {
			if strings.Contains(text, keyword) {
				return pm.Method
			}
		}
	}
	return ""
}

func (e *Extractor) extractCardInfo(text string) *CardInfo {
	card := &CardInfo{}

	if len(e.lib.CardNumber) > 0 {
		if match := e.lib.CardNumber[0].FindStringSubmatch(text); match != nil {
			card.Number = strings.Join(match[1:], "-")
		}
	}
	if len(e.lib.CardType) > 0 {
		if match := e.lib.CardType[0].FindString(text); match != "" {
			card.Type = match
		}
	}
	if len(e.lib.CardCompany) > 0 {
		if match := e.lib.CardCompany[0].FindString(text); match != "" {
			card.Company = match
		}
	}

	if card.empty() {
		return nil
	}
	return card
}

func firstAmount(res []*regexp.Regexp, text string) *int64 {
	for _, re := range res {
		match := re.FindStringSubmatch(text)
		if match == nil {
			continue
		}
		value, err := parseAmount(match[1])
		if err != nil {
			continue
		}
		return &value
	}
	return nil
}

func parseAmount(s string) (int64, error) {
	return strconv.ParseInt(strings.ReplaceAll(strings.TrimSpace(s), ",", ""), 10, 64)
}
