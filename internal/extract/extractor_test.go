package extract

import (
	"encoding/json"
	"reflect"
	"strings"
	"testing"

	"github.com/docuflow/receiptscan/internal/patterns"
)

func newTestExtractor(t *testing.T, opts ...Option) *Extractor {
	t.Helper()
	lib, err := patterns.Default()
	if err != nil {
		t.Fatalf("patterns.Default() error = %v", err)
	}
	return New(lib, opts...)
}

func TestExtract_FullReceipt(t *testing.T) {
	e := newTestExtractor(t)

	text := "GoodMart\n2024-03-15 14:30\nCola 2개 3,000원\n합계 3,000원"
	record := e.Extract(text)

	if record.StoreName != "GoodMart" {
		t.Errorf("store name = %q, want GoodMart", record.StoreName)
	}
	if record.Date != "2024-03-15" {
		t.Errorf("date = %q, want 2024-03-15", record.Date)
	}
	if record.Time != "14:30" {
		t.Errorf("time = %q, want 14:30", record.Time)
	}
	if len(record.Items) != 1 {
		t.Fatalf("items = %d, want 1 (%+v)", len(record.Items), record.Items)
	}
	item := record.Items[0]
	if item.Name != "Cola" || item.Quantity != 2 || item.Price != 3000 {
		t.Errorf("item = %+v, want {Cola 2 3000}", item)
	}
	if record.TotalAmount == nil || *record.TotalAmount != 3000 {
		t.Errorf("total = %v, want 3000", record.TotalAmount)
	}
	if record.RawText != text {
		t.Error("raw text should be preserved")
	}
}

func TestExtract_EmptyText(t *testing.T) {
	e := newTestExtractor(t)

	record := e.Extract("")
	if record == nil {
		t.Fatal("Extract should never return nil")
	}
	if record.StoreName != "" || record.Date != "" || record.Time != "" {
		t.Error("expected all string fields empty for empty input")
	}
	if len(record.Items) != 0 {
		t.Errorf("expected no items, got %d", len(record.Items))
	}
	if record.TotalAmount != nil {
		t.Errorf("expected no total, got %d", *record.TotalAmount)
	}
}

func TestExtract_Idempotent(t *testing.T) {
	e := newTestExtractor(t)

	text := "행복마트\n2024-11-17\n콜라 2개 3,000원\n사이다 1,500원\n합계 4,500원\n신용카드"
	first := e.Extract(text)
	second := e.Extract(text)

	if !reflect.DeepEqual(first, second) {
		t.Errorf("extraction not idempotent:\nfirst:  %+v\nsecond: %+v", first, second)
	}
}

func TestExtractStoreName_Keyword(t *testing.T) {
	e := newTestExtractor(t)

	record := e.Extract("영수증\n상호: 행복마트 본점\n2024-03-15")
	if !strings.HasPrefix(record.StoreName, "행복마트") {
		t.Errorf("store name = %q, want keyword-labeled 행복마트 본점", record.StoreName)
	}
}

func TestExtractStoreName_HeuristicFirstLines(t *testing.T) {
	e := newTestExtractor(t)

	record := e.Extract("123456\n어반카페\n2024-03-15")
	if record.StoreName != "어반카페" {
		t.Errorf("store name = %q, want 어반카페", record.StoreName)
	}
}

func TestExtractDate(t *testing.T) {
	e := newTestExtractor(t)

	tests := []struct {
		name string
		text string
		want string
	}{
		{"iso", "date 2024-03-15", "2024-03-15"},
		{"slash", "2024/3/5", "2024-03-05"},
		{"korean", "2024년 3월 15일", "2024-03-15"},
		{"two digit year", "24.03.15", "2024-03-15"},
		{"invalid month rejected", "2024-13-05", ""},
		{"no date", "영수증", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := e.Extract(tt.text).Date; got != tt.want {
				t.Errorf("date from %q = %q, want %q", tt.text, got, tt.want)
			}
		})
	}
}

func TestExtractTime(t *testing.T) {
	e := newTestExtractor(t)

	tests := []struct {
		name string
		text string
		want string
	}{
		{"hh mm", "결제시각 14:30", "14:30"},
		{"hh mm ss keeps minutes", "14:30:25", "14:30"},
		{"single digit hour padded", "9:05", "09:05"},
		{"no time", "영수증", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := e.Extract(tt.text).Time; got != tt.want {
				t.Errorf("time from %q = %q, want %q", tt.text, got, tt.want)
			}
		})
	}
}

func TestExtractTime_MeridiemPatternSet(t *testing.T) {
	// The stock pattern order matches the bare HH:MM inside a
	// meridiem-qualified time, so "오후 3:45" reads as 03:45. A
	// deployment that puts the meridiem pattern first gets the
	// 24-hour conversion instead.
	lib, err := patterns.Load([]byte(`
time:
  - '(오전|오후)\s*(\d{1,2}):(\d{2})'
  - '(\d{1,2}):(\d{2})'
`))
	if err != nil {
		t.Fatalf("patterns.Load() error = %v", err)
	}
	e := New(lib)

	tests := []struct {
		name string
		text string
		want string
	}{
		{"afternoon converts", "오후 3:45", "15:45"},
		{"morning pads", "오전 9:05", "09:05"},
		{"midnight", "오전 12:05", "00:05"},
		{"noon stays", "오후 12:30", "12:30"},
		{"plain falls through", "결제시각 14:30", "14:30"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := e.Extract(tt.text).Time; got != tt.want {
				t.Errorf("time from %q = %q, want %q", tt.text, got, tt.want)
			}
		})
	}
}

func TestExtractItems_StopLinesExcluded(t *testing.T) {
	e := newTestExtractor(t)

	text := "콜라 2개 3,000원\n사이다 1,500원\n합계 4,500원\n부가세 409원"
	record := e.Extract(text)

	if len(record.Items) != 2 {
		t.Fatalf("items = %d, want 2 (%+v)", len(record.Items), record.Items)
	}
	if record.Items[0].Name != "콜라" || record.Items[0].Quantity != 2 || record.Items[0].Price != 3000 {
		t.Errorf("first item = %+v, want {콜라 2 3000}", record.Items[0])
	}
	if record.Items[1].Name != "사이다" || record.Items[1].Quantity != 1 || record.Items[1].Price != 1500 {
		t.Errorf("second item = %+v, want {사이다 1 1500}", record.Items[1])
	}
}

func TestExtractItems_OneItemPerLine(t *testing.T) {
	e := newTestExtractor(t)

	// Both item patterns structurally match this line; only the more
	// specific quantity form may produce an item.
	record := e.Extract("Cola 2개 3,000원")
	if len(record.Items) != 1 {
		t.Fatalf("items = %d, want 1 (%+v)", len(record.Items), record.Items)
	}
}

func TestExtractAmounts_KeywordTotalPreferred(t *testing.T) {
	e := newTestExtractor(t)

	// The point balance is larger than the total; the keyword-anchored
	// total must win over the largest-amount fallback.
	text := "콜라 1,500원\n합계 3,000원\n잔액 99,999원"
	record := e.Extract(text)

	if record.TotalAmount == nil || *record.TotalAmount != 3000 {
		t.Errorf("total = %v, want keyword-anchored 3000", record.TotalAmount)
	}
}

func TestExtractAmounts_LargestAmountFallback(t *testing.T) {
	e := newTestExtractor(t)

	record := e.Extract("콜라 1,500원\n사이다 2,000원")
	if record.TotalAmount == nil || *record.TotalAmount != 2000 {
		t.Errorf("total = %v, want inferred 2000", record.TotalAmount)
	}
}

type fixedTotal struct {
	value int64
}

func (f fixedTotal) InferTotal(string, *patterns.Library) (int64, bool) {
	return f.value, true
}

func TestExtractAmounts_CustomStrategy(t *testing.T) {
	e := newTestExtractor(t, WithTotalStrategy(fixedTotal{value: 777}))

	record := e.Extract("콜라 1,500원")
	if record.TotalAmount == nil || *record.TotalAmount != 777 {
		t.Errorf("total = %v, want strategy-provided 777", record.TotalAmount)
	}
}

func TestExtractAmounts_DiscountAndTax(t *testing.T) {
	e := newTestExtractor(t)

	record := e.Extract("소계 5,000원\n할인 500원\n부가세 409원\n합계 4,500원")
	if record.Subtotal == nil || *record.Subtotal != 5000 {
		t.Errorf("subtotal = %v, want 5000", record.Subtotal)
	}
	if record.Discount == nil || *record.Discount != 500 {
		t.Errorf("discount = %v, want 500", record.Discount)
	}
	if record.Tax == nil || *record.Tax != 409 {
		t.Errorf("tax = %v, want 409", record.Tax)
	}
	if record.TotalAmount == nil || *record.TotalAmount != 4500 {
		t.Errorf("total = %v, want 4500", record.TotalAmount)
	}
}

func TestExtractBusinessNumber(t *testing.T) {
	e := newTestExtractor(t)

	record := e.Extract("사업자등록번호 123-45-67890")
	if record.BusinessNumber != "123-45-67890" {
		t.Errorf("business number = %q, want 123-45-67890", record.BusinessNumber)
	}
}

func TestExtractPaymentMethodAndCard(t *testing.T) {
	e := newTestExtractor(t)

	text := "신용카드 승인\n신한카드 1234-5678-9012-3456"
	record := e.Extract(text)

	if record.PaymentMethod != "card" {
		t.Fatalf("payment method = %q, want card", record.PaymentMethod)
	}
	if record.Card == nil {
		t.Fatal("expected card info for card payment")
	}
	if record.Card.Number != "1234-5678-9012-3456" {
		t.Errorf("card number = %q, want 1234-5678-9012-3456", record.Card.Number)
	}
	if record.Card.Type != "신용카드" {
		t.Errorf("card type = %q, want 신용카드", record.Card.Type)
	}
	if record.Card.Company != "신한" {
		t.Errorf("card company = %q, want 신한", record.Card.Company)
	}
}

func TestExtract_NoCardInfoForCashPayment(t *testing.T) {
	e := newTestExtractor(t)

	record := e.Extract("현금 결제\n1234-5678-9012-3456")
	if record.PaymentMethod != "cash" {
		t.Fatalf("payment method = %q, want cash", record.PaymentMethod)
	}
	if record.Card != nil {
		t.Errorf("card info must only be extracted for card payments, got %+v", record.Card)
	}
}

func TestRecord_OmitsAbsentFields(t *testing.T) {
	e := newTestExtractor(t)

	data, err := json.Marshal(e.Extract("*** *** ***"))
	if err != nil {
		t.Fatalf("marshal error = %v", err)
	}

	var decoded map[string]interface{}
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal error = %v", err)
	}

	for _, key := range []string{"store_name", "date", "time", "items", "total_amount", "card_info", "subtotal"} {
		if _, present := decoded[key]; present {
			t.Errorf("absent field %q should be omitted from JSON, got %s", key, data)
		}
	}
	if _, present := decoded["raw_text"]; !present {
		t.Error("raw_text should always be serialized")
	}
}
