package patterns

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDefault(t *testing.T) {
	lib, err := Default()
	if err != nil {
		t.Fatalf("Default() error = %v", err)
	}

	if len(lib.Date) == 0 {
		t.Error("expected date patterns in default library")
	}
	if len(lib.Amount) == 0 {
		t.Error("expected amount patterns in default library")
	}
	if len(lib.Item) == 0 {
		t.Error("expected item patterns in default library")
	}
	if lib.TotalAmountPattern() == nil {
		t.Error("expected total amount pattern in default library")
	}
	if lib.StoreNamePattern() == nil {
		t.Error("expected store name pattern in default library")
	}
	if len(lib.PaymentMethods) == 0 {
		t.Error("expected payment methods in default library")
	}
}

func TestDefault_DatePatterns(t *testing.T) {
	lib, err := Default()
	if err != nil {
		t.Fatalf("Default() error = %v", err)
	}

	tests := []struct {
		name string
		text string
	}{
		{"iso", "2024-03-15"},
		{"slash", "2024/03/15"},
		{"dot", "2024.03.15"},
		{"korean", "2024년 3월 15일"},
		{"short year korean", "24년 3월 15일"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			matched := false
			for _, re := range lib.Date {
				if re.MatchString(tt.text) {
					matched = true
					break
				}
			}
			if !matched {
				t.Errorf("no date pattern matched %q", tt.text)
			}
		})
	}
}

func TestDefault_TotalAmountPattern(t *testing.T) {
	lib, err := Default()
	if err != nil {
		t.Fatalf("Default() error = %v", err)
	}

	tests := []struct {
		text   string
		amount string
	}{
		{"합계 3,000원", "3,000"},
		{"총액: 12,345원", "12,345"},
		{"Total 5000", "5000"},
		{"결제금액 45,600원", "45,600"},
	}

	for _, tt := range tests {
		match := lib.TotalAmountPattern().FindStringSubmatch(tt.text)
		if match == nil {
			t.Errorf("total pattern did not match %q", tt.text)
			continue
		}
		if got := strings.TrimSpace(match[2]); got != tt.amount {
			t.Errorf("total pattern on %q: amount = %q, want %q", tt.text, got, tt.amount)
		}
	}
}

func TestDefault_ItemPatterns(t *testing.T) {
	lib, err := Default()
	if err != nil {
		t.Fatalf("Default() error = %v", err)
	}

	// name + quantity + price form must be tried before name + price.
	line := "콜라 2개 3,000원"
	match := lib.Item[0].FindStringSubmatch(line)
	if match == nil {
		t.Fatalf("first item pattern did not match %q", line)
	}
	if strings.TrimSpace(match[1]) != "콜라" {
		t.Errorf("item name = %q, want 콜라", strings.TrimSpace(match[1]))
	}
	if match[2] != "2" {
		t.Errorf("item quantity = %q, want 2", match[2])
	}
	if match[3] != "3,000" {
		t.Errorf("item price = %q, want 3,000", match[3])
	}
}

func TestDefault_BusinessNumberPattern(t *testing.T) {
	lib, err := Default()
	if err != nil {
		t.Fatalf("Default() error = %v", err)
	}

	match := lib.BusinessNumber[0].FindStringSubmatch("사업자번호: 123-45-67890")
	if match == nil {
		t.Fatal("business number pattern did not match hyphenated form")
	}
	if match[1] != "123" || match[2] != "45" || match[3] != "67890" {
		t.Errorf("business number groups = %v, want [123 45 67890]", match[1:])
	}
}

func TestIsLikelyStoreName(t *testing.T) {
	lib, err := Default()
	if err != nil {
		t.Fatalf("Default() error = %v", err)
	}

	tests := []struct {
		name string
		text string
		want bool
	}{
		{"mart suffix", "행복마트", true},
		{"latin mart suffix", "GoodMart", true},
		{"cafe suffix", "어반카페", true},
		{"mixed hangul latin", "GS25 역삼점", true},
		{"pure hangul", "착한식당", true},
		{"too short", "가", false},
		{"digits only", "20240315", false},
		{"latin only no suffix", "RECEIPT", false},
		{"too long", strings.Repeat("가", 31), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := lib.IsLikelyStoreName(tt.text); got != tt.want {
				t.Errorf("IsLikelyStoreName(%q) = %v, want %v", tt.text, got, tt.want)
			}
		})
	}
}

func TestIsItemStopLine(t *testing.T) {
	lib, err := Default()
	if err != nil {
		t.Fatalf("Default() error = %v", err)
	}

	tests := []struct {
		line string
		want bool
	}{
		{"합계 3,000원", true},
		{"부가세 273원", true},
		{"거스름돈 500원", true},
		{"콜라 2개 3,000원", false},
		{"Cola 2개 3,000원", false},
	}

	for _, tt := range tests {
		if got := lib.IsItemStopLine(tt.line); got != tt.want {
			t.Errorf("IsItemStopLine(%q) = %v, want %v", tt.line, got, tt.want)
		}
	}
}

func TestLoadFile(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "custom.yaml")

	custom := `
date:
  - '(\d{4})-(\d{2})-(\d{2})'
total_keywords:
  - TOTAL
`
	if err := os.WriteFile(path, []byte(custom), 0644); err != nil {
		t.Fatalf("failed to write custom pattern file: %v", err)
	}

	lib, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile() error = %v", err)
	}

	if len(lib.Date) != 1 {
		t.Errorf("expected 1 date pattern, got %d", len(lib.Date))
	}
	if !lib.TotalAmountPattern().MatchString("TOTAL 5,000") {
		t.Error("custom total pattern should match TOTAL 5,000")
	}
}

func TestLoadFile_NotFound(t *testing.T) {
	_, err := LoadFile("/nonexistent/patterns.yaml")
	if err == nil {
		t.Error("expected error for missing pattern file")
	}
}

func TestLoad_InvalidPattern(t *testing.T) {
	_, err := Load([]byte("date:\n  - '(unclosed'\n"))
	if err == nil {
		t.Error("expected error for invalid regex")
	}
	if err != nil && !strings.Contains(err.Error(), "invalid date pattern") {
		t.Errorf("expected invalid date pattern error, got: %v", err)
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	_, err := Load([]byte("date: [unclosed"))
	if err == nil {
		t.Error("expected error for invalid yaml")
	}
}
