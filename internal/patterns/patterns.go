// Package patterns provides the declarative regular-expression library
// used to extract structured fields from recognized receipt text.
//
// The default library is embedded at build time; deployments can swap in
// their own YAML file to tune patterns without recompiling.
package patterns

import (
	_ "embed"
	"fmt"
	"os"
	"regexp"
	"strings"
	"unicode"

	"gopkg.in/yaml.v3"
)

//go:embed patterns.yaml
var defaultYAML []byte

// PaymentMethod maps a canonical payment method identifier to the
// keywords that indicate it in receipt text. Methods are matched in
// declaration order.
type PaymentMethod struct {
	Method   string   `yaml:"method"`
	Keywords []string `yaml:"keywords"`
}

// libraryFile is the on-disk YAML shape of a pattern library.
type libraryFile struct {
	Date              []string        `yaml:"date"`
	Time              []string        `yaml:"time"`
	Amount            []string        `yaml:"amount"`
	Phone             []string        `yaml:"phone"`
	BusinessNumber    []string        `yaml:"business_number"`
	Address           []string        `yaml:"address"`
	Email             []string        `yaml:"email"`
	CardNumber        []string        `yaml:"card_number"`
	CardType          []string        `yaml:"card_type"`
	CardCompany       []string        `yaml:"card_company"`
	Item              []string        `yaml:"item"`
	Discount          []string        `yaml:"discount"`
	Tax               []string        `yaml:"tax"`
	Subtotal          []string        `yaml:"subtotal"`
	TotalKeywords     []string        `yaml:"total_keywords"`
	ItemStopWords     []string        `yaml:"item_stop_words"`
	StoreNameKeywords []string        `yaml:"store_name_keywords"`
	StoreNameSuffixes []string        `yaml:"store_name_suffixes"`
	PaymentMethods    []PaymentMethod `yaml:"payment_methods"`
}

// Library holds compiled extraction patterns. Pattern slices are ordered
// by priority; callers try each in turn and take the first match.
type Library struct {
	Date           []*regexp.Regexp
	Time           []*regexp.Regexp
	Amount         []*regexp.Regexp
	Phone          []*regexp.Regexp
	BusinessNumber []*regexp.Regexp
	Address        []*regexp.Regexp
	Email          []*regexp.Regexp
	CardNumber     []*regexp.Regexp
	CardType       []*regexp.Regexp
	CardCompany    []*regexp.Regexp
	Item           []*regexp.Regexp
	Discount       []*regexp.Regexp
	Tax            []*regexp.Regexp
	Subtotal       []*regexp.Regexp

	TotalKeywords     []string
	ItemStopWords     []string
	StoreNameKeywords []string
	StoreNameSuffixes []string
	PaymentMethods    []PaymentMethod

	totalPattern     *regexp.Regexp
	storeNamePattern *regexp.Regexp

	hangulRe     *regexp.Regexp
	latinRe      *regexp.Regexp
	hangulOnlyRe *regexp.Regexp
}

// Default returns the embedded pattern library.
func Default() (*Library, error) {
	return Load(defaultYAML)
}

// LoadFile loads a pattern library from a YAML file on disk.
func LoadFile(path string) (*Library, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read pattern file %s: %w", path, err)
	}
	lib, err := Load(data)
	if err != nil {
		return nil, fmt.Errorf("failed to load pattern file %s: %w", path, err)
	}
	return lib, nil
}

// Load parses and compiles a pattern library from YAML data.
func Load(data []byte) (*Library, error) {
	var file libraryFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse pattern yaml: %w", err)
	}

	lib := &Library{
		TotalKeywords:     file.TotalKeywords,
		ItemStopWords:     file.ItemStopWords,
		StoreNameKeywords: file.StoreNameKeywords,
		StoreNameSuffixes: file.StoreNameSuffixes,
		PaymentMethods:    file.PaymentMethods,
	}

	var err error
	compile := func(category string, exprs []string) []*regexp.Regexp {
		if err != nil {
			return nil
		}
		compiled := make([]*regexp.Regexp, 0, len(exprs))
		for _, expr := range exprs {
			re, compileErr := regexp.Compile(expr)
			if compileErr != nil {
				err = fmt.Errorf("invalid %s pattern %q: %w", category, expr, compileErr)
				return nil
			}
			compiled = append(compiled, re)
		}
		return compiled
	}

	lib.Date = compile("date", file.Date)
	lib.Time = compile("time", file.Time)
	lib.Amount = compile("amount", file.Amount)
	lib.Phone = compile("phone", file.Phone)
	lib.BusinessNumber = compile("business_number", file.BusinessNumber)
	lib.Address = compile("address", file.Address)
	lib.Email = compile("email", file.Email)
	lib.CardNumber = compile("card_number", file.CardNumber)
	lib.CardType = compile("card_type", file.CardType)
	lib.CardCompany = compile("card_company", file.CardCompany)
	lib.Item = compile("item", file.Item)
	lib.Discount = compile("discount", file.Discount)
	lib.Tax = compile("tax", file.Tax)
	lib.Subtotal = compile("subtotal", file.Subtotal)
	if err != nil {
		return nil, err
	}

	if len(lib.TotalKeywords) > 0 {
		expr := fmt.Sprintf(`(?i)(%s)\s*[:：]?\s*([\d,]+)\s*원?`, strings.Join(lib.TotalKeywords, "|"))
		lib.totalPattern, err = regexp.Compile(expr)
		if err != nil {
			return nil, fmt.Errorf("invalid total keyword pattern: %w", err)
		}
	}

	if len(lib.StoreNameKeywords) > 0 {
		expr := fmt.Sprintf(`(%s)\s*[:：]?\s*([가-힣a-zA-Z0-9\s]+)`, strings.Join(lib.StoreNameKeywords, "|"))
		lib.storeNamePattern, err = regexp.Compile(expr)
		if err != nil {
			return nil, fmt.Errorf("invalid store name keyword pattern: %w", err)
		}
	}

	lib.hangulRe = regexp.MustCompile(`[가-힣]`)
	lib.latinRe = regexp.MustCompile(`[a-zA-Z]`)
	lib.hangulOnlyRe = regexp.MustCompile(`^[가-힣\s]+$`)

	return lib, nil
}

// TotalAmountPattern returns the keyword-anchored total amount pattern,
// or nil if no total keywords are configured. Group 2 is the amount.
func (l *Library) TotalAmountPattern() *regexp.Regexp {
	return l.totalPattern
}

// StoreNamePattern returns the keyword-anchored store name pattern, or
// nil if no store name keywords are configured. Group 2 is the name.
func (l *Library) StoreNamePattern() *regexp.Regexp {
	return l.storeNamePattern
}

// IsItemStopLine reports whether a line carries summary keywords (totals,
// tax, change) and must not be parsed as a purchase item even when it
// structurally matches an item pattern.
func (l *Library) IsItemStopLine(line string) bool {
	for _, word := range l.ItemStopWords {
		if strings.Contains(line, word) {
			return true
		}
	}
	return false
}

// IsLikelyStoreName reports whether a line of text plausibly names the
// store. Used as a fallback when no keyword-labeled name is present.
func (l *Library) IsLikelyStoreName(text string) bool {
	runes := []rune(text)
	if len(runes) < 2 || len(runes) > 30 {
		return false
	}

	digitsOnly := true
	for _, r := range runes {
		if !unicode.IsDigit(r) {
			digitsOnly = false
			break
		}
	}
	if digitsOnly {
		return false
	}

	for _, suffix := range l.StoreNameSuffixes {
		if strings.Contains(text, suffix) {
			return true
		}
	}

	// Mixed Hangul and Latin is a common franchise naming pattern.
	if l.hangulRe.MatchString(text) && l.latinRe.MatchString(text) {
		return true
	}

	// Pure Hangul with at least two non-space characters.
	if l.hangulOnlyRe.MatchString(text) {
		compact := strings.ReplaceAll(text, " ", "")
		return len([]rune(compact)) >= 2
	}

	return false
}
