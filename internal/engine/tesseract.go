package engine

import (
	"context"
	"encoding/xml"
	"fmt"
	"image"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/otiai10/gosseract/v2"

	"github.com/docuflow/receiptscan/internal/logger"
)

// Tesseract is the fast local engine. Each call creates a fresh
// gosseract client; the client is not safe for concurrent use.
type Tesseract struct {
	logger        *logger.Logger
	languages     []string
	clientFactory func() *gosseract.Client
	available     bool
}

// NewTesseract creates the Tesseract-backed engine. Languages are
// Tesseract codes (default "kor", "eng").
func NewTesseract(languages []string, log *logger.Logger) *Tesseract {
	if log == nil {
		log = logger.Get()
	}
	if len(languages) == 0 {
		languages = []string{"kor", "eng"}
	}

	return &Tesseract{
		logger:        log.WithEngine(IDTesseract),
		languages:     languages,
		clientFactory: gosseract.NewClient,
	}
}

// Initialize verifies the tesseract installation has the configured
// language data.
func (t *Tesseract) Initialize() error {
	available, err := gosseract.GetAvailableLanguages()
	if err != nil {
		return fmt.Errorf("tesseract is not installed or not on PATH: %w", err)
	}

	installed := make(map[string]bool, len(available))
	for _, lang := range available {
		installed[lang] = true
	}
	for _, lang := range t.languages {
		if !installed[lang] {
			return fmt.Errorf("tesseract language data %q is not installed (have: %s)",
				lang, strings.Join(available, ", "))
		}
	}

	t.available = true
	t.logger.WithFields("languages", strings.Join(t.languages, "+")).Debug("Tesseract engine initialized")
	return nil
}

// Available reports whether Initialize succeeded.
func (t *Tesseract) Available() bool {
	return t.available
}

// ID returns the engine identifier.
func (t *Tesseract) ID() string {
	return IDTesseract
}

// Recognize runs Tesseract over the image and reconstructs line-ordered
// text with a mean word confidence.
func (t *Tesseract) Recognize(ctx context.Context, img image.Image, lang string) (*Result, error) {
	if !t.available {
		return nil, ErrUnavailable
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	startTime := time.Now()

	languages := t.languages
	if lang != "" {
		languages = strings.Split(lang, "+")
	}

	imageData, err := encodeImagePNGBytes(img)
	if err != nil {
		return nil, err
	}

	client := t.clientFactory()
	defer client.Close()

	if err := client.SetLanguage(languages...); err != nil {
		return nil, fmt.Errorf("failed to set OCR language: %w", err)
	}
	if err := client.SetImageFromBytes(imageData); err != nil {
		return nil, fmt.Errorf("failed to set image data: %w", err)
	}

	// HOCR carries per-word confidences; plain Text() does not.
	hocrText, err := client.HOCRText()
	if err != nil {
		return nil, fmt.Errorf("failed to get HOCR text: %w", err)
	}

	text, confidence, wordCount, err := parseHOCR(hocrText)
	if err != nil {
		return nil, fmt.Errorf("failed to parse HOCR: %w", err)
	}

	duration := time.Since(startTime)
	t.logger.WithFields(
		"words", wordCount,
		"confidence", confidence,
		"duration", duration,
	).Debug("Tesseract recognition completed")

	return &Result{
		Text:       text,
		Confidence: confidence,
		Detail: map[string]interface{}{
			"words":       wordCount,
			"languages":   strings.Join(languages, "+"),
			"duration_ms": duration.Milliseconds(),
		},
	}, nil
}

var wconfPattern = regexp.MustCompile(`x_wconf\s+(\d+)`)

// parseHOCR extracts line-structured text from Tesseract's HOCR output.
// Words within an ocr_line join with spaces, lines join with newlines.
// The returned confidence is the mean word x_wconf scaled to [0, 1].
func parseHOCR(hocrText string) (string, float64, int, error) {
	var page hocrDocument
	if err := xml.Unmarshal([]byte(hocrText), &page); err != nil {
		return "", 0, 0, fmt.Errorf("failed to unmarshal HOCR XML: %w", err)
	}

	var lines []string
	totalConfidence := 0.0
	wordCount := 0

	for _, pageDiv := range page.Body.Pages {
		for _, area := range pageDiv.Areas {
			for _, par := range area.Pars {
				for _, line := range par.Lines {
					var words []string
					for _, word := range line.Words {
						text := strings.TrimSpace(word.Text)
						if text == "" {
							continue
						}
						words = append(words, text)
						totalConfidence += extractWordConfidence(word.Title)
						wordCount++
					}
					if len(words) > 0 {
						lines = append(lines, strings.Join(words, " "))
					}
				}
			}
		}
	}

	if wordCount == 0 {
		return "", 0, 0, nil
	}

	confidence := totalConfidence / float64(wordCount) / 100.0
	return strings.Join(lines, "\n"), confidence, wordCount, nil
}

// extractWordConfidence pulls the x_wconf score out of an HOCR title
// attribute, e.g. "bbox 10 20 30 40; x_wconf 95".
func extractWordConfidence(title string) float64 {
	matches := wconfPattern.FindStringSubmatch(title)
	if len(matches) != 2 {
		return 0.0
	}

	conf, err := strconv.ParseFloat(matches[1], 64)
	if err != nil {
		return 0.0
	}
	return conf
}

// hocrDocument mirrors the HOCR XML structure Tesseract emits.
type hocrDocument struct {
	XMLName xml.Name `xml:"html"`
	Body    hocrBody `xml:"body"`
}

type hocrBody struct {
	Pages []hocrPageDiv `xml:"div"`
}

type hocrPageDiv struct {
	Class string     `xml:"class,attr"`
	Title string     `xml:"title,attr"`
	Areas []hocrArea `xml:"div"`
}

type hocrArea struct {
	Class string    `xml:"class,attr"`
	Title string    `xml:"title,attr"`
	Pars  []hocrPar `xml:"p"`
}

type hocrPar struct {
	Class string     `xml:"class,attr"`
	Title string     `xml:"title,attr"`
	Lines []hocrLine `xml:"span"`
}

type hocrLine struct {
	Class string     `xml:"class,attr"`
	Title string     `xml:"title,attr"`
	Words []hocrWord `xml:"span"`
}

type hocrWord struct {
	Class string `xml:"class,attr"`
	Title string `xml:"title,attr"`
	Text  string `xml:",chardata"`
}
