// Package preprocess converts an arbitrarily photographed receipt into a
// canonical document image: bounded resolution, perspective-corrected,
// deskewed, denoised, contrast-enhanced and binarized. Every stage is
// individually toggleable and individually recoverable; preprocessing
// never blocks recognition.
package preprocess

import "fmt"

// Denoise filter methods.
const (
	DenoiseBilateral = "bilateral"
	DenoiseMedian    = "median"
	DenoiseGaussian  = "gaussian"
	DenoiseNLMeans   = "nlmeans"
)

// Binarization methods.
const (
	BinarizeOtsu     = "otsu"
	BinarizeAdaptive = "adaptive"
	BinarizeSimple   = "simple"
)

// Config controls which pipeline stages run and how.
type Config struct {
	// AutoCrop enables document boundary detection and perspective
	// correction.
	AutoCrop bool `mapstructure:"auto_crop"`

	// AutoRotate enables Hough-based skew correction.
	AutoRotate bool `mapstructure:"auto_rotate"`

	// DenoiseMethod selects the noise filter: bilateral, median,
	// gaussian or nlmeans. Empty disables denoising.
	DenoiseMethod string `mapstructure:"denoise_method"`

	// ContrastEnhancement enables adaptive histogram equalization.
	ContrastEnhancement bool `mapstructure:"contrast_enhancement"`

	// BinarizationMethod selects thresholding: otsu, adaptive or
	// simple. Empty disables binarization.
	BinarizationMethod string `mapstructure:"binarization_method"`

	// MorphOperations enables the closing operation that reconnects
	// broken glyph strokes after binarization.
	MorphOperations bool `mapstructure:"morph_operations"`

	// ResizeMaxWidth and ResizeMaxHeight bound the working resolution.
	// Images already within bounds are not resized.
	ResizeMaxWidth  int `mapstructure:"resize_max_width"`
	ResizeMaxHeight int `mapstructure:"resize_max_height"`
}

// DefaultConfig returns the stock receipt pipeline configuration.
func DefaultConfig() Config {
	return Config{
		AutoCrop:            true,
		AutoRotate:          true,
		DenoiseMethod:       DenoiseBilateral,
		ContrastEnhancement: true,
		BinarizationMethod:  BinarizeOtsu,
		MorphOperations:     true,
		ResizeMaxWidth:      2000,
		ResizeMaxHeight:     2000,
	}
}

// Validate checks that method names and bounds are usable.
func (c Config) Validate() error {
	switch c.DenoiseMethod {
	case "", DenoiseBilateral, DenoiseMedian, DenoiseGaussian, DenoiseNLMeans:
	default:
		return fmt.Errorf("invalid denoise method %q", c.DenoiseMethod)
	}

	switch c.BinarizationMethod {
	case "", BinarizeOtsu, BinarizeAdaptive, BinarizeSimple:
	default:
		return fmt.Errorf("invalid binarization method %q", c.BinarizationMethod)
	}

	if c.ResizeMaxWidth < 1 || c.ResizeMaxHeight < 1 {
		return fmt.Errorf("resize bounds must be at least 1x1, got %dx%d",
			c.ResizeMaxWidth, c.ResizeMaxHeight)
	}

	return nil
}
