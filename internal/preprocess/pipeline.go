package preprocess

import (
	"fmt"
	"image"

	"github.com/disintegration/imaging"

	"github.com/docuflow/receiptscan/internal/logger"
)

// Step captures one pipeline stage's output for diagnostics.
type Step struct {
	Name  string
	Image image.Image
}

// Preprocessor runs the image correction pipeline. It is stateless
// beyond its configuration and safe for concurrent use.
type Preprocessor struct {
	cfg Config
	log *logger.Logger
}

// New creates a Preprocessor with the given configuration.
func New(cfg Config, log *logger.Logger) (*Preprocessor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid preprocess config: %w", err)
	}
	if log == nil {
		log = logger.Get()
	}
	return &Preprocessor{cfg: cfg, log: log}, nil
}

// Config returns the active configuration.
func (p *Preprocessor) Config() Config {
	return p.cfg
}

// Process runs the full pipeline and returns the corrected image. Every
// stage failure is recovered by passing the stage's input through, so
// Process always returns a usable image.
func (p *Preprocessor) Process(img image.Image) image.Image {
	out, _ := p.run(img, false)
	return out
}

// ProcessSteps runs the pipeline and additionally returns each stage's
// intermediate output, in execution order.
func (p *Preprocessor) ProcessSteps(img image.Image) (image.Image, []Step) {
	return p.run(img, true)
}

func (p *Preprocessor) run(img image.Image, recordSteps bool) (image.Image, []Step) {
	var steps []Step
	record := func(name string, stepImg image.Image) {
		if recordSteps {
			steps = append(steps, Step{Name: name, Image: stepImg})
		}
	}

	current := img

	current = p.stage("resize", current, p.resizeToBounds)
	record("resized", current)

	if p.cfg.AutoCrop {
		current = p.stage("auto_crop", current, p.cropDocument)
		record("cropped", current)
	}

	current = p.stage("grayscale", current, func(in image.Image) (image.Image, error) {
		return toGray(in), nil
	})
	record("grayscale", current)

	if p.cfg.AutoRotate {
		current = p.stage("deskew", current, func(in image.Image) (image.Image, error) {
			return deskew(toGray(in)), nil
		})
		record("deskewed", current)
	}

	if p.cfg.DenoiseMethod != "" {
		current = p.stage("denoise", current, func(in image.Image) (image.Image, error) {
			return denoise(toGray(in), p.cfg.DenoiseMethod), nil
		})
		record("denoised", current)
	}

	if p.cfg.ContrastEnhancement {
		current = p.stage("contrast", current, func(in image.Image) (image.Image, error) {
			return enhanceContrast(toGray(in)), nil
		})
		record("contrast_enhanced", current)
	}

	if p.cfg.BinarizationMethod != "" {
		current = p.stage("binarize", current, func(in image.Image) (image.Image, error) {
			return binarize(toGray(in), p.cfg.BinarizationMethod), nil
		})
		record("binarized", current)
	}

	if p.cfg.MorphOperations {
		current = p.stage("morphology", current, func(in image.Image) (image.Image, error) {
			return closeMorph(toGray(in)), nil
		})
		record("morphed", current)
	}

	current = p.stage("sharpen", current, func(in image.Image) (image.Image, error) {
		sharpened := imaging.Sharpen(in, 1.0)
		return imaging.AdjustContrast(sharpened, 10), nil
	})
	record("final", current)

	return current, steps
}

// stage runs one pipeline stage and recovers any failure by passing the
// input through unchanged.
func (p *Preprocessor) stage(name string, input image.Image, fn func(image.Image) (image.Image, error)) (out image.Image) {
	defer func() {
		if r := recover(); r != nil {
			p.log.WithStage(name).Warnf("stage panicked, passing input through: %v", r)
			out = input
		}
	}()

	result, err := fn(input)
	if err != nil {
		p.log.WithStage(name).Debugf("stage failed, passing input through: %v", err)
		return input
	}
	if result == nil || result.Bounds().Dx() < 1 || result.Bounds().Dy() < 1 {
		p.log.WithStage(name).Debug("stage produced empty image, passing input through")
		return input
	}
	return result
}

// resizeToBounds shrinks the image to the configured working resolution
// while preserving aspect ratio. Images within bounds pass through.
func (p *Preprocessor) resizeToBounds(img image.Image) (image.Image, error) {
	bounds := img.Bounds()
	if bounds.Dx() <= p.cfg.ResizeMaxWidth && bounds.Dy() <= p.cfg.ResizeMaxHeight {
		return img, nil
	}
	return imaging.Fit(img, p.cfg.ResizeMaxWidth, p.cfg.ResizeMaxHeight, imaging.Lanczos), nil
}

// cropDocument detects the document quadrilateral and flattens it with a
// perspective transform. When no quadrilateral is found the image passes
// through; a receipt filling the frame needs no crop.
func (p *Preprocessor) cropDocument(img image.Image) (image.Image, error) {
	quad, ok := detectDocumentContour(toGray(img))
	if !ok {
		p.log.WithStage("auto_crop").Debug("no document contour detected")
		return img, nil
	}
	return fourPointTransform(img, quad)
}
