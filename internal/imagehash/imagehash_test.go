package imagehash

import (
	"image"
	"image/color"
	"strings"
	"testing"
)

func gradientImage(offset uint8) image.Image {
	img := image.NewGray(image.Rect(0, 0, 64, 64))
	for y := 0; y < 64; y++ {
		for x := 0; x < 64; x++ {
			img.SetGray(x, y, color.Gray{Y: uint8(x)*3 + offset})
		}
	}
	return img
}

func TestContentHash(t *testing.T) {
	if got := ContentHash([]byte("hello")); got != "5d41402abc4b2a76b9719d911017c592" {
		t.Errorf("ContentHash = %q", got)
	}

	if ContentHash([]byte("a")) == ContentHash([]byte("b")) {
		t.Error("different content must not collide")
	}
}

func TestCacheKey(t *testing.T) {
	key := CacheKey([]byte("image-bytes"), "kor", "bilateral,otsu")

	parts := strings.Split(key, ":")
	if len(parts) != 3 || parts[0] != "ocr" {
		t.Fatalf("key = %q, want ocr:<content>:<params>", key)
	}
	if len(parts[1]) != 32 {
		t.Errorf("content hash length = %d, want 32", len(parts[1]))
	}
	if len(parts[2]) != 8 {
		t.Errorf("param hash length = %d, want 8", len(parts[2]))
	}

	if CacheKey([]byte("image-bytes"), "eng", "bilateral,otsu") == key {
		t.Error("language must change the cache key")
	}
	if CacheKey([]byte("image-bytes"), "kor", "median,simple") == key {
		t.Error("processing params must change the cache key")
	}
	if CacheKey([]byte("image-bytes"), "kor", "bilateral,otsu") != key {
		t.Error("cache key must be deterministic")
	}
}

func TestPerceptualHashes_IdenticalImages(t *testing.T) {
	a, b := gradientImage(0), gradientImage(0)

	for name, fn := range map[string]func(image.Image) Hash{
		"average":    AverageHash,
		"difference": DifferenceHash,
		"perceptual": PerceptualHash,
	} {
		if d := fn(a).Distance(fn(b)); d != 0 {
			t.Errorf("%s hash distance of identical images = %d, want 0", name, d)
		}
	}
}

func TestPerceptualHashes_SimilarImages(t *testing.T) {
	// A small uniform brightness shift preserves structure.
	a, b := gradientImage(0), gradientImage(4)

	if d := DifferenceHash(a).Distance(DifferenceHash(b)); d > 10 {
		t.Errorf("difference hash distance = %d, want <= 10 for near-identical images", d)
	}
	if d := PerceptualHash(a).Distance(PerceptualHash(b)); d > 10 {
		t.Errorf("perceptual hash distance = %d, want <= 10 for near-identical images", d)
	}
}

func TestPerceptualHashes_DistinctImages(t *testing.T) {
	// Horizontal versus vertical gradient.
	horizontal := gradientImage(0)
	vertical := image.NewGray(image.Rect(0, 0, 64, 64))
	for y := 0; y < 64; y++ {
		for x := 0; x < 64; x++ {
			vertical.SetGray(x, y, color.Gray{Y: uint8(y) * 3})
		}
	}

	if d := DifferenceHash(horizontal).Distance(DifferenceHash(vertical)); d < 8 {
		t.Errorf("difference hash distance = %d, want >= 8 for structurally distinct images", d)
	}
}

func TestHash_StringRoundTrip(t *testing.T) {
	h := PerceptualHash(gradientImage(0))

	parsed, err := ParseHash(h.String())
	if err != nil {
		t.Fatalf("ParseHash() error = %v", err)
	}
	if parsed != h {
		t.Errorf("round trip = %v, want %v", parsed, h)
	}
	if len(h.String()) != 16 {
		t.Errorf("hash string length = %d, want 16", len(h.String()))
	}
}

func TestHammingDistance(t *testing.T) {
	d, err := HammingDistance("000000000000000f", "0000000000000000")
	if err != nil {
		t.Fatalf("HammingDistance() error = %v", err)
	}
	if d != 4 {
		t.Errorf("distance = %d, want 4", d)
	}

	if _, err := HammingDistance("not-hex", "0000000000000000"); err == nil {
		t.Error("expected error for invalid hash string")
	}
}
