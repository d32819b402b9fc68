package qrcode

import (
	"bytes"
	"image/png"
	"testing"
)

func TestPNG(t *testing.T) {
	data, err := PNG(map[string]string{"type": "employee", "employee_id": "42"})
	if err != nil {
		t.Fatalf("PNG: %v", err)
	}
	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("decode png: %v", err)
	}
	if img.Bounds().Dx() != Size {
		t.Errorf("expected width %d, got %d", Size, img.Bounds().Dx())
	}
}

func TestPNG_UnencodablePayload(t *testing.T) {
	if _, err := PNG(map[string]interface{}{"ch": make(chan int)}); err == nil {
		t.Fatal("expected error for unencodable payload")
	}
}
