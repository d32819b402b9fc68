// Package qrcode renders JSON payloads as PNG QR codes.
package qrcode

import (
	"encoding/json"
	"fmt"

	qr "github.com/skip2/go-qrcode"
)

// Size is the edge length in pixels of generated images.
const Size = 256

// PNG marshals payload to JSON and encodes it as a QR code image.
func PNG(payload interface{}) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode qr payload: %w", err)
	}
	png, err := qr.Encode(string(data), qr.Medium, Size)
	if err != nil {
		return nil, fmt.Errorf("render qr code: %w", err)
	}
	return png, nil
}
