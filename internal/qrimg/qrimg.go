// ABOUTME: Renders pairing codes as scannable QR images.
// ABOUTME: Produces base64 PNG data URLs suitable for direct embedding.

package qrimg

import (
	"encoding/base64"
	"fmt"

	qrcode "github.com/skip2/go-qrcode"
)

// DataURL renders the pairing code as a 256x256 PNG and returns it as a
// data URL, matching what pairing UIs expect to drop into an <img> tag.
func DataURL(code string) (string, error) {
	png, err := qrcode.Encode(code, qrcode.Medium, 256)
	if err != nil {
		return "", fmt.Errorf("encoding qr code: %w", err)
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(png), nil
}
