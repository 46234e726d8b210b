// Package qr encodes outbound payloads as QR images and extracts text
// from inbound photos.
package qr

import (
	"bytes"
	"errors"
	"image"
	_ "image/jpeg"
	_ "image/png"

	"github.com/makiuchi-d/gozxing"
	zxqr "github.com/makiuchi-d/gozxing/qrcode"
	qrcode "github.com/skip2/go-qrcode"
)

// ErrNoCode reports that no QR code was found in the image.
var ErrNoCode = errors.New("no qr code found")

const imageSize = 512

// Encode renders text as a PNG QR image.
func Encode(text string) ([]byte, error) {
	return qrcode.Encode(text, qrcode.Medium, imageSize)
}

// Decode extracts the text of the first QR code in an image. Returns
// ErrNoCode when the image holds no readable code.
func Decode(data []byte) (string, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return "", ErrNoCode
	}
	source := gozxing.NewLuminanceSourceFromImage(img)
	bmp, err := gozxing.NewBinaryBitmap(gozxing.NewHybridBinarizer(source))
	if err != nil {
		return "", ErrNoCode
	}
	result, err := zxqr.NewQRCodeReader().Decode(bmp, nil)
	if err != nil {
		return "", ErrNoCode
	}
	return result.GetText(), nil
}
