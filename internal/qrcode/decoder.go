// Package qrcode extracts member ids from QR codes in camera frames.
package qrcode

import (
	"context"
	"strings"

	"github.com/makiuchi-d/gozxing"
	"github.com/makiuchi-d/gozxing/qrcode"

	"github.com/campuscheck/attendance/internal/camera"
)

// Decoder reads QR codes with gozxing.
type Decoder struct {
	hints map[gozxing.DecodeHintType]interface{}
}

// NewDecoder returns a decoder that tries hard on each frame.
func NewDecoder() *Decoder {
	return &Decoder{hints: map[gozxing.DecodeHintType]interface{}{
		gozxing.DecodeHintType_TRY_HARDER: true,
	}}
}

// Decode returns the trimmed text of the QR code in f. found is false when the
// frame holds no readable code; err is only set when the frame itself is unusable.
func (d *Decoder) Decode(ctx context.Context, f *camera.Frame) (string, bool, error) {
	if err := ctx.Err(); err != nil {
		return "", false, err
	}
	img, err := f.Image()
	if err != nil {
		return "", false, err
	}
	bmp, err := gozxing.NewBinaryBitmapFromImage(img)
	if err != nil {
		return "", false, err
	}

	// A fresh reader per call; gozxing readers keep per-decode state.
	result, err := qrcode.NewQRCodeReader().Decode(bmp, d.hints)
	if err != nil {
		return "", false, nil
	}
	text := strings.TrimSpace(result.GetText())
	if text == "" {
		return "", false, nil
	}
	return text, true, nil
}
