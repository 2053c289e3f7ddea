// Package anpr is the boundary to the plate-recognition pipeline. The
// detector itself (camera, model, OCR) lives outside this repository;
// this package only defines the contract the sync side consumes.
package anpr

import "errors"

// ErrNoPlate means no plate could be produced from the input.
var ErrNoPlate = errors.New("anpr: no plate recognized")

// Result is the recognizer output for one image.
type Result struct {
	PlateNumber string
	Confidence  float64
}

// Recognizer turns raw image bytes into a plate reading.
type Recognizer interface {
	Recognize(image []byte) (Result, error)
}

// Passthrough is the deployment without a detector: it cannot read
// images, so callers fall back to a device-provided plate number.
type Passthrough struct{}

func (Passthrough) Recognize([]byte) (Result, error) {
	return Result{}, ErrNoPlate
}
