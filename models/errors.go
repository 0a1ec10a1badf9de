package models

import (
	"errors"
	"fmt"
)

var (
	ErrSignatureInvalid = errors.New("signature invalid")
	// ErrReplayTooOld also matches ErrSignatureInvalid.
	ErrReplayTooOld        = fmt.Errorf("%w: timestamp outside tolerance", ErrSignatureInvalid)
	ErrInsufficientCredits = errors.New("insufficient credits")
	ErrMalformedPayload    = errors.New("malformed payload")
	ErrUpstreamProvider    = errors.New("upstream provider error")
	ErrInvalidInput        = errors.New("invalid input")
	ErrNotFound            = errors.New("not found")
	ErrInvalidTransition   = errors.New("invalid status transition")
)
