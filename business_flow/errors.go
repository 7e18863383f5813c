// Package businessflow contains the pricing and reconciliation logic of the price sync service
package businessflow

import (
	"errors"
	"fmt"
)

// Business flow error constants
var (
	// Run-fatal errors, raised before any product is touched
	ErrInvalidRate         = errors.New("invalid metal rate")
	ErrRateFetch           = errors.New("failed to fetch live metal rates")
	ErrSettingsUnavailable = errors.New("pricing settings unavailable")
	ErrCatalogUnavailable  = errors.New("catalog unavailable")
	ErrInvalidRunInput     = errors.New("invalid run input")
	ErrRunInProgress       = errors.New("another price run is in progress")

	// Audit trail
	ErrRunNotFound = errors.New("price run not found")

	// Product-level errors
	ErrRateResolution = errors.New("rate resolution failed")

	// Variant-level errors
	ErrMetalLabelParse     = errors.New("unrecognized metal label")
	ErrMalformedStoneData  = errors.New("malformed stone data")
	ErrInvalidPricingInput = errors.New("invalid pricing input")
	ErrWriteFailure        = errors.New("storefront write failed")
)

type BusinessError struct {
	Code    string
	Message string
	Err     error
}

func (e *BusinessError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *BusinessError) Unwrap() error {
	return e.Err
}

func NewBusinessError(code, message string, err error) *BusinessError {
	return &BusinessError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// ErrorCode returns the BusinessError code of err, or "" when err carries none.
func ErrorCode(err error) string {
	var be *BusinessError
	if errors.As(err, &be) {
		return be.Code
	}
	return ""
}

func IsInvalidRate(err error) bool {
	return errors.Is(err, ErrInvalidRate)
}

func IsRateFetch(err error) bool {
	return errors.Is(err, ErrRateFetch)
}

func IsSettingsUnavailable(err error) bool {
	return errors.Is(err, ErrSettingsUnavailable)
}

func IsCatalogUnavailable(err error) bool {
	return errors.Is(err, ErrCatalogUnavailable)
}

func IsInvalidRunInput(err error) bool {
	return errors.Is(err, ErrInvalidRunInput)
}

func IsRunInProgress(err error) bool {
	return errors.Is(err, ErrRunInProgress)
}

func IsRunNotFound(err error) bool {
	return errors.Is(err, ErrRunNotFound)
}

func IsRateResolution(err error) bool {
	return errors.Is(err, ErrRateResolution)
}

func IsMetalLabelParse(err error) bool {
	return errors.Is(err, ErrMetalLabelParse)
}

func IsMalformedStoneData(err error) bool {
	return errors.Is(err, ErrMalformedStoneData)
}

func IsInvalidPricingInput(err error) bool {
	return errors.Is(err, ErrInvalidPricingInput)
}

func IsWriteFailure(err error) bool {
	return errors.Is(err, ErrWriteFailure)
}
