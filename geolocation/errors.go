package geolocation

import (
	"errors"
	"fmt"
)

var (
	// ErrCapabilityUnavailable is returned by Start when no positioning
	// capability is configured or it refused to start watching.
	ErrCapabilityUnavailable = errors.New("positioning capability unavailable")
	// ErrInsecureContext is returned by Start when a secure context is
	// required and the capability does not run in one.
	ErrInsecureContext = errors.New("positioning requires a secure context")
	// ErrCanceled is the error of a subscription ended by Cancel.
	ErrCanceled = errors.New("acquisition canceled")
)

// Reason identifies why an acquisition failed.
type Reason string

const (
	ReasonCapabilityUnavailable Reason = "capability-unavailable"
	ReasonInsecureContext       Reason = "insecure-context"
	ReasonPermissionDenied      Reason = "permission-denied"
	ReasonPositionUnavailable   Reason = "position-unavailable"
	ReasonTimeout               Reason = "timeout"
	ReasonCapabilityError       Reason = "capability-error"
	ReasonAccuracyInsufficient  Reason = "accuracy-insufficient"
	ReasonNoFix                 Reason = "no-fix"
	ReasonCanceled              Reason = "canceled"
)

var reasonMessages = map[Reason]string{
	ReasonCapabilityUnavailable: "This device or browser does not support geolocation.",
	ReasonInsecureContext:       "Location requires a secure (HTTPS) connection.",
	ReasonPermissionDenied:      "Location permission denied. Please allow location access in your browser settings.",
	ReasonPositionUnavailable:   "Location unavailable. Check that GPS is turned on and try again in an open area.",
	ReasonTimeout:               "Timed out waiting for a location. Check your connection and try again.",
	ReasonAccuracyInsufficient:  "Could not get a precise enough location. Try again in an open area.",
	ReasonNoFix:                 "No location was received. Check that GPS is turned on and try again.",
	ReasonCanceled:              "Location request canceled.",
}

// AcquisitionError is the terminal error of a failed acquisition.
type AcquisitionError struct {
	Reason Reason
	// Detail carries the capability's own message for capability errors.
	Detail string
	// BestAccuracy is the best accuracy observed before failing, if any.
	BestAccuracy float64
}

func (e *AcquisitionError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("acquisition failed: %s: %s", e.Reason, e.Detail)
	}
	return fmt.Sprintf("acquisition failed: %s", e.Reason)
}

// UserMessage is the actionable text shown to the person requesting a fix.
func (e *AcquisitionError) UserMessage() string {
	if msg, ok := reasonMessages[e.Reason]; ok {
		return msg
	}
	if e.Detail != "" {
		return "Location error: " + e.Detail
	}
	return "Location error."
}

func (e *AcquisitionError) Is(target error) bool {
	return e.Reason == ReasonCanceled && target == ErrCanceled
}

// AsAcquisitionError converts any error returned by Start or carried by an
// Outcome into an AcquisitionError.
func AsAcquisitionError(err error) *AcquisitionError {
	var aerr *AcquisitionError
	switch {
	case err == nil:
		return nil
	case errors.As(err, &aerr):
		return aerr
	case errors.Is(err, ErrInsecureContext):
		return &AcquisitionError{Reason: ReasonInsecureContext}
	case errors.Is(err, ErrCapabilityUnavailable):
		return &AcquisitionError{Reason: ReasonCapabilityUnavailable, Detail: err.Error()}
	default:
		return &AcquisitionError{Reason: ReasonCapabilityError, Detail: err.Error()}
	}
}

// reasonFor maps a capability error to its failure reason.
func reasonFor(err error) *AcquisitionError {
	var perr *PositionError
	if !errors.As(err, &perr) {
		return &AcquisitionError{Reason: ReasonCapabilityError, Detail: err.Error()}
	}
	switch perr.Code {
	case CodePermissionDenied:
		return &AcquisitionError{Reason: ReasonPermissionDenied, Detail: perr.Message}
	case CodePositionUnavailable:
		return &AcquisitionError{Reason: ReasonPositionUnavailable, Detail: perr.Message}
	case CodeTimeout:
		return &AcquisitionError{Reason: ReasonTimeout, Detail: perr.Message}
	default:
		return &AcquisitionError{Reason: ReasonCapabilityError, Detail: perr.Message}
	}
}

// AccuracyLabel grades an accuracy in meters for display.
func AccuracyLabel(meters float64) string {
	switch {
	case meters < 20:
		return "excellent"
	case meters < 50:
		return "good"
	case meters < 100:
		return "fair"
	default:
		return "low"
	}
}
