package acquire

import (
	"errors"
	"fmt"
)

// Reason classifies an acquisition failure.
type Reason string

const (
	ReasonSourceMissing  Reason = "source_missing"
	ReasonCopyFailed     Reason = "copy_failed"
	ReasonDownloadFailed Reason = "download_failed"
)

// AcquisitionError reports why a Descriptor could not be resolved to a local file.
type AcquisitionError struct {
	Reason Reason
	Name   string
	Path   string
	Err    error
}

func (e *AcquisitionError) Error() string {
	msg := fmt.Sprintf("acquire %s: %s", e.Name, e.Reason)
	if e.Path != "" {
		msg += " (" + e.Path + ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *AcquisitionError) Unwrap() error { return e.Err }

// IsAcquisitionError reports whether err is an AcquisitionError. When reasons
// are given, the error's Reason must match one of them.
func IsAcquisitionError(err error, reasons ...Reason) bool {
	var ae *AcquisitionError
	if !errors.As(err, &ae) {
		return false
	}
	if len(reasons) == 0 {
		return true
	}
	for _, r := range reasons {
		if ae.Reason == r {
			return true
		}
	}
	return false
}
