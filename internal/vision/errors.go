package vision

import "errors"

// Calibration and detection failures are surfaced as distinct sentinel
// errors so the session manager and control surface can act on the specific
// kind rather than a flattened message. Wrap with fmt.Errorf("...: %w", ...)
// to add detail; match with errors.Is.
var (
	// ErrNoTargetFound means no circle candidate passed the shape filters.
	ErrNoTargetFound = errors.New("no target found")

	// ErrAmbiguousTarget means more than one equally strong circle candidate
	// was present and the calibrator refused to guess between them.
	ErrAmbiguousTarget = errors.New("ambiguous target")

	// ErrPoorGeometry means the fitted boundary is too elliptical, which
	// indicates the camera is more than the permitted angle off
	// perpendicular to the face.
	ErrPoorGeometry = errors.New("poor target geometry")

	// ErrNotCalibrated is returned when detection is requested without a
	// valid calibration profile.
	ErrNotCalibrated = errors.New("detector not calibrated")

	// ErrDetectionFault wraps unexpected internal detector failures.
	ErrDetectionFault = errors.New("detection fault")
)
