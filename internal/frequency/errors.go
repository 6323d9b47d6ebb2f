package frequency

import "errors"

var (
	// ErrShapeMismatch is returned when activation sequences, label streams or
	// tensors disagree in length or AU layout.
	ErrShapeMismatch = errors.New("frequency: shape mismatch")

	// ErrEmptySequence is returned when a rate is requested over zero observations.
	ErrEmptySequence = errors.New("frequency: empty sequence")

	// ErrUndefinedFrequency is returned when an undefined frequency is read as a number.
	ErrUndefinedFrequency = errors.New("frequency: undefined frequency")

	// ErrUnknownClass is returned when a class name is not configured.
	ErrUnknownClass = errors.New("frequency: unknown class")
)
