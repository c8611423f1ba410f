package command

import "errors"

var (
	// ErrDispatchPersistence is returned when the command log cannot be written.
	// Nothing has been sent when it is returned.
	ErrDispatchPersistence = errors.New("command: persistence failed")

	// ErrCommandNotFound is returned when a command id does not exist.
	ErrCommandNotFound = errors.New("command: not found")

	// ErrInvalidTarget is returned when the device primary key is not positive.
	ErrInvalidTarget = errors.New("command: invalid target")

	// ErrInvalidPayload is returned when the payload is not valid JSON.
	ErrInvalidPayload = errors.New("command: invalid payload")

	// ErrInvalidSource is returned for an unknown command source.
	ErrInvalidSource = errors.New("command: invalid source")
)
