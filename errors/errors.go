package errors

import (
	"fmt"
)

type ErrorCode int

const (
	InternalError = iota
	InvalidConfiguration
	ResourceUnavailable
	NoBrokersAvailable
	TopicUnavailable
	ConsumeStartFailed
	ProduceRejected
	FetchFailed
	SessionClosed
)

func NewInvalidConfigurationError(msg string) SessionError {
	return NewSessionErrorf(InvalidConfiguration, "Invalid configuration: %s", msg)
}

func NewResourceUnavailableError(what string, cause error) SessionError {
	return newSessionErrorWithCause(ResourceUnavailable, cause, "Failed to create %s", what)
}

func NewNoBrokersAvailableError(brokers []string) SessionError {
	return NewSessionErrorf(NoBrokersAvailable, "No valid brokers specified in %v", brokers)
}

func NewTopicUnavailableError(topicName string, cause error) SessionError {
	return newSessionErrorWithCause(TopicUnavailable, cause, "Failed to create topic %s", topicName)
}

func NewConsumeStartFailedError(topicName string, partition int32, cause error) SessionError {
	return newSessionErrorWithCause(ConsumeStartFailed, cause, "Failed to start consuming %s [%d]", topicName, partition)
}

func NewProduceRejectedError(topicName string, partition int32, cause error) SessionError {
	return newSessionErrorWithCause(ProduceRejected, cause, "Failed to produce to topic %s partition %d", topicName, partition)
}

func NewFetchFailedError(topicName string, partition int32, offset int64, cause error) SessionError {
	return newSessionErrorWithCause(FetchFailed, cause, "Consume error for topic %s [%d] offset %d", topicName, partition, offset)
}

func NewSessionClosedError() SessionError {
	return NewSessionErrorf(SessionClosed, "Session has been shut down")
}

func NewSessionErrorf(errorCode ErrorCode, msgFormat string, args ...interface{}) SessionError {
	msg := fmt.Sprintf(fmt.Sprintf("KS%04d - %s", errorCode, msgFormat), args...)
	return SessionError{Code: errorCode, Msg: msg}
}

func newSessionErrorWithCause(errorCode ErrorCode, cause error, msgFormat string, args ...interface{}) SessionError {
	se := NewSessionErrorf(errorCode, msgFormat, args...)
	se.Cause = cause
	return se
}

// SessionError is any kind of error that is exposed to the caller of a session or to the user of the CLI
type SessionError struct {
	Code  ErrorCode
	Msg   string
	Cause error
}

func (e SessionError) Error() string {
	if e.Cause != nil {
		return e.Msg + ": " + e.Cause.Error()
	}
	return e.Msg
}

func (e SessionError) Unwrap() error {
	return e.Cause
}

// HasCode returns true if err is, or wraps, a SessionError with the given code.
func HasCode(err error, code ErrorCode) bool {
	var se SessionError
	if !As(err, &se) {
		return false
	}
	return se.Code == code
}

func IsConfigError(err error) bool { return HasCode(err, InvalidConfiguration) }

func IsResourceError(err error) bool { return HasCode(err, ResourceUnavailable) }

func IsConnectivityError(err error) bool { return HasCode(err, NoBrokersAvailable) }

func IsTopicError(err error) bool { return HasCode(err, TopicUnavailable) }

func IsProduceError(err error) bool { return HasCode(err, ProduceRejected) }

func IsFetchError(err error) bool { return HasCode(err, FetchFailed) }

// IsFatal returns true for failures during session setup. These must stop the process - no partial session is left
// running.
func IsFatal(err error) bool {
	var se SessionError
	if !As(err, &se) {
		return false
	}
	switch se.Code {
	case InvalidConfiguration, ResourceUnavailable, NoBrokersAvailable, TopicUnavailable, ConsumeStartFailed:
		return true
	default:
		return false
	}
}
