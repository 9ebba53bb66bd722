//go:build windows || nacl || plan9
// +build windows nacl plan9

package log

import "github.com/squareup/ksession/errors"

func addSyslogHook() error {
	return errors.NewInvalidConfigurationError("syslog is not supported on this platform")
}
