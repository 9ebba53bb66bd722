//go:build !windows && !nacl && !plan9
// +build !windows,!nacl,!plan9

package log

import (
	"log/syslog"

	log "github.com/sirupsen/logrus"
	lsyslog "github.com/sirupsen/logrus/hooks/syslog"
	"github.com/squareup/ksession/errors"
)

func addSyslogHook() error {
	hook, err := lsyslog.NewSyslogHook("", "", syslog.LOG_INFO|syslog.LOG_USER, Facility)
	if err != nil {
		return errors.WithStack(err)
	}
	log.AddHook(hook)
	return nil
}
