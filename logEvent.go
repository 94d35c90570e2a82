package jobqueue

import (
	"github.com/sirupsen/logrus"
)

func (ev LogEvent) fields() logrus.Fields {
	f := logrus.Fields{}
	if ev.WorkerID != "" {
		f["worker"] = ev.WorkerID
	}
	if ev.Queue != "" {
		f["queue"] = ev.Queue
	}
	if ev.JobID != nil {
		f["job"] = *ev.JobID
	}
	if ev.Duration != nil {
		f["duration"] = ev.Duration.String()
	}
	if ev.Err != nil {
		f[logrus.ErrorKey] = ev.Err
	}
	return f
}

// Helper methods to invoke logging
func (c *Config) logInfo(ev LogEvent) {
	if c.InfoLog != nil {
		c.InfoLog(ev)
		return
	}
	c.Logger.WithFields(ev.fields()).Info(ev.Message)
}

func (c *Config) logDebug(ev LogEvent) {
	if c.InfoLog != nil {
		return
	}
	c.Logger.WithFields(ev.fields()).Debug(ev.Message)
}

func (c *Config) logError(ev LogEvent) {
	if c.ErrorLog != nil {
		c.ErrorLog(ev)
		return
	}
	c.Logger.WithFields(ev.fields()).Error(ev.Message)
}
