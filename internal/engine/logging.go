package engine

import (
	"github.com/sirupsen/logrus"
)

func (e *Engine) logEntry() *logrus.Entry {
	return e.log.WithComponent("engine")
}

func (e *Engine) symbolEntry(symbol string) *logrus.Entry {
	return e.logEntry().WithField("symbol", symbol)
}
