package utils

import (
	Flag "github.com/kamaleddin/threadify/utils/flag"
	Logger "github.com/kamaleddin/threadify/utils/log"
	"github.com/sirupsen/logrus"
	"gopkg.in/DataDog/dd-trace-go.v1/ddtrace/tracer"
)

// InitTracer starts the Datadog tracer. Call once in main.
func InitTracer() {
	env := "development"
	if IsProdEnv() {
		env = "production"
	}

	tracer.Start(
		tracer.WithService(*Flag.ServiceName),
		tracer.WithEnv(env),
	)

	Logger.Log.WithFields(
		logrus.Fields{"service": *Flag.ServiceName, "env": env},
	).Info("tracer initialized")
}

// CloseTracer stops the tracer, OK to be closed multiple times.
func CloseTracer() {
	tracer.Stop()
}
