/*
flag Package set up cli flags shared across services

Usage:

	Flags listed in this package are shared across boundaries and service-agnostic
	For service dependent flags please define in their respective package
*/

package flag

import (
	"flag"
)

const (
	APIServer = "api_server"
	CLI       = "cli"
)

var (
	IsDevelopment *bool
	ServiceName   *string
	ConfigPath    *string
)

func init() {
	IsDevelopment = flag.Bool("dev", true, "set to true if the current run is for development. default value is true")
	ServiceName = flag.String("service", APIServer, "'api_server' or 'cli'")
	ConfigPath = flag.String("config", "threadify.yaml", "path to the service yaml config")
}

// ParseFlags must be called in main after all packages had the chance to
// register their own flags.
func ParseFlags() {
	flag.Parse()
}
