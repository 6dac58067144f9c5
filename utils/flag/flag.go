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
	APIServer  = "api_server"
	FeedWorker = "feed_worker"
)

var (
	IsDevelopment bool
	ServiceName   string
)

func init() {
	flag.BoolVar(&IsDevelopment, "dev", true, "set to true if the current run is for development. default value is true")
	flag.StringVar(&ServiceName, "service", APIServer, "'api_server' or 'feed_worker'")
}

// ParseFlags is called from each main once every package has registered its
// flags. Parsing cannot happen in init: the test runner registers its own
// flags after package initialization.
func ParseFlags() {
	flag.Parse()
}
