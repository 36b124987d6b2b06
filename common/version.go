package common

// PackageName is the namespace used for metrics and logging.
const PackageName = "frontdoor"

// Version is overridden at build time with -ldflags.
var Version = "dev"
