package version

// Version contains the vold version number.
var Version = "1.2.0"

// UserAgent contains a string identifying the daemon and the platform it runs on.
var UserAgent = getUserAgent()
