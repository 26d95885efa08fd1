package version

// AppName identifies the binary in logs and telemetry.
const AppName = "fleetopt"

// Current is the release version, overridable at link time.
var Current = "1.2.0"
