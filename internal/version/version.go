package version

// Version is the current version of SecureEra, shared by the CLI and the
// relay server. Release builds override it with:
//
//	go build -ldflags="-X 'github.com/secureera/secureera/internal/version.Version=v1.0.0'"
var Version = "dev"
