package bridgeversion

var (
	version   string
	commit    string
	buildTime string
)

// Version returns agent version.
func Version() string {
	if version == "" {
		version = "dev"
	}

	return version
}

// Commit returns the git commit the agent was built from.
func Commit() string {
	return commit
}

// BuildTime returns when the agent was built.
func BuildTime() string {
	return buildTime
}
