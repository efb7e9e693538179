package config

// Build metadata, set at link time by the dev build tool.
var (
	Version = "dev"
	Commit  string
	Date    string
)
