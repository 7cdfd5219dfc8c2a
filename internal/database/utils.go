package database

import (
	"path"
)

// dataSourceName builds the sqlite file path, falling back to the working
// directory when no config path is set.
func dataSourceName(configPath string, name string) string {
	if configPath != "" {
		return path.Join(configPath, name)
	}

	return name
}
