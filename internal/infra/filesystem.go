package infra

import (
	"os"

	log "github.com/sirupsen/logrus"
)

// EnsureWorkDir creates the bot's working directory if needed and returns
// its path.
func EnsureWorkDir(path string) string {
	if err := os.MkdirAll(path, os.ModePerm); err != nil {
		log.WithError(err).Fatalln("cant create work dir")
	}
	return path
}
