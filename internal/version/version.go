// Package version хранит сведения о сборке, заданные через -ldflags.
package version

import (
	"fmt"
	"runtime/debug"
	"sync"
)

// Заполняются при сборке:
//
//	go build -ldflags "-X github.com/vladislavdragonenkov/shop/internal/version.version=v1.2.0"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

var fromBuildInfo = sync.OnceValues(func() (string, string) {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return "", ""
	}
	var revision, modified string
	for _, setting := range info.Settings {
		switch setting.Key {
		case "vcs.revision":
			revision = setting.Value
		case "vcs.time":
			modified = setting.Value
		}
	}
	return revision, modified
})

// Info возвращает версию, коммит и дату сборки.
// Если -ldflags не заданы, коммит и дата берутся из VCS-метаданных бинарника.
func Info() (v, c, d string) {
	v, c, d = version, commit, date
	revision, vcsTime := fromBuildInfo()
	if c == "unknown" && revision != "" {
		c = revision
	}
	if d == "unknown" && vcsTime != "" {
		d = vcsTime
	}
	return v, c, d
}

// Version возвращает только номер версии.
func Version() string {
	return version
}

func String() string {
	v, c, d := Info()
	return fmt.Sprintf("version=%s commit=%s date=%s", v, c, d)
}
