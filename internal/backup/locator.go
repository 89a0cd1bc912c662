package backup

import (
	"fmt"
	"os"
	"os/exec"
	"runtime"
)

// ToolLocator finds the database dump executable.
type ToolLocator interface {
	Locate() (string, error)
}

// dumpToolNames are looked up on PATH in order.
var dumpToolNames = []string{"mysqldump", "mariadb-dump"}

// commonDumpPaths are probed, in order, when PATH lookup fails.
var commonDumpPaths = []string{
	"/usr/bin/mysqldump",
	"/usr/local/bin/mysqldump",
	"/usr/local/mysql/bin/mysqldump",
	"/opt/homebrew/bin/mysqldump",
	"/opt/homebrew/opt/mysql-client/bin/mysqldump",
	"/opt/mysql/bin/mysqldump",
	"/usr/bin/mariadb-dump",
	"/usr/local/bin/mariadb-dump",
	"/opt/homebrew/bin/mariadb-dump",
	`C:\Program Files\MySQL\MySQL Server 8.0\bin\mysqldump.exe`,
	`C:\Program Files\MariaDB 11.4\bin\mariadb-dump.exe`,
}

// PathLocator resolves the dump tool from an explicit override, PATH, then a
// fixed list of install locations.
type PathLocator struct {
	Override string
	Paths    []string
}

// NewPathLocator creates a locator honouring override when set.
func NewPathLocator(override string) *PathLocator {
	return &PathLocator{Override: override, Paths: commonDumpPaths}
}

// Locate returns the path of the first dump tool found.
func (l *PathLocator) Locate() (string, error) {
	if l.Override != "" {
		if _, err := os.Stat(l.Override); err == nil {
			return l.Override, nil
		}
		return "", fmt.Errorf("%w at %s", ErrDumpToolNotFound, l.Override)
	}

	for _, name := range dumpToolNames {
		if path, err := exec.LookPath(name); err == nil {
			return path, nil
		}
	}

	for _, p := range l.Paths {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", fmt.Errorf("%w: %s", ErrDumpToolNotFound, installHint(runtime.GOOS))
}

// StaticLocator always returns Path.
type StaticLocator struct {
	Path string
}

// Locate returns the fixed path.
func (l StaticLocator) Locate() (string, error) {
	if l.Path == "" {
		return "", ErrDumpToolNotFound
	}
	return l.Path, nil
}

func installHint(goos string) string {
	switch goos {
	case "darwin":
		return "install it with 'brew install mysql-client' or set backup.database.dump_binary"
	case "windows":
		return "install MySQL Server or MariaDB and add its bin directory to PATH, or set backup.database.dump_binary"
	default:
		return "install it with 'apt-get install mariadb-client' (Debian/Ubuntu) or 'dnf install mysql' (RHEL/Fedora), or set backup.database.dump_binary"
	}
}
