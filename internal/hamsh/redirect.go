package hamsh

import (
	"fmt"
	"os"
)

// Redirection modes.
const (
	modeRead   = "r" // <
	modeWrite  = "w" // > and 2>
	modeAppend = "a" // >>
)

// openRedirect opens a redirection target relative to dir.
func openRedirect(dir, name, mode string) (*os.File, error) {
	var flag int
	switch mode {
	case modeRead:
		flag = os.O_RDONLY
	case modeWrite:
		flag = os.O_WRONLY | os.O_CREATE | os.O_TRUNC
	case modeAppend:
		flag = os.O_WRONLY | os.O_CREATE | os.O_APPEND
	default:
		return nil, fmt.Errorf("invalid redirection mode: %s", mode)
	}
	return os.OpenFile(resolvePath(dir, name), flag, 0o644)
}
