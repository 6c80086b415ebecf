package export

import "fmt"

// Operations named in export errors.
const (
	OpOpendir   = "opendir"
	OpReaddir   = "readdir"
	OpLstat     = "lstat"
	OpXattr     = "xattr"
	OpReadlink  = "readlink"
	OpOpen      = "open"
	OpRead      = "read"
	OpHeader    = "write header"
	OpWrite     = "write"
	OpLabelFile = "write label"
)

// Error is the first failure of an export. The export stops there.
type Error struct {
	Op   string
	Path string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}
