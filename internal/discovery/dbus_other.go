//go:build !linux

package discovery

import "context"

// NewDBusUnitSource is only available on Linux; other platforms must
// use the exec source.
func NewDBusUnitSource(_ context.Context) (UnitSource, error) {
	return nil, &Error{Kind: ErrKindToolFailed, Msg: "the dbus unit source requires Linux"}
}
