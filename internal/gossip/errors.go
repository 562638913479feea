package gossip

import (
	"fmt"

	"eventmesh/internal/merr"
)

func errConfigf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", merr.ErrConfigInvalid, fmt.Sprintf(format, args...))
}
