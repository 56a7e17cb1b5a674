package fleet

import (
	"errors"

	"wgfleet"
)

func isConflict(err error) bool {
	return errors.Is(err, wgfleet.ErrConflict)
}
