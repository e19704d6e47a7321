package memory

import (
	"errors"
	"fmt"

	"github.com/MrEthical07/authcore/storage"
)

var errClosed = errors.New("store closed")

func wrapUnavailable(err error) error {
	return fmt.Errorf("%w: %v", storage.ErrUnavailable, err)
}
