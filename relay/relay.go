// Package relay switches the mains outlets the bus cannot control.
package relay

import (
	"errors"
	"fmt"
)

const (
	LightOutlet = 1
	AVROutlet   = 2
	MaxOutlet   = 4
)

var ErrNoReply = errors.New("relay did not answer")

// Controller reads and switches numbered outlets.
type Controller interface {
	Status(outlet int) (bool, error)
	Set(outlet int, on bool) error
}

func checkOutlet(outlet int) error {
	if outlet < 1 || outlet > MaxOutlet {
		return fmt.Errorf("outlet %d out of range 1..%d", outlet, MaxOutlet)
	}
	return nil
}
