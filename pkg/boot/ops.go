package boot

import (
	"context"
	"errors"
	"fmt"
)

// PassthruOn asks a pass-through capable adapter to forward all following
// commands to the attached device.
func PassthruOn(ctx context.Context, transport Transport, opts CommandOptions) error {
	_, err := transport.Command(ctx, OpPassthruOn, nil, opts)
	return err
}

// PassthruOff disables command forwarding on a pass-through adapter.
func PassthruOff(ctx context.Context, transport Transport, opts CommandOptions) error {
	_, err := transport.Command(ctx, OpPassthruOff, nil, opts)
	return err
}

// Reset asks the device to restart. The device drops the link instead of
// answering, so a missing response is not an error.
func Reset(ctx context.Context, transport Transport, opts CommandOptions) error {
	_, err := transport.Command(ctx, OpReset, nil, opts)
	if errors.Is(err, ErrTimeout) {
		return nil
	}
	return err
}

// EraseAll asks the device to erase the entire selected space including
// regions the regular erase leaves alone.
func EraseAll(ctx context.Context, transport Transport, opts CommandOptions) error {
	res, err := transport.Command(ctx, OpEraseAll, nil, opts)
	if err != nil {
		return err
	}
	if len(res) < 1 || res[0] != Ack {
		return fmt.Errorf("erase all rejected by device")
	}
	return nil
}
