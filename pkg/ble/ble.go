// Package ble provides a Bluetooth LE command channel for the bootload
// protocol as exposed by CS1814 adapters.
package ble

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/samber/lo"
	"github.com/sirupsen/logrus"
	"tinygo.org/x/bluetooth"

	"github.com/cstech/hexboot/pkg/boot"
)

var adapter = bluetooth.DefaultAdapter

var serviceUUID = lo.Must(bluetooth.ParseUUID("8A97F7C0-8506-11E3-BAA7-0800200C9A66"))
var commandUUID = lo.Must(bluetooth.ParseUUID("8A97F7C1-8506-11E3-BAA7-0800200C9A66"))

func enable() error {
	err := adapter.Enable()
	if err != nil && !strings.Contains(err.Error(), "already calling Enable function") {
		return err
	}
	return nil
}

// Scan reports the name and address of every reachable bootload adapter
// until the context is cancelled.
func Scan(ctx context.Context, cb func(name, addr string)) error {
	// enable adapter
	err := enable()
	if err != nil {
		return err
	}

	// handle cancel
	go func() {
		<-ctx.Done()
		_ = adapter.StopScan()
	}()

	// prepare map
	devices := map[string]bool{}

	// start scanning
	return adapter.Scan(func(adapter *bluetooth.Adapter, result bluetooth.ScanResult) {
		// check service
		if !result.HasServiceUUID(serviceUUID) {
			return
		}

		// check map
		if devices[result.Address.String()] {
			return
		}

		// mark device
		devices[result.Address.String()] = true

		// yield device
		cb(result.LocalName(), result.Address.String())
	})
}

// A Channel is a connected BLE command channel.
type Channel struct {
	device bluetooth.Device
	char   bluetooth.DeviceCharacteristic
	queue  chan []byte
	mutex  sync.Mutex
}

// Connect scans for the named adapter and opens a command channel. An
// empty name matches the first adapter found.
func Connect(ctx context.Context, name string) (*Channel, error) {
	// enable adapter
	err := enable()
	if err != nil {
		return nil, err
	}

	// handle cancel
	go func() {
		<-ctx.Done()
		_ = adapter.StopScan()
	}()

	// scan for device
	var found bluetooth.ScanResult
	var ok bool
	err = adapter.Scan(func(adapter *bluetooth.Adapter, result bluetooth.ScanResult) {
		// check service and name
		if !result.HasServiceUUID(serviceUUID) {
			return
		}
		if name != "" && result.LocalName() != name {
			return
		}

		// grab device
		found = result
		ok = true
		_ = adapter.StopScan()
	})
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("adapter %q not found", name)
	}

	logrus.Debugf("connecting to %s", found.Address.String())

	// connect to device
	device, err := adapter.Connect(found.Address, bluetooth.ConnectionParams{})
	if err != nil {
		return nil, err
	}

	// discover service
	svcs, err := device.DiscoverServices([]bluetooth.UUID{serviceUUID})
	if err != nil {
		return nil, err
	}
	if len(svcs) != 1 {
		return nil, fmt.Errorf("unexpected number of services: %d", len(svcs))
	}

	// discover characteristic
	chars, err := svcs[0].DiscoverCharacteristics([]bluetooth.UUID{commandUUID})
	if err != nil {
		return nil, err
	}
	if len(chars) != 1 {
		return nil, fmt.Errorf("unexpected number of characteristics: %d", len(chars))
	}

	// prepare channel
	ch := &Channel{
		device: device,
		char:   chars[0],
		queue:  make(chan []byte, 16),
	}

	// subscribe to responses
	err = ch.char.EnableNotifications(func(data []byte) {
		select {
		case ch.queue <- append([]byte(nil), data...):
		default:
			// drop if the queue is full
		}
	})
	if err != nil {
		_ = device.Disconnect()
		return nil, err
	}

	return ch, nil
}

// Command implements the boot.Transport interface. Requests carry the
// opcode and payload in a single write, responses echo the opcode in their
// first byte.
func (c *Channel) Command(ctx context.Context, op byte, payload []byte, opts boot.CommandOptions) ([]byte, error) {
	// serialize exchanges
	c.mutex.Lock()
	defer c.mutex.Unlock()

	// default timeout
	timeout := opts.Timeout
	if timeout == 0 {
		timeout = time.Second
	}

	// exchange with bounded retries
	for attempt := 0; attempt <= opts.Retries; attempt++ {
		// drop stale responses
		for {
			select {
			case <-c.queue:
				continue
			default:
			}
			break
		}

		// write request
		_, err := c.char.WriteWithoutResponse(append([]byte{op}, payload...))
		if err != nil {
			return nil, err
		}

		// await response
		select {
		case res := <-c.queue:
			if len(res) < 1 || res[0] != op {
				return nil, fmt.Errorf("unexpected response opcode")
			}
			return res[1:], nil
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(timeout):
			logrus.Debugf("command 0x%02X timed out (attempt %d)", op, attempt+1)
		}
	}

	return nil, boot.ErrTimeout
}

// Close disconnects from the adapter.
func (c *Channel) Close() error {
	return c.device.Disconnect()
}
