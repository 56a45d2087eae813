// Package serial provides a MODBUS style serial command master for the
// bootload protocol.
package serial

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"go.bug.st/serial"

	"github.com/cstech/hexboot/pkg/boot"
)

// The granularity of the blocking port reads. Short slices keep the master
// responsive to cancellation while a response is pending.
const readSlice = 50 * time.Millisecond

// ListPorts returns the available serial port paths.
func ListPorts() ([]string, error) {
	// get port list
	ports, err := serial.GetPortsList()
	if err != nil {
		return nil, err
	}

	// sort ports
	sort.Strings(ports)

	return ports, nil
}

// A Master holds a serial port for exclusive command/response use.
type Master struct {
	path  string
	port  serial.Port
	mutex sync.Mutex
}

// Open opens the serial port at the given path. A zero baud rate selects
// 115200.
func Open(path string, baudRate int) (*Master, error) {
	// default baud rate
	if baudRate == 0 {
		baudRate = 115200
	}

	// open port
	port, err := serial.Open(path, &serial.Mode{
		BaudRate: baudRate,
	})
	if err != nil {
		return nil, err
	}

	logrus.Debugf("opened port %s at %d", path, baudRate)

	return &Master{
		path: path,
		port: port,
	}, nil
}

// Command implements the boot.Transport interface.
func (m *Master) Command(ctx context.Context, op byte, payload []byte, opts boot.CommandOptions) ([]byte, error) {
	// serialize exchanges
	m.mutex.Lock()
	defer m.mutex.Unlock()

	// default timeout
	timeout := opts.Timeout
	if timeout == 0 {
		timeout = time.Second
	}

	// build frame
	frame := buildFrame(opts.Unit, op, payload)

	// exchange with bounded retries
	var lastErr error
	for attempt := 0; attempt <= opts.Retries; attempt++ {
		// check cancellation
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		// attempt exchange
		res, err := m.exchange(ctx, frame, opts.Unit, op, timeout)
		if err == nil {
			return res, nil
		}
		if !errors.Is(err, boot.ErrTimeout) {
			return nil, err
		}
		lastErr = err

		logrus.Debugf("command 0x%02X timed out on %s (attempt %d)", op, m.path, attempt+1)
	}

	return nil, lastErr
}

func (m *Master) exchange(ctx context.Context, frame []byte, unit, op byte, timeout time.Duration) ([]byte, error) {
	// drop stale input
	err := m.port.ResetInputBuffer()
	if err != nil {
		return nil, err
	}

	// write frame
	_, err = m.port.Write(frame)
	if err != nil {
		return nil, err
	}

	// read in short slices until the frame is complete
	err = m.port.SetReadTimeout(readSlice)
	if err != nil {
		return nil, err
	}
	deadline := time.Now().Add(timeout)
	var buf []byte
	chunk := make([]byte, 512)
	for {
		// check cancellation and deadline
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if time.Now().After(deadline) {
			return nil, boot.ErrTimeout
		}

		// read chunk
		n, err := m.port.Read(chunk)
		if err != nil {
			return nil, err
		}
		buf = append(buf, chunk[:n]...)

		// wait for a complete frame
		size := frameSize(buf)
		if size == 0 || len(buf) < size {
			continue
		}

		return parseFrame(buf[:size], unit, op)
	}
}

// Close releases the serial port.
func (m *Master) Close() error {
	return m.port.Close()
}
