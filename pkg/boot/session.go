package boot

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/cstech/hexboot/pkg/hexfile"
	"github.com/cstech/hexboot/pkg/target"
	"github.com/cstech/hexboot/pkg/utils"
)

// Bootloaders at or above this version echo the block address in every
// DATA acknowledgement.
const seqCheckVersion = 0x0401

// State enumerates the phases of a bootload session.
type State int

// The session states.
const (
	StateInit State = iota
	StateConnecting
	StateConnected
	StateSelecting
	StateSelected
	StateImporting
	StateErasing
	StateSending
	StateVerifying
	StateFinishing
	StateDone
	StateFailed
	StateAborted
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateInit:
		return "init"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateSelecting:
		return "selecting"
	case StateSelected:
		return "selected"
	case StateImporting:
		return "importing"
	case StateErasing:
		return "erasing"
	case StateSending:
		return "sending"
	case StateVerifying:
		return "verifying"
	case StateFinishing:
		return "finishing"
	case StateDone:
		return "done"
	case StateFailed:
		return "failed"
	case StateAborted:
		return "aborted"
	}
	return "unknown"
}

// A Session drives one bootload run against a transport. A session is good
// for exactly one Load call.
type Session struct {
	transport  Transport
	config     *target.Config
	space      *target.Space
	spaceIndex int
	timeouts   target.Timeouts
	sink       Sink
	unit       byte

	mutex      sync.Mutex
	state      State
	aborting   bool
	abortedCh  chan struct{}
	cancels    map[int]context.CancelFunc
	nextCancel int

	version     uint16
	maxBuffer   int
	blockSize   uint16
	appStart    int64
	appEnd      int64
	crc         uint16
	flashBlocks [][]byte
	total       int
	completed   int
}

// NewSession creates a session for the given transport, target config and
// space index. A nil sink discards all events.
func NewSession(transport Transport, config *target.Config, spaceIndex int, sink Sink) (*Session, error) {
	// resolve space
	space, err := config.Space(spaceIndex)
	if err != nil {
		return nil, err
	}

	// default sink
	if sink == nil {
		sink = NopSink{}
	}

	return &Session{
		transport:  transport,
		config:     config,
		space:      space,
		spaceIndex: spaceIndex,
		timeouts:   config.SpaceTimeouts(space),
		sink:       sink,
		abortedCh:  make(chan struct{}),
		cancels:    map[int]context.CancelFunc{},
	}, nil
}

// SetUnit sets the transport unit address used for all commands.
func (s *Session) SetUnit(unit byte) {
	s.unit = unit
}

// State returns the current session state.
func (s *Session) State() State {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	return s.state
}

// Progress returns the percentage of transmitted blocks.
func (s *Session) Progress() float64 {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.total == 0 {
		return 0
	}

	return 100 * float64(s.completed) / float64(s.total)
}

// Version returns the bootloader version reported by the device.
func (s *Session) Version() (byte, byte) {
	return byte(s.version >> 8), byte(s.version)
}

// Checksum returns the locally computed image checksum.
func (s *Session) Checksum() uint16 {
	return s.crc
}

// MaxBuffer returns the device buffer size reported during the enquire
// handshake, or zero if the device did not report one.
func (s *Session) MaxBuffer() int {
	return s.maxBuffer
}

// Load runs the full bootload sequence with the provided image.
func (s *Session) Load(ctx context.Context, image io.Reader) error {
	// claim session
	s.mutex.Lock()
	if s.state != StateInit {
		s.mutex.Unlock()
		return ErrBusy
	}
	s.state = StateConnecting
	s.mutex.Unlock()

	// run sequence
	err := s.run(ctx, image)
	if err != nil {
		// cancel leftovers, this also emits the aborted status once
		aborted := errors.Is(err, ErrAborted)
		s.abort()

		// flag outcome
		s.mutex.Lock()
		if aborted {
			s.state = StateAborted
		} else {
			s.state = StateFailed
		}
		s.mutex.Unlock()

		return err
	}

	return nil
}

// LoadFile runs the full bootload sequence with the image at the given
// path.
func (s *Session) LoadFile(ctx context.Context, path string) error {
	// open file
	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer file.Close()

	return s.Load(ctx, file)
}

// Abort cancels a running session. It is safe to call from any goroutine
// and has no effect before the session started or after it ended.
func (s *Session) Abort() {
	// check state
	s.mutex.Lock()
	state := s.state
	s.mutex.Unlock()
	if state == StateInit || state == StateDone || state == StateFailed || state == StateAborted {
		return
	}

	s.abort()
}

func (s *Session) abort() {
	// flag and collect pending transactions once
	s.mutex.Lock()
	if s.aborting {
		s.mutex.Unlock()
		return
	}
	s.aborting = true
	close(s.abortedCh)
	cancels := s.cancels
	s.cancels = map[int]context.CancelFunc{}
	s.mutex.Unlock()

	// cancel pending transactions
	for _, cancel := range cancels {
		cancel()
	}

	// emit status
	s.sink.Status("Aborted")
}

func (s *Session) run(ctx context.Context, image io.Reader) error {
	// connect
	err := s.connect(ctx)
	if err != nil {
		return err
	}

	// select space
	err = s.selectSpace(ctx)
	if err != nil {
		return err
	}

	// import image
	err = s.importImage(image)
	if err != nil {
		return err
	}

	// erase
	err = s.erase(ctx)
	if err != nil {
		return err
	}

	// send blocks
	err = s.send(ctx)
	if err != nil {
		return err
	}

	// verify
	err = s.verify(ctx)
	if err != nil {
		return err
	}

	// finish
	return s.finish(ctx)
}

// command issues a single command through the transport, tracking the
// transaction so an abort can cancel it.
func (s *Session) command(ctx context.Context, op byte, payload []byte, timeout time.Duration) ([]byte, error) {
	// reject after abort
	s.mutex.Lock()
	if s.aborting {
		s.mutex.Unlock()
		return nil, ErrAborted
	}

	// register transaction
	cctx, cancel := context.WithCancel(ctx)
	id := s.nextCancel
	s.nextCancel++
	s.cancels[id] = cancel
	s.mutex.Unlock()

	// deregister on return
	defer func() {
		s.mutex.Lock()
		delete(s.cancels, id)
		s.mutex.Unlock()
		cancel()
	}()

	// issue command
	res, err := s.transport.Command(cctx, op, payload, CommandOptions{
		Unit:    s.unit,
		Timeout: timeout,
	})
	if err != nil {
		// map cancellation during abort
		if s.isAborting() && (errors.Is(err, context.Canceled) || cctx.Err() != nil) {
			return nil, ErrAborted
		}
		return nil, err
	}

	return res, nil
}

func (s *Session) isAborting() bool {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	return s.aborting
}

func (s *Session) setState(state State) {
	s.mutex.Lock()
	s.state = state
	s.mutex.Unlock()
}

func (s *Session) connect(ctx context.Context) error {
	// announce phase
	s.setState(StateConnecting)
	s.sink.Status("Checking Communication")

	// enquire with retries
	var res []byte
	var err error
	for attempt := 0; attempt <= s.config.Retries.Enquire; attempt++ {
		res, err = s.command(ctx, OpEnquire, nil, s.timeouts.Enquire)
		if err == nil || !errors.Is(err, ErrTimeout) {
			break
		}
		logrus.Debugf("enquire attempt %d timed out", attempt+1)
	}
	if errors.Is(err, ErrTimeout) {
		return ErrNoResponse
	} else if err != nil {
		return err
	}

	// a short reply is fatal, the device answers but does not speak the
	// expected protocol
	if len(res) < 4 {
		return ErrInvalidEnqResponse
	}

	// check product code
	if s.config.ProductCode != target.AnyProduct && int(res[0]) != s.config.ProductCode {
		return fmt.Errorf("%w: 0x%02X", ErrWrongProduct, res[0])
	}

	// check version
	major, minor := res[1], res[2]
	if major < 2 || major > 4 {
		return &UnsupportedVersionError{Major: major, Minor: minor}
	}
	s.version = uint16(major)<<8 | uint16(minor)

	// check space count
	if int(res[3]) < s.spaceIndex+1 {
		return ErrUnsupportedDevice
	}

	// record buffer size if reported
	if len(res) >= 6 {
		s.maxBuffer = int(res[4])*256 + int(res[5])
	}

	// announce connection
	s.setState(StateConnected)
	s.sink.Status("Connected")

	return nil
}

func (s *Session) selectSpace(ctx context.Context) error {
	// let the device settle after connecting
	if s.space.SelectDelay > 0 {
		select {
		case <-time.After(s.space.SelectDelay):
		case <-s.abortedCh:
			return ErrAborted
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	// announce phase
	s.setState(StateSelecting)
	s.sink.Status("Selecting Memory")

	// select space
	res, err := s.command(ctx, OpSelect, []byte{byte(s.spaceIndex)}, s.timeouts.Select)
	if err != nil {
		return err
	}
	if len(res) < 6 {
		return ErrInvalidSelectResponse
	}

	// read geometry
	s.blockSize = binary.BigEndian.Uint16(res[0:2])
	if s.version >= 0x0400 {
		// v4 reports start and end block numbers
		s.appStart = int64(binary.BigEndian.Uint16(res[2:4])) * int64(s.blockSize)
		s.appEnd = int64(binary.BigEndian.Uint16(res[4:6])) * int64(s.blockSize)
	} else {
		// v2 and v3 report absolute addresses
		if len(res) < 10 {
			return ErrInvalidSelectResponse
		}
		s.appStart = int64(binary.BigEndian.Uint32(res[2:6]))
		s.appEnd = int64(binary.BigEndian.Uint32(res[6:10]))
	}

	// announce geometry
	s.sink.Status(fmt.Sprintf("Min Block Size: %d", s.blockSize))
	s.sink.Status(fmt.Sprintf("App Start: 0x%X", s.appStart))
	s.sink.Status(fmt.Sprintf("App End: 0x%X", s.appEnd))

	s.setState(StateSelected)

	return nil
}

func (s *Session) importImage(image io.Reader) error {
	// announce phase
	s.setState(StateImporting)
	s.sink.Status("Loading File")

	// parse image
	blocks, err := hexfile.Parse(image, s.space.HexBlock)
	if err != nil {
		return err
	}

	// run post-parse filter
	if s.space.LoadFilter != nil {
		s.space.LoadFilter(blocks, s.space)
	}

	// the checksum must cover empty blocks that are never transmitted, so
	// it is computed before the send filter pass
	s.crc = s.space.Checksum(s.appStart-s.space.DataOffset, s.appEnd-s.space.DataOffset, s.space.HexBlock, blocks)

	// pre-filter the on-wire payloads in block order
	span := int64(s.space.HexBlock / s.space.Addressing)
	for _, index := range blocks.Indexes() {
		block := blocks.Get(index)

		// skip blocks outside the application range
		addr := target.BlockAddress(index, s.space.HexBlock, s.space.Addressing, s.space.DataOffset)
		if addr < s.appStart || addr+span-1 > s.appEnd {
			logrus.Debugf("skipping out of range block %d at 0x%X", index, addr)
			continue
		}

		// skip empty blocks
		if s.space.SkipEmpty && s.space.EmptyCheck(block) {
			continue
		}

		// pack payload
		s.flashBlocks = append(s.flashBlocks, s.space.SendFilter(index, block, s.space.Addressing, s.space.DataOffset))
	}

	// track totals
	s.mutex.Lock()
	s.total = len(s.flashBlocks)
	s.mutex.Unlock()

	logrus.Debugf("imported %d blocks, checksum 0x%04X", s.total, s.crc)

	return nil
}

func (s *Session) erase(ctx context.Context) error {
	// announce phase
	s.setState(StateErasing)
	s.sink.Status("Erasing")

	// erase space
	start := time.Now()
	res, err := s.command(ctx, OpErase, nil, s.timeouts.Erase)
	if err != nil {
		return err
	}
	if len(res) < 1 || res[0] != Ack {
		return ErrEraseRejected
	}

	// announce completion
	s.sink.Status(fmt.Sprintf("Erase Complete (%s)", utils.Seconds(time.Since(start))))

	return nil
}

func (s *Session) send(ctx context.Context) error {
	// announce phase
	s.setState(StateSending)
	s.sink.Status("Sending...")

	// transmit blocks in order, one at a time
	start := time.Now()
	for i, payload := range s.flashBlocks {
		// send block with bounded retries
		var res []byte
		var err error
		for attempt := 0; ; attempt++ {
			res, err = s.command(ctx, OpData, payload, s.timeouts.Data)
			if err == nil && len(res) >= 1 && res[0] == Ack {
				break
			}
			if err != nil && !errors.Is(err, ErrTimeout) {
				return err
			}
			if attempt >= s.config.Retries.Data {
				if err != nil {
					return fmt.Errorf("block %d: %w", i, err)
				}
				code := byte(Nack)
				if len(res) > 0 {
					code = res[0]
				}
				return fmt.Errorf("block %d: %w", i, &DataResponseError{Code: code})
			}
			logrus.Debugf("retrying block %d", i)
		}

		// newer bootloaders echo the block address, a mismatch means the
		// device lost a block and retrying would corrupt the image
		if s.version >= seqCheckVersion {
			if len(res) < 5 || !bytes.Equal(res[3:5], payload[2:4]) {
				return ErrBlockOutOfSequence
			}
		}

		// track progress
		s.mutex.Lock()
		s.completed = i + 1
		s.mutex.Unlock()

		// emit progress
		s.sink.Progress(100 * float64(i+1) / float64(s.total))
	}

	// announce completion
	s.sink.Status(fmt.Sprintf("Programming Complete (%s)", utils.Seconds(time.Since(start))))

	return nil
}

func (s *Session) verify(ctx context.Context) error {
	// announce phase
	s.setState(StateVerifying)
	s.sink.Status("Validating..")

	// request device checksum
	start := time.Now()
	res, err := s.command(ctx, OpVerify, nil, s.timeouts.Verify)
	if err != nil {
		return err
	}
	if len(res) < 2 {
		return fmt.Errorf("short verify response")
	}

	// compare checksums
	device := uint16(res[0])<<8 | uint16(res[1])
	if device != s.crc {
		return &ChecksumMismatchError{Expected: s.crc, Got: device}
	}

	// announce checksum
	s.sink.Status(fmt.Sprintf("Checksum: 0x%04X (%s)", device, utils.Seconds(time.Since(start))))

	return nil
}

func (s *Session) finish(ctx context.Context) error {
	// announce phase
	s.setState(StateFinishing)

	// finish session
	res, err := s.command(ctx, OpFinish, nil, s.timeouts.Finish)
	if err != nil {
		return err
	}
	if len(res) < 1 || res[0] != Ack {
		return ErrFinishFailed
	}

	s.setState(StateDone)

	return nil
}
