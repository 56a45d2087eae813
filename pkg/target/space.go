// Package target describes bootloadable products and their memory spaces.
// A space bundles the block geometry, address transforms and checksum
// behavior of one addressable region, while a config groups the spaces of a
// product together with its protocol timeouts.
package target

import (
	"fmt"
	"time"

	"github.com/cstech/hexboot/pkg/hexfile"
)

// AnyProduct matches every product code during the enquire handshake.
const AnyProduct = -1

// A SendFilter packs one parsed block into the on-wire DATA payload,
// including the leading big-endian address.
type SendFilter func(index uint32, block []byte, addressing int, offset int64) []byte

// A ChecksumFunc computes the image checksum over the hex file address
// range [start, end).
type ChecksumFunc func(start, end int64, blockSize int, blocks *hexfile.BlockStore) uint16

// An EmptyCheck reports whether a block carries no data.
type EmptyCheck func(block []byte) bool

// A LoadFilter mutates the block store once after parsing and before the
// checksum is computed.
type LoadFilter func(blocks *hexfile.BlockStore, space *Space)

// An ExcludeRange names a block range the device refuses to program.
type ExcludeRange struct {
	Name    string
	Start   uint32
	End     uint32
	Exclude bool
}

// Timeouts holds the per-phase response timeouts.
type Timeouts struct {
	Enquire time.Duration
	Select  time.Duration
	Erase   time.Duration
	Data    time.Duration
	Verify  time.Duration
	Finish  time.Duration
}

// Merged returns the timeouts with zero phases replaced from the provided
// defaults.
func (t Timeouts) Merged(d Timeouts) Timeouts {
	if t.Enquire == 0 {
		t.Enquire = d.Enquire
	}
	if t.Select == 0 {
		t.Select = d.Select
	}
	if t.Erase == 0 {
		t.Erase = d.Erase
	}
	if t.Data == 0 {
		t.Data = d.Data
	}
	if t.Verify == 0 {
		t.Verify = d.Verify
	}
	if t.Finish == 0 {
		t.Finish = d.Finish
	}
	return t
}

// DefaultTimeouts are used where a profile leaves a phase unset.
var DefaultTimeouts = Timeouts{
	Enquire: 500 * time.Millisecond,
	Select:  2 * time.Second,
	Erase:   30 * time.Second,
	Data:    2 * time.Second,
	Verify:  15 * time.Second,
	Finish:  2 * time.Second,
}

// Retries holds the retry counts of the retriable phases.
type Retries struct {
	Enquire int
	Data    int
}

// A Space describes one addressable memory region on a target.
type Space struct {
	Name        string
	HexBlock    int
	SendBlock   int
	Addressing  int
	DataOffset  int64
	SkipEmpty   bool
	SelectDelay time.Duration
	SendFilter  SendFilter
	Checksum    ChecksumFunc
	EmptyCheck  EmptyCheck
	LoadFilter  LoadFilter
	Excludes    []ExcludeRange
	Timeouts    Timeouts
}

// A Config describes a bootloadable product.
type Config struct {
	Name             string
	ProductCode      int
	ProductType      byte
	SupportsPassthru bool
	Timeouts         Timeouts
	Retries          Retries
	Spaces           []Space
}

// Space returns the space at the given index.
func (c *Config) Space(index int) (*Space, error) {
	if index < 0 || index >= len(c.Spaces) {
		return nil, fmt.Errorf("target %q has no space %d", c.Name, index)
	}
	return &c.Spaces[index], nil
}

// SpaceTimeouts resolves the effective timeouts for a space by layering its
// overrides on the target defaults and the package defaults.
func (c *Config) SpaceTimeouts(space *Space) Timeouts {
	return space.Timeouts.Merged(c.Timeouts).Merged(DefaultTimeouts)
}
