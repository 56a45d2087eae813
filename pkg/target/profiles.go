package target

import (
	"fmt"
	"sort"
	"time"

	"github.com/samber/lo"
)

// AppSpace returns a plain PIC18 application flash space.
func AppSpace() Space {
	return Space{
		Name:       "application",
		HexBlock:   64,
		SendBlock:  64,
		Addressing: 1,
		SkipEmpty:  true,
		SendFilter: SimpleSendFilter,
		Checksum:   FillChecksum,
		EmptyCheck: SimpleEmpty,
	}
}

// PIC24AppSpace returns a PIC24 application flash space. Hex files carry
// four bytes per instruction word of which three are programmed, so 256
// parsed bytes shrink to 192 on the wire.
func PIC24AppSpace() Space {
	return Space{
		Name:       "application",
		HexBlock:   256,
		SendBlock:  192,
		Addressing: 2,
		SkipEmpty:  true,
		SendFilter: HMISendFilter,
		Checksum:   FillChecksum,
		EmptyCheck: PIC24Empty,
	}
}

// PIC18EEPROMSpace returns a PIC18 EEPROM space. Hex files place the EEPROM
// at 0xF00000 while the device addresses it from zero.
func PIC18EEPROMSpace() Space {
	return Space{
		Name:       "eeprom",
		HexBlock:   64,
		SendBlock:  64,
		Addressing: 1,
		DataOffset: -0xF00000,
		SendFilter: SimpleSendFilter,
		Checksum:   FillChecksum,
		EmptyCheck: SimpleEmpty,
	}
}

// W25FlashSpace returns an external W25 SPI flash space. The first blocks
// hold factory data the bootloader refuses to program.
func W25FlashSpace() Space {
	return Space{
		Name:       "external",
		HexBlock:   256,
		SendBlock:  256,
		Addressing: 1,
		SkipEmpty:  true,
		SendFilter: SimpleSendFilter,
		Checksum:   FillChecksum,
		EmptyCheck: SimpleEmpty,
		LoadFilter: ExcludeFilter,
		Excludes: []ExcludeRange{
			{Name: "factory", Start: 0, End: 15, Exclude: true},
		},
		Timeouts: Timeouts{
			Erase: 90 * time.Second,
		},
	}
}

// PIC16TinySpace returns a PIC16 tiny bootloader space. The resident
// bootloader checksums only programmed cells.
func PIC16TinySpace() Space {
	return Space{
		Name:       "application",
		HexBlock:   64,
		SendBlock:  64,
		Addressing: 1,
		SkipEmpty:  true,
		SendFilter: SimpleSendFilter,
		Checksum:   NoFillChecksum,
		EmptyCheck: SimpleEmpty,
	}
}

// HMIAppSpace returns the CS1435 HMI application space. Images are balanced
// offline so the device computes a zero checksum over the whole space, and
// the panel needs a moment after connecting before it accepts a select.
func HMIAppSpace() Space {
	space := PIC24AppSpace()
	space.Checksum = ZeroChecksum
	space.SelectDelay = 1500 * time.Millisecond
	return space
}

// PIC18Controller returns the generic PIC18 controller profile.
func PIC18Controller() *Config {
	return &Config{
		Name:        "pic18",
		ProductCode: AnyProduct,
		ProductType: 0x10,
		Retries:     Retries{Enquire: 2, Data: 2},
		Spaces:      []Space{AppSpace(), PIC18EEPROMSpace()},
	}
}

// CS1451 returns the CS1451 controller profile.
func CS1451() *Config {
	return &Config{
		Name:        "cs1451",
		ProductCode: 0x51,
		ProductType: 0x10,
		Retries:     Retries{Enquire: 2, Data: 2},
		Spaces:      []Space{AppSpace(), PIC18EEPROMSpace()},
	}
}

// CS1814 returns the CS1814 Bluetooth adapter profile. The adapter can pass
// commands through to an attached controller.
func CS1814() *Config {
	return &Config{
		Name:             "cs1814",
		ProductCode:      0x14,
		ProductType:      0x20,
		SupportsPassthru: true,
		Retries:          Retries{Enquire: 4, Data: 2},
		Timeouts: Timeouts{
			Enquire: time.Second,
		},
		Spaces: []Space{AppSpace()},
	}
}

// CS1435 returns the CS1435 HMI panel profile.
func CS1435() *Config {
	return &Config{
		Name:        "cs1435",
		ProductCode: 0x35,
		ProductType: 0x30,
		Retries:     Retries{Enquire: 2, Data: 2},
		Spaces:      []Space{HMIAppSpace(), W25FlashSpace()},
	}
}

// PIC16Tiny returns the PIC16 tiny bootloader profile.
func PIC16Tiny() *Config {
	return &Config{
		Name:        "pic16-tiny",
		ProductCode: AnyProduct,
		ProductType: 0x11,
		Retries:     Retries{Enquire: 2, Data: 2},
		Spaces:      []Space{PIC16TinySpace()},
	}
}

var profiles = map[string]func() *Config{
	"pic18":      PIC18Controller,
	"cs1451":     CS1451,
	"cs1814":     CS1814,
	"cs1435":     CS1435,
	"pic16-tiny": PIC16Tiny,
}

// ProfileNames returns the names of all built-in profiles.
func ProfileNames() []string {
	names := lo.Keys(profiles)
	sort.Strings(names)
	return names
}

// Profile returns a fresh copy of the named built-in profile.
func Profile(name string) (*Config, error) {
	constructor, ok := profiles[name]
	if !ok {
		return nil, fmt.Errorf("unknown target profile %q", name)
	}
	return constructor(), nil
}
