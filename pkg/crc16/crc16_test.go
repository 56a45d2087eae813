package crc16

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestChecksum(t *testing.T) {
	// CRC-16/MODBUS check value
	assert.Equal(t, uint16(0x4B37), Checksum(Seed, []byte("123456789")))

	// empty input keeps the seed
	assert.Equal(t, Seed, Checksum(Seed, nil))

	// zero seed and zero data stay zero
	assert.Equal(t, uint16(0), Checksum(0, []byte{0, 0, 0, 0}))
}

func TestUpdate(t *testing.T) {
	// incremental updates match the one-shot checksum
	data := []byte{0xF0, 0x00, 0x42, 0xFF, 0x13, 0x37}
	crc := Seed
	for _, b := range data {
		crc = Update(crc, b)
	}
	assert.Equal(t, Checksum(Seed, data), crc)
}

func TestChecksumDistinguishes(t *testing.T) {
	// a single bit flip changes the checksum
	a := Checksum(Seed, []byte{0x01, 0x02, 0x03})
	b := Checksum(Seed, []byte{0x01, 0x02, 0x02})
	assert.NotEqual(t, a, b)
}
