package serial

import (
	"fmt"

	"github.com/cstech/hexboot/pkg/crc16"
)

// The function code carrying bootloader commands. The channel reuses MODBUS
// framing so the bootloader can share a bus with regular register traffic.
const function = 0x64

// buildFrame assembles a command frame: unit, function, opcode, big-endian
// payload length, payload and the CRC-16/MODBUS trailer low byte first.
func buildFrame(unit, op byte, payload []byte) []byte {
	frame := make([]byte, 0, len(payload)+7)
	frame = append(frame, unit, function, op, byte(len(payload)>>8), byte(len(payload)))
	frame = append(frame, payload...)
	crc := crc16.Checksum(crc16.Seed, frame)
	return append(frame, byte(crc), byte(crc>>8))
}

// frameSize returns the total frame size once the header is buffered, or
// zero while more bytes are needed.
func frameSize(buf []byte) int {
	if len(buf) < 5 {
		return 0
	}
	return 7 + int(buf[3])<<8 + int(buf[4])
}

// parseFrame validates a complete frame against the expected unit and
// opcode echo and returns its payload.
func parseFrame(buf []byte, unit, op byte) ([]byte, error) {
	// check length
	if len(buf) < 7 {
		return nil, fmt.Errorf("short frame")
	}

	// check trailer
	crc := crc16.Checksum(crc16.Seed, buf[:len(buf)-2])
	if buf[len(buf)-2] != byte(crc) || buf[len(buf)-1] != byte(crc>>8) {
		return nil, fmt.Errorf("frame checksum mismatch")
	}

	// check header
	if buf[0] != unit {
		return nil, fmt.Errorf("unexpected unit %d", buf[0])
	}
	if buf[1] != function {
		return nil, fmt.Errorf("unexpected function 0x%02X", buf[1])
	}
	if buf[2] != op {
		return nil, fmt.Errorf("unexpected opcode echo 0x%02X", buf[2])
	}
	if int(buf[3])<<8+int(buf[4]) != len(buf)-7 {
		return nil, fmt.Errorf("payload length mismatch")
	}

	return buf[5 : len(buf)-2], nil
}
