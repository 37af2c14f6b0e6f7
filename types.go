package stm8boot

import (
	"fmt"
)

// Bootloader response bytes
const (
	STM8_ACK  byte = 0x79
	STM8_NACK byte = 0x1F
	STM8_BUSY byte = 0xAA
)

const (
	// STM8_CMD_INIT is the synchronization byte that starts a session
	STM8_CMD_INIT byte = 0x7F
	// STM8_ERASE_ALL is the erase page count that selects a full erase
	STM8_ERASE_ALL byte = 0xFF
)

type CommandType byte

// CommandType constants. These are the values documented for the STM8
// ROM bootloader, the values actually used come from the GET command.
const (
	COMMAND_GET          = CommandType(0x00)
	COMMAND_READ_MEMORY  = CommandType(0x11)
	COMMAND_GO           = CommandType(0x21)
	COMMAND_WRITE_MEMORY = CommandType(0x31)
	COMMAND_ERASE        = CommandType(0x43)
)

var cmd2String = map[CommandType]string{
	COMMAND_GET:          "COMMAND_GET",
	COMMAND_READ_MEMORY:  "COMMAND_READ_MEMORY",
	COMMAND_GO:           "COMMAND_GO",
	COMMAND_WRITE_MEMORY: "COMMAND_WRITE_MEMORY",
	COMMAND_ERASE:        "COMMAND_ERASE",
}

func (c CommandType) String() string {
	if str, ok := cmd2String[c]; ok {
		return str
	}
	return fmt.Sprintf("0x%02X", byte(c))
}

// Commands holds the opcodes reported by the bootloader in response to
// the GET command.
type Commands struct {
	Get         CommandType
	ReadMemory  CommandType
	Go          CommandType
	WriteMemory CommandType
	Erase       CommandType
}

func (c Commands) String() string {
	return fmt.Sprintf("get=0x%02X read=0x%02X go=0x%02X write=0x%02X erase=0x%02X",
		byte(c.Get), byte(c.ReadMemory), byte(c.Go), byte(c.WriteMemory), byte(c.Erase))
}

// Response is a single acknowledgment byte received from the device
type Response byte

var resp2String = map[Response]string{
	Response(STM8_ACK):  "ACK",
	Response(STM8_NACK): "NACK",
	Response(STM8_BUSY): "BUSY",
}

func (r Response) String() string {
	if str, ok := resp2String[r]; ok {
		return str
	}
	return fmt.Sprintf("0x%02X", byte(r))
}

const (
	// ReadMaxCount is the largest number of bytes a single read memory
	// command can return
	ReadMaxCount = 256
	// WriteMaxCount is the largest payload of a single write memory command
	WriteMaxCount = 128
	// RoutineAddress is the RAM address the erase/write routines are
	// uploaded to
	RoutineAddress uint32 = 0xA0
)

// State is the lifecycle state of a Session
type State int

const (
	StateDisconnected State = iota
	StateHandshaking
	StateReady
	StateFailed
	StateClosed
)

var state2String = map[State]string{
	StateDisconnected: "DISCONNECTED",
	StateHandshaking:  "HANDSHAKING",
	StateReady:        "READY",
	StateFailed:       "FAILED",
	StateClosed:       "CLOSED",
}

func (s State) String() string {
	if str, ok := state2String[s]; ok {
		return str
	}
	return fmt.Sprintf("State(%d)", int(s))
}
