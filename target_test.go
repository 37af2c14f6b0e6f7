package stm8boot

import (
	"io"
	"sync"
)

// fakeTarget simulates an STM8 ROM bootloader in reply mode. Every byte
// it sends must come back as an echo before the host may send anything
// else, and every frame checksum is validated.
type fakeTarget struct {
	in  chan byte
	out chan byte

	version   byte
	extra     []byte
	cmds      Commands
	noInit    bool
	busy      int
	nackWrite bool
	nackRead  map[uint32]bool
	// corrupt makes the next n writes at an address store a flipped
	// first byte
	corrupt map[uint32]int

	mu         sync.Mutex
	mem        []byte
	writes     []uint32
	reads      []uint32
	erasePages []byte
	eraseCS    byte
	eraseAll   int
	goAddr     []uint32
	badEchoes  int
	badFrames  int
	written    int
}

func newFakeTarget(version byte) *fakeTarget {
	t := &fakeTarget{
		in:      make(chan byte, 1<<16),
		out:     make(chan byte, 1<<16),
		version: version,
		cmds: Commands{
			Get:         COMMAND_GET,
			ReadMemory:  COMMAND_READ_MEMORY,
			Go:          COMMAND_GO,
			WriteMemory: COMMAND_WRITE_MEMORY,
			Erase:       COMMAND_ERASE,
		},
		nackRead: map[uint32]bool{},
		corrupt:  map[uint32]int{},
		mem:      make([]byte, 0x28000),
	}
	// flash content left over from a previous program
	for i := 0x8000; i < len(t.mem); i++ {
		t.mem[i] = 0x5A
	}
	return t
}

func (t *fakeTarget) start() {
	go t.serve()
}

func (t *fakeTarget) stop() {
	close(t.in)
}

func (t *fakeTarget) Write(p []byte) (int, error) {
	t.mu.Lock()
	t.written += len(p)
	t.mu.Unlock()
	for _, b := range p {
		t.in <- b
	}
	return len(p), nil
}

func (t *fakeTarget) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	b, ok := <-t.out
	if !ok {
		return 0, io.EOF
	}
	p[0] = b
	return 1, nil
}

func (t *fakeTarget) bytesWritten() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.written
}

type stopped struct{}

func (t *fakeTarget) recv() byte {
	b, ok := <-t.in
	if !ok {
		panic(stopped{})
	}
	return b
}

// reply sends b and consumes its echo.
func (t *fakeTarget) reply(b ...byte) {
	for _, v := range b {
		t.out <- v
		if e := t.recv(); e != v {
			t.mu.Lock()
			t.badEchoes++
			t.mu.Unlock()
		}
	}
}

func (t *fakeTarget) nack() {
	t.mu.Lock()
	t.badFrames++
	t.mu.Unlock()
	t.reply(STM8_NACK)
}

func (t *fakeTarget) recvAddress() (uint32, bool) {
	var a uint32
	var cs byte
	for i := 0; i < 4; i++ {
		b := t.recv()
		a = a<<8 | uint32(b)
		cs ^= b
	}
	return a, t.recv() == cs
}

func (t *fakeTarget) waitBusy() {
	for i := 0; i < t.busy; i++ {
		t.reply(STM8_BUSY)
	}
}

func (t *fakeTarget) serve() {
	defer func() {
		if r := recover(); r != nil {
			if _, ok := r.(stopped); !ok {
				panic(r)
			}
		}
	}()

	synced := t.noInit
	for {
		c := t.recv()
		if !synced {
			if c == STM8_CMD_INIT {
				synced = true
				t.reply(STM8_ACK)
			}
			continue
		}
		if t.recv() != c^0xFF {
			t.nack()
			continue
		}
		switch CommandType(c) {
		case t.cmds.Get:
			t.reply(STM8_ACK)
			t.reply(byte(5 + len(t.extra)))
			t.reply(t.version, byte(t.cmds.Get), byte(t.cmds.ReadMemory), byte(t.cmds.Go), byte(t.cmds.WriteMemory), byte(t.cmds.Erase))
			t.reply(t.extra...)
			t.reply(STM8_ACK)
		case t.cmds.ReadMemory:
			t.reply(STM8_ACK)
			addr, ok := t.recvAddress()
			if !ok || t.nackRead[addr] {
				t.nack()
				continue
			}
			t.reply(STM8_ACK)
			n := t.recv()
			if t.recv() != n^0xFF {
				t.nack()
				continue
			}
			t.reply(STM8_ACK)
			t.mu.Lock()
			t.reads = append(t.reads, addr)
			data := append([]byte(nil), t.mem[addr:addr+uint32(n)+1]...)
			t.mu.Unlock()
			t.reply(data...)
		case t.cmds.WriteMemory:
			t.reply(STM8_ACK)
			addr, ok := t.recvAddress()
			if !ok || t.nackWrite {
				t.nack()
				continue
			}
			t.waitBusy()
			t.reply(STM8_ACK)
			n := t.recv()
			cs := n
			data := make([]byte, int(n)+1)
			for i := range data {
				data[i] = t.recv()
				cs ^= data[i]
			}
			if t.recv() != cs {
				t.nack()
				continue
			}
			t.mu.Lock()
			if t.corrupt[addr] > 0 {
				t.corrupt[addr]--
				data[0] ^= 0xFF
			}
			copy(t.mem[addr:], data)
			t.writes = append(t.writes, addr)
			t.mu.Unlock()
			t.waitBusy()
			t.reply(STM8_ACK)
		case t.cmds.Erase:
			t.reply(STM8_ACK)
			n := t.recv()
			if n == STM8_ERASE_ALL {
				if t.recv() != 0x00 {
					t.nack()
					continue
				}
				t.mu.Lock()
				t.eraseAll++
				for i := 0x8000; i < len(t.mem); i++ {
					t.mem[i] = 0
				}
				t.mu.Unlock()
				t.reply(STM8_ACK)
				continue
			}
			cs := n
			pages := make([]byte, int(n)+1)
			for i := range pages {
				pages[i] = t.recv()
				cs ^= pages[i]
			}
			got := t.recv()
			t.mu.Lock()
			t.erasePages = pages
			t.eraseCS = got
			t.mu.Unlock()
			if got != cs {
				t.nack()
				continue
			}
			t.mu.Lock()
			for _, pg := range pages {
				start := 0x8000 + int(pg)*512
				for i := start; i < start+512; i++ {
					t.mem[i] = 0
				}
			}
			t.mu.Unlock()
			t.waitBusy()
			t.reply(STM8_ACK)
		case t.cmds.Go:
			t.reply(STM8_ACK)
			addr, ok := t.recvAddress()
			if !ok {
				t.nack()
				continue
			}
			t.mu.Lock()
			t.goAddr = append(t.goAddr, addr)
			t.mu.Unlock()
			t.reply(STM8_ACK)
		default:
			t.nack()
		}
	}
}
