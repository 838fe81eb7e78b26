package evtlog

import "fmt"

// Store is the non-volatile backing store Flush persists into: a flat,
// byte-addressed region at least maxUsable bytes long. hostsim provides a
// plain-file implementation for development and tests; the tamago build
// backs it with a window of the i.MX6UL's on-chip RAM (hw.Store).
type Store interface {
	ReadAt(offset int, buf []byte) error
	WriteAt(offset int, data []byte) error
}

// Persisted log layout (§6 "Persisted log layout"), all offsets fixed by
// the specification.
const (
	offsetWarmFlag  = 0x00
	offsetLastAID   = 0x32
	lastAIDLen      = offsetTxCounter - offsetLastAID // 14 bytes; a longer AID is rejected
	offsetTxCounter = 0x40
	offsetNextFree  = 0x48
	offsetLogBase   = 0x80
	maxUsable       = 0xFE0

	warmFlagValue = 0xAA
	coldFlagValue = 0x00
)

// Persisted wraps a Store with the fixed field layout §6 specifies.
type Persisted struct {
	store Store
}

// NewPersisted wraps store with the fixed log layout.
func NewPersisted(store Store) *Persisted {
	return &Persisted{store: store}
}

// WarmResetFlag reports whether the persisted flag says the last reset was
// warm (0xAA) as opposed to cold (0x00, or any other value).
func (p *Persisted) WarmResetFlag() (bool, error) {
	var b [1]byte
	if err := p.store.ReadAt(offsetWarmFlag, b[:]); err != nil {
		return false, err
	}
	return b[0] == warmFlagValue, nil
}

// SetWarmResetFlag persists which kind of reset is about to run.
func (p *Persisted) SetWarmResetFlag(warm bool) error {
	v := byte(coldFlagValue)
	if warm {
		v = warmFlagValue
	}
	return p.store.WriteAt(offsetWarmFlag, []byte{v})
}

// LastSelectedAID returns the stored application identifier, trimmed of
// trailing zero padding.
func (p *Persisted) LastSelectedAID() ([]byte, error) {
	buf := make([]byte, lastAIDLen)
	if err := p.store.ReadAt(offsetLastAID, buf); err != nil {
		return nil, err
	}
	n := len(buf)
	for n > 0 && buf[n-1] == 0 {
		n--
	}
	return buf[:n], nil
}

// SetLastSelectedAID persists the application identifier of the most
// recent SELECT, zero-padded to the field width.
func (p *Persisted) SetLastSelectedAID(aid []byte) error {
	if len(aid) > lastAIDLen {
		return fmt.Errorf("evtlog: AID too long (%d bytes, field holds %d)", len(aid), lastAIDLen)
	}
	buf := make([]byte, lastAIDLen)
	copy(buf, aid)
	return p.store.WriteAt(offsetLastAID, buf)
}

// TransactionCounter returns the persisted transaction counter.
func (p *Persisted) TransactionCounter() (uint32, error) {
	var b [4]byte
	if err := p.store.ReadAt(offsetTxCounter, b[:]); err != nil {
		return 0, err
	}
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3]), nil
}

// IncrementTransactionCounter persists counter+1 and returns the new value.
func (p *Persisted) IncrementTransactionCounter() (uint32, error) {
	n, err := p.TransactionCounter()
	if err != nil {
		return 0, err
	}
	n++
	b := []byte{byte(n >> 24), byte(n >> 16), byte(n >> 8), byte(n)}
	if err := p.store.WriteAt(offsetTxCounter, b); err != nil {
		return 0, err
	}
	return n, nil
}

// nextFreeOffset returns the persisted big-endian 16-bit "next free" log
// pointer, relative to offsetLogBase.
func (p *Persisted) nextFreeOffset() (int, error) {
	var b [2]byte
	if err := p.store.ReadAt(offsetNextFree, b[:]); err != nil {
		return 0, err
	}
	return int(b[0])<<8 | int(b[1]), nil
}

func (p *Persisted) setNextFreeOffset(v int) error {
	b := []byte{byte(v >> 8), byte(v)}
	return p.store.WriteAt(offsetNextFree, b)
}

// FlushResult reports what Flush actually did, so the caller can decide
// whether to log a truncation marker.
type FlushResult struct {
	Written   int
	Truncated bool
}

// Flush copies ram (a Logger's accumulated records) into the log region
// starting at the persisted continuation address, advancing that address
// by what it actually wrote. If the region fills, the remainder is
// silently discarded other than being reported in FlushResult.Truncated
// (§4.6 "if the store fills, remaining bytes are silently discarded").
func (p *Persisted) Flush(ram []byte) (FlushResult, error) {
	next, err := p.nextFreeOffset()
	if err != nil {
		return FlushResult{}, err
	}

	room := maxUsable - (offsetLogBase + next)
	if room < 0 {
		room = 0
	}

	toWrite := ram
	truncated := false
	if len(toWrite) > room {
		toWrite = toWrite[:room]
		truncated = true
	}

	if len(toWrite) > 0 {
		if err := p.store.WriteAt(offsetLogBase+next, toWrite); err != nil {
			return FlushResult{}, err
		}
		if err := p.setNextFreeOffset(next + len(toWrite)); err != nil {
			return FlushResult{}, err
		}
	}

	return FlushResult{Written: len(toWrite), Truncated: truncated}, nil
}

// Erase resets the next-free pointer to the start of the log region,
// logically discarding prior entries without rewriting them (AT+CEEE).
func (p *Persisted) Erase() error {
	return p.setNextFreeOffset(0)
}

// ReadLog returns everything currently persisted in the log region, for
// AT+CGEE to stream out as Intel HEX.
func (p *Persisted) ReadLog() ([]byte, error) {
	next, err := p.nextFreeOffset()
	if err != nil {
		return nil, err
	}
	buf := make([]byte, next)
	if next == 0 {
		return buf, nil
	}
	if err := p.store.ReadAt(offsetLogBase, buf); err != nil {
		return nil, err
	}
	return buf, nil
}
