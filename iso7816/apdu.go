package iso7816

// Case is the T=0 command shape (§4.4 "command case"), derived from
// (CLA, INS) via a fixed table. Case 0 covers every pair the table does not
// name; the bridge forwards those transparently, with no case-based
// shortcuts.
type Case int

const (
	Case0 Case = iota // unrecognised CLA/INS
	Case1             // no command data, no response data
	Case2             // no command data, response data expected
	Case3             // command data, no response data expected
	Case4             // command data and response data expected
)

// Header is the fixed 5-byte T=0 command header (§3 "Command header").
type Header struct {
	CLA, INS, P1, P2, P3 byte
}

// CommandAPDU is a full T=0 command: header plus optional data, present iff
// CaseOf(header) is Case3 or Case4 (§3 "Command APDU").
type CommandAPDU struct {
	Header Header
	Data   []byte
}

// ResponseAPDU is a full T=0 response: optional data plus the final status
// word, data present iff the case was Case2 or Case4 and the transaction
// produced data (§3 "Response APDU").
type ResponseAPDU struct {
	Data     []byte
	SW1, SW2 byte
}

// SW returns the two-byte status word as a single uint16, the conventional
// form used for comparisons like sw == 0x9000.
func (r ResponseAPDU) SW() uint16 {
	return uint16(r.SW1)<<8 | uint16(r.SW2)
}

// caseEntry is one row of the §4.4 case table. CLA is matched against the
// command's CLA with claMask applied first, so that table rows like
// "8C/84" (either CLA value) and the exact-match rows (mask 0xFF) can share
// one representation.
type caseEntry struct {
	claMask, cla byte
	ins          byte
	c            Case
}

var caseTable = []caseEntry{
	{claMask: 0xFF, cla: 0x00, ins: 0xC0, c: Case2}, // GET RESPONSE
	{claMask: 0xFF, cla: 0x00, ins: 0xB2, c: Case2}, // READ RECORD
	{claMask: 0xFF, cla: 0x00, ins: 0xA4, c: Case4}, // SELECT
	{claMask: 0xFF, cla: 0x00, ins: 0x82, c: Case3}, // EXTERNAL AUTH
	{claMask: 0xFF, cla: 0x00, ins: 0x84, c: Case2}, // GET CHALLENGE
	{claMask: 0xFF, cla: 0x00, ins: 0x88, c: Case4}, // INTERNAL AUTH
	{claMask: 0xFF, cla: 0x00, ins: 0x20, c: Case3}, // VERIFY
	{claMask: 0xF7, cla: 0x84, ins: 0x1E, c: Case3}, // APP BLOCK (CLA 8C or 84)
	{claMask: 0xF7, cla: 0x84, ins: 0x18, c: Case3}, // APP UNBLOCK
	{claMask: 0xF7, cla: 0x84, ins: 0x16, c: Case3}, // CARD BLOCK
	{claMask: 0xF7, cla: 0x84, ins: 0x24, c: Case3}, // PIN CHANGE/UNBLOCK
	{claMask: 0xFF, cla: 0x80, ins: 0xAE, c: Case4}, // GENERATE AC
	{claMask: 0xFF, cla: 0x80, ins: 0xCA, c: Case2}, // GET DATA
	{claMask: 0xFF, cla: 0x80, ins: 0xA8, c: Case4}, // GET PROC OPTS
}

// CaseOf derives the command case of a header via the §4.4 table. Pairs the
// table does not name yield Case0.
func CaseOf(h Header) Case {
	for _, e := range caseTable {
		if h.CLA&e.claMask == e.cla && h.INS == e.ins {
			return e.c
		}
	}
	return Case0
}

// Serialize encodes a CommandAPDU as header followed by data, per §8's
// `serialize(APDU(cmd)) == header(5) ++ data(n)` invariant.
func (c CommandAPDU) Serialize() []byte {
	out := make([]byte, 0, 5+len(c.Data))
	out = append(out, c.Header.CLA, c.Header.INS, c.Header.P1, c.Header.P2, c.Header.P3)
	out = append(out, c.Data...)
	return out
}
