// Package ui declares the external collaborator contracts for the
// character display and buttons (§6 "Display + buttons (external
// collaborator)"). Both are explicitly out of scope (§1): this package
// holds only the interfaces the bridge calls against, never an
// implementation.
package ui

// Button identifies one of the four physical buttons the bridge reads
// during an approval wait (§4.5 "M2 Filter-GenerateAC").
type Button int

const (
	ButtonA Button = iota
	ButtonB
	ButtonC
	ButtonD
)

// Buttons is polled by the bridge while it waits for a user decision; it
// never blocks itself (the bridge supplies the wait loop and the 0x60
// heartbeat, §5 "Blocking caveat").
type Buttons interface {
	// ButtonState returns the set of buttons currently pressed.
	ButtonState() []Button
}

// Display is written to by the bridge to present information (amount,
// approval prompt) to the user.
type Display interface {
	// Show replaces the current display contents with line.
	Show(line string)

	// Available reports whether a physical display is attached; when it is
	// not, the bridge skips Show and waits on the buttons alone.
	Available() bool
}
