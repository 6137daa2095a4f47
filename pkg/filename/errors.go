package filename

// Error reports a filename that does not fit the naming grammar.
// Reason is the complete, human-readable message.
type Error struct {
	Filename string
	Reason   string
}

func (e *Error) Error() string {
	return e.Reason
}
