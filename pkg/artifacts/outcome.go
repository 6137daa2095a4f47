package artifacts

// RenameOutcome is the result of RenameSubmission. Filename is always the
// name the caller should persist.
type RenameOutcome struct {
	filename string
	renamed  bool
}

// Renamed reports a successful rename to name.
func Renamed(name string) RenameOutcome {
	return RenameOutcome{filename: name, renamed: true}
}

// Unchanged reports that name was left as is.
func Unchanged(name string) RenameOutcome {
	return RenameOutcome{filename: name}
}

// Filename returns the artifact's current filename.
func (o RenameOutcome) Filename() string { return o.filename }

// Renamed reports whether the file was moved.
func (o RenameOutcome) Renamed() bool { return o.renamed }

func (o RenameOutcome) String() string {
	if o.renamed {
		return "renamed to " + o.filename
	}
	return "unchanged " + o.filename
}
