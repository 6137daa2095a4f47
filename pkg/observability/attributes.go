package observability

import (
	"go.opentelemetry.io/otel/attribute"
)

// Store-specific attribute keys. Source identifiers and filenames are never
// attached to telemetry.
var (
	AttrOperation      = attribute.Key("sdstore.operation")
	AttrOutcome        = attribute.Key("sdstore.outcome")
	AttrArtifactKind   = attribute.Key("sdstore.artifact.kind")
	AttrArchiveEntries = attribute.Key("sdstore.archive.entries")
	AttrArchiveBytes   = attribute.Key("sdstore.archive.bytes")
	AttrPublisher      = attribute.Key("sdstore.archive.publisher")
)

// RenameOutcome returns attributes describing the result of a rename.
func RenameOutcome(renamed bool, kind string) []attribute.KeyValue {
	outcome := "unchanged"
	if renamed {
		outcome = "renamed"
	}
	return []attribute.KeyValue{
		AttrOutcome.String(outcome),
		AttrArtifactKind.String(kind),
	}
}

// ArchiveBuilt returns attributes describing a finished bulk archive.
func ArchiveBuilt(entries int, size int64) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrArchiveEntries.Int(entries),
		AttrArchiveBytes.Int64(size),
	}
}
