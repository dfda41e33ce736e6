package store

import "fmt"

// WriterRef returns the ref name for a writer's tip commit.
func WriterRef(graph, writerID string) string {
	return fmt.Sprintf("refs/warp/%s/writers/%s", graph, writerID)
}

// CheckpointRef returns the ref name for a graph's checkpoint head.
func CheckpointRef(graph string) string {
	return fmt.Sprintf("refs/warp/%s/checkpoint", graph)
}

// CoverageRef returns the ref name for a graph's coverage anchor (an
// octopus merge of every observed writer tip).
func CoverageRef(graph string) string {
	return fmt.Sprintf("refs/warp/%s/coverage", graph)
}

// MessageKind enumerates the three kinds of commit message this module
// writes.
type MessageKind string

const (
	MessageKindPatch      MessageKind = "patch"
	MessageKindAnchor     MessageKind = "anchor"
	MessageKindCheckpoint MessageKind = "checkpoint"
)

// SchemaVersion is the current on-disk generation. A writer chain whose
// history predates this without a migration checkpoint fails Open.
const SchemaVersion = 1
