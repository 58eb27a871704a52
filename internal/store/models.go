package store

import "time"

// FetchRecord tracks an installed tool dependency
type FetchRecord struct {
	ID        int64
	Path      string // relative to the local repository
	SHA256    string
	Size      int64
	Source    string // "present", "mirror", "network"
	FetchedAt time.Time
}

// ArtifactRecord tracks a compiled script in the cache
type ArtifactRecord struct {
	ID             int64
	Fingerprint    string
	ScriptPath     string
	RuntimeVersion string // empty for the runtime independent artifact
	ArtifactPath   string
	CompiledAt     time.Time
	LastUsedAt     time.Time
}

// Launch stages, in the order a launch passes them.
const (
	StageCached  = "cached"
	StageFetch   = "fetch"
	StageCompile = "compile"
	StageExecute = "execute"
)

// LaunchRun records one launcher invocation
type LaunchRun struct {
	ID           int64
	LaunchID     string
	Script       string
	Stage        string // last stage reached
	ExitCode     int
	ErrorMessage string
	StartTime    time.Time
	EndTime      time.Time
}

// RuntimeRecord caches the version a java binary reported. Size and
// ModTime identify the binary the version was detected from; ModTime is
// kept with nanosecond precision.
type RuntimeRecord struct {
	ID         int64
	JavaPath   string
	Size       int64
	ModTime    time.Time
	Version    string
	DetectedAt time.Time
}
