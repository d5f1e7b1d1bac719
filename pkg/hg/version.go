package hg

// Engine version.
const (
	VersionMajor = 1
	VersionMinor = 0
	VersionPatch = 0
)

// VersionGet returns the engine version triple.
func VersionGet() (major, minor, patch int) {
	return VersionMajor, VersionMinor, VersionPatch
}
