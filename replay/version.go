package replay

// Version information for syncreplay.
const (
	// Version is the current version of the replay runtime.
	Version = "0.1.0"

	// VersionMajor is the major version number.
	VersionMajor = 0

	// VersionMinor is the minor version number.
	VersionMinor = 1

	// VersionPatch is the patch version number.
	VersionPatch = 0
)

// Info describes the running replay runtime.
type Info struct {
	// Version is the runtime version string.
	Version string

	// Mode is "off", "record" or "replay".
	Mode string

	// Recording is the recording id, empty before Init.
	Recording string
}

// GetInfo returns information about the replay runtime.
//
// Example:
//
//	info := replay.GetInfo()
//	fmt.Printf("syncreplay %s (%s)\n", info.Version, info.Mode)
func GetInfo() Info {
	return Info{
		Version:   Version,
		Mode:      Mode(),
		Recording: Recording(),
	}
}
