package cppvm

// Version information for the C++ memory model virtual machine.
const (
	// Version is the current version of the virtual machine.
	Version = "0.1.0"

	// VersionMajor is the major version number.
	VersionMajor = 0

	// VersionMinor is the minor version number.
	VersionMinor = 1

	// VersionPatch is the patch version number.
	VersionPatch = 0
)

// Info provides information about the virtual machine build.
type Info struct {
	// Version is the version string.
	Version string

	// Model is the memory model that is simulated.
	Model string

	// Algorithm is the race detection algorithm used.
	Algorithm string
}

// GetInfo returns information about the virtual machine.
//
// Example:
//
//	info := cppvm.GetInfo()
//	fmt.Printf("cppvm %s (%s)\n", info.Version, info.Algorithm)
func GetInfo() Info {
	return Info{
		Version:   Version,
		Model:     "C++11 release/acquire fences",
		Algorithm: "versioned store buffers",
	}
}
