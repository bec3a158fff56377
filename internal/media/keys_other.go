//go:build !linux

package media

// Media key codes are only mapped for the Linux uinput backend.
var keyCodes = map[string]int{}
