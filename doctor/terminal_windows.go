//go:build windows

package doctor

// Console mode is restored by the device picker itself on Windows.
func resetTerminal() {}
