// Package auth connects the vault session to the local authentication challenge.
//
// The challenge itself (biometric prompt, PIN pad, terminal prompt) is a
// Launcher; only its yes/no outcome is consumed. Guard opens the session
// window on success and locks it on anything else.
package auth

// Launcher runs an authentication challenge and reports its outcome exactly once.
// onResult may be called on another goroutine.
type Launcher interface {
	Launch(onResult func(ok bool))
}

// LauncherFunc adapts a function to Launcher.
type LauncherFunc func(onResult func(ok bool))

// Launch calls f(onResult).
func (f LauncherFunc) Launch(onResult func(ok bool)) { f(onResult) }

// AlwaysAllow succeeds without a challenge. Development and tests only.
var AlwaysAllow Launcher = LauncherFunc(func(onResult func(bool)) { onResult(true) })

// AlwaysDeny fails without a challenge.
var AlwaysDeny Launcher = LauncherFunc(func(onResult func(bool)) { onResult(false) })
