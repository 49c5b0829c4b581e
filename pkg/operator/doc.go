// Package operator drives GUI targets. A Device parses the actions a model
// emits, resolves their boxes from the virtual coordinate space onto the
// screen and replays them on a Backend: a local X11 desktop, an Android
// device over adb, a remote cloud sandbox or a rod-controlled browser.
package operator
