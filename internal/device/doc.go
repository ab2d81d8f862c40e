// Package device manages the registry of controller units and their
// relay channels.
//
// A device is identified by its serial on both transports. Channel state
// is written optimistically when a command is submitted and corrected by
// whatever the device reports afterwards; the device's report always
// wins.
package device
