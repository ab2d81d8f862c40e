// Package fleet manages boats, the ownership boundary for devices.
package fleet
