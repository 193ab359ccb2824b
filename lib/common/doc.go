// Package common holds the pieces shared by the commands: the log format
// and the engine configuration.
package common
