package main

import "time"

// Flag structs decouple cobra from the handlers so tests can drive them
// directly.

// GlobalFlags holds persistent flags shared by every command.
type GlobalFlags struct {
	ConfigPath string
	APIURL     string
	APITimeout time.Duration
}

type StartFlags struct {
	Validate bool
}

type HealthFlags struct {
	Force bool
}

type DiscoverFlags struct {
	Force bool
}

// ServeFlags configures the daemon run itself rather than a call to it.
type ServeFlags struct {
	ConfigPath string
	Daemonize  bool
	PidFile    string
	LogFile    string
	Connect    bool
}

type TemplateCreateFlags struct {
	Type   string
	Name   string
	Output string
	Force  bool
}
