package main

import "time"

// Flag structs decouple cobra from the command logic for testing.

type AskFlags struct {
	File string // questionnaire file, JSON or YAML; "-" reads stdin
	TTL  time.Duration
}

type SpawnFlags struct {
	Workload  string
	Input     string // inline JSON
	InputFile string
	TTL       time.Duration
}

type ServeFlags struct {
	Listen   string
	BasePath string
}

type PruneFlags struct {
	MaxAge time.Duration
}
