package main

import (
	"fmt"
	"os"
	"testing"
)

func TestMain(m *testing.M) {
	tempHome, err := os.MkdirTemp("", "geomirror-home-")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create temp home: %v\n", err)
		os.Exit(1)
	}

	_ = os.Setenv("HOME", tempHome)
	_ = os.Setenv("GEOMIRROR_HOME", tempHome)

	code := m.Run()
	_ = os.RemoveAll(tempHome)
	os.Exit(code)
}
