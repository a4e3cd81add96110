package config_test

import (
	"fmt"

	"github.com/luaidle/luaidle/internal/config"
)

// Example of creating a default configuration
func ExampleDefault() {
	cfg := config.Default()
	fmt.Println("Script:", cfg.Script.Path)
	fmt.Println("Lock:", cfg.Lock.Command)
	fmt.Println("Lock program:", cfg.LockProgram())
	// Output:
	// Script: idle_config.lua
	// Lock: swaylock -f
	// Lock program: swaylock
}

// Example of validating configuration
func ExampleConfig_Validate() {
	cfg := config.Default()

	if err := cfg.Validate(); err != nil {
		fmt.Println("Invalid config:", err)
	} else {
		fmt.Println("Configuration is valid")
	}

	cfg.Lock.Command = "   "
	if err := cfg.Validate(); err != nil {
		fmt.Println("Error:", err)
	}

	// Output:
	// Configuration is valid
	// Error: lock command cannot be empty
}
