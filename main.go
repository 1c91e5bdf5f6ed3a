// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad
//
// Lorastat - LoRaWAN end-device session controller
//
// A CLI tool that runs the session of a single LoRaWAN end-device on an AT
// modem, or against a simulated network, and reports every outcome in
// human-readable format.

package main

import (
	"os"

	"github.com/Thermoquad/lorastat/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
