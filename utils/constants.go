package utils

import (
	"time"
)

// Service identity
const (
	AppName    = "metal-price-sync"
	AppVersion = "1.0.0"
)

// Run triggers recorded on every report
const (
	TriggerCLI       = "cli"
	TriggerScheduler = "scheduler"
	TriggerAPI       = "api"
)

// CORS and security constants
const (
	// CORSMaxAge is the maximum age for CORS preflight requests (24 hours)
	CORSMaxAge = 86400
)

// External call constants
const (
	// TroyOunceGrams converts a per-ounce spot price to per gram
	TroyOunceGrams = 31.1035

	// HealthPingTimeout bounds a single dependency health probe
	HealthPingTimeout = 5 * time.Second

	// SinkTimeout bounds delivery of one report sink
	SinkTimeout = 60 * time.Second
)

// PriceChangeTolerance is the smallest price difference worth writing
const PriceChangeTolerance = 0.01
