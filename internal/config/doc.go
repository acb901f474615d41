// Package config provides environment-based configuration.
//
// Loads from the process environment (a .env file is applied by main via
// godotenv before Load runs), fills defaults, and validates required fields
// and cross-field constraints.
package config
