// Package config handles YAML configuration loading with environment variable substitution.
//
// Configuration files support ${VAR} syntax for environment variable interpolation.
// Keys that match no field are rejected.
// See configs/node.example.yaml for a complete file.
package config
