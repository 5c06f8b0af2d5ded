package service

import (
	"strings"

	"github.com/wenwu/saas-platform/pterodactyl-service/internal/client"
	"github.com/wenwu/saas-platform/pterodactyl-service/internal/models"
)

// Sentinel variable values recognized during environment resolution.
const (
	SentinelAutoPassword   = "AUTO_PASSWORD"
	SentinelRandomString   = "RANDOM_STRING"
	SentinelGenerateRandom = "GENERATE_RANDOM"
	SentinelAutoPort       = "AUTO_PORT"
)

// Fallback literals for well-known variables whose schema default is empty.
var wellKnownDefaults = map[string]string{
	"SERVER_JARFILE":  "server.jar",
	"VANILLA_VERSION": "latest",
	"MC_VERSION":      "latest",
	"VERSION":         "latest",
	"FORGE_VERSION":   "recommended",
	"BUILD_NUMBER":    "latest",
}

// Environment is a resolved variable set. WantsAutoPort is set when any
// variable carries the AUTO_PORT sentinel; whether the orchestrator acts
// on it is governed by the order's auto_port flag.
type Environment struct {
	Variables     map[string]string
	WantsAutoPort bool
}

// BuildEnvironment merges the egg's variable schema with the placement
// request. Per schema variable, the first source wins: explicit override
// in the variables map, top-level config key (exact then lowercased),
// schema default, well-known literal. A second pass replaces random-value
// sentinels with fresh 16-byte hex strings.
func BuildEnvironment(schema []client.EggVariable, req models.PlacementRequest) Environment {
	env := make(map[string]string, len(schema)+len(req.Variables))
	for key, value := range req.Variables {
		env[key] = value
	}

	for _, variable := range schema {
		key := variable.EnvVariable
		if _, ok := env[key]; ok {
			continue
		}

		if v, ok := req.Config[key]; ok && v != nil {
			env[key] = models.ValueToString(v)
			continue
		}
		if v, ok := req.Config[strings.ToLower(key)]; ok && v != nil {
			env[key] = models.ValueToString(v)
			continue
		}

		value := variable.DefaultValue
		if value == "" {
			value = wellKnownDefaults[key]
		}
		env[key] = value
	}

	result := Environment{Variables: env}
	for key, value := range env {
		switch value {
		case SentinelAutoPassword, SentinelRandomString, SentinelGenerateRandom:
			env[key] = RandomHex(16)
		case SentinelAutoPort:
			result.WantsAutoPort = true
		}
	}

	return result
}

// ApplyPort rewrites every AUTO_PORT variable with the allocated port.
func (e *Environment) ApplyPort(port int) {
	for key, value := range e.Variables {
		if value == SentinelAutoPort {
			e.Variables[key] = models.ValueToString(port)
		}
	}
}
