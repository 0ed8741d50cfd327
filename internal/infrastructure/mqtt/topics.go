package mqtt

import (
	"fmt"
	"strings"
)

// Topic prefixes for the Gray Logic hub.
//
// Bridge topics use the flat scheme: graylogic/{category}/{protocol}/{address}.
const (
	// TopicPrefix is the root of every Gray Logic topic.
	TopicPrefix = "graylogic"

	// TopicPrefixProgram is the base for automation program topics.
	TopicPrefixProgram = "graylogic/program"

	// TopicPrefixSystem is the base for system topics.
	TopicPrefixSystem = "graylogic/system"
)

// Topics provides builders for Gray Logic MQTT topics.
//
//	topics := mqtt.Topics{}
//	stateTopic := topics.BridgeState("knx", "light-living-main")
//	// Returns: "graylogic/state/knx/light-living-main"
type Topics struct{}

// BridgeState returns the topic for device state updates from a bridge.
//
// Example: graylogic/state/knx/light-living-main
func (Topics) BridgeState(protocol, address string) string {
	return fmt.Sprintf("%s/state/%s/%s", TopicPrefix, protocol, address)
}

// BridgeCommand returns the topic for commands to a bridge.
//
// Example: graylogic/command/knx/light-living-main
func (Topics) BridgeCommand(protocol, address string) string {
	return fmt.Sprintf("%s/command/%s/%s", TopicPrefix, protocol, address)
}

// ProgramRun returns the topic that triggers a program run. The payload is
// passed to Run as its options string.
//
// Example: graylogic/program/7c1e.../run
func (Topics) ProgramRun(programID string) string {
	return fmt.Sprintf("%s/%s/run", TopicPrefixProgram, programID)
}

// ProgramResult returns the topic a program's run outcomes are published on.
//
// Example: graylogic/program/7c1e.../result
func (Topics) ProgramResult(programID string) string {
	return fmt.Sprintf("%s/%s/result", TopicPrefixProgram, programID)
}

// SystemStatus returns the hub presence topic (online/offline, LWT).
//
// Example: graylogic/system/status
func (Topics) SystemStatus() string {
	return fmt.Sprintf("%s/status", TopicPrefixSystem)
}

// AllBridgeStates returns a pattern matching all bridge state updates.
//
// Pattern: graylogic/state/+/+
func (Topics) AllBridgeStates() string {
	return fmt.Sprintf("%s/state/+/+", TopicPrefix)
}

// AllProgramRuns returns a pattern matching every program run trigger.
//
// Pattern: graylogic/program/+/run
func (Topics) AllProgramRuns() string {
	return fmt.Sprintf("%s/+/run", TopicPrefixProgram)
}

// ParseBridgeState splits a bridge state topic into protocol and address.
func (Topics) ParseBridgeState(topic string) (protocol, address string, ok bool) {
	rest, found := strings.CutPrefix(topic, TopicPrefix+"/state/")
	if !found {
		return "", "", false
	}
	parts := strings.Split(rest, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", false
	}
	return parts[0], parts[1], true
}

// ParseProgramRun extracts the program ID from a run trigger topic.
func (Topics) ParseProgramRun(topic string) (programID string, ok bool) {
	rest, found := strings.CutPrefix(topic, TopicPrefixProgram+"/")
	if !found {
		return "", false
	}
	id, found := strings.CutSuffix(rest, "/run")
	if !found || id == "" || strings.Contains(id, "/") {
		return "", false
	}
	return id, true
}
