package media

import (
	"fmt"
	"strings"
)

// expected: {prefix}/room/{room}/participant/{participantId}/state
func ParseParticipantID(topic, prefix string) (string, error) {
	parts, err := splitAfterPrefix(topic, prefix)
	if err != nil {
		return "", err
	}
	if len(parts) != 5 || parts[0] != "room" || parts[2] != "participant" || parts[4] != "state" {
		return "", fmt.Errorf("invalid participant topic: %s", topic)
	}
	return parts[3], nil
}

// expected: {prefix}/room/{room}/track/{participantId}/{kind}
func ParseTrackTopic(topic, prefix string) (participantID, kind string, err error) {
	parts, err := splitAfterPrefix(topic, prefix)
	if err != nil {
		return "", "", err
	}
	if len(parts) != 5 || parts[0] != "room" || parts[2] != "track" {
		return "", "", fmt.Errorf("invalid track topic: %s", topic)
	}
	return parts[3], parts[4], nil
}

func splitAfterPrefix(topic, prefix string) ([]string, error) {
	parts := strings.Split(topic, "/")
	prefixParts := strings.Split(prefix, "/")
	if len(parts) <= len(prefixParts) {
		return nil, fmt.Errorf("invalid topic: %s", topic)
	}
	for i, p := range prefixParts {
		if parts[i] != p {
			return nil, fmt.Errorf("topic prefix mismatch: %s", topic)
		}
	}
	return parts[len(prefixParts):], nil
}
