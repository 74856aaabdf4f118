package media

import "fmt"

func TopicRoomParticipants(prefix, room string) string {
	return fmt.Sprintf("%s/room/%s/participant/+/state", prefix, room)
}

func TopicRoomTracks(prefix, room string) string {
	return fmt.Sprintf("%s/room/%s/track/+/+", prefix, room)
}

func TopicParticipantState(prefix, room, participantID string) string {
	return fmt.Sprintf("%s/room/%s/participant/%s/state", prefix, room, participantID)
}

func TopicTrack(prefix, room, participantID, kind string) string {
	return fmt.Sprintf("%s/room/%s/track/%s/%s", prefix, room, participantID, kind)
}

func TopicAppMessage(prefix, room, participantID string) string {
	return fmt.Sprintf("%s/room/%s/app/%s", prefix, room, participantID)
}

func TopicSubscribe(prefix, room string) string {
	return fmt.Sprintf("%s/room/%s/subscribe", prefix, room)
}

func TopicLocalMic(prefix, room string) string {
	return fmt.Sprintf("%s/room/%s/mic", prefix, room)
}

func TopicControl(prefix, room string) string {
	return fmt.Sprintf("%s/room/%s/control", prefix, room)
}
