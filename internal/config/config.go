package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type ServerConfig struct {
	HTTPAddr           string
	MQTTBrokerURL      string
	MQTTClientID       string
	MQTTUsername       string
	MQTTPassword       string
	MQTTTopicPrefix    string
	RecognizerWSURL    string
	QuestionAPIBaseURL string
	AnswerAPIBaseURL   string
	ServiceTimeout     time.Duration
	AvatarNamePrefix   string
	GreetingText       string
	GreetingGap        time.Duration
	SpeakFloor         time.Duration
	SpeakPerChar       time.Duration
	FinalizeSettle     time.Duration
	IdleTimeout        time.Duration
	TimerModes         map[string]int
}

type AvatarSimConfig struct {
	ParticipantID     string
	Room              string
	MQTTBrokerURL     string
	MQTTClientID      string
	MQTTUsername      string
	MQTTPassword      string
	MQTTTopicPrefix   string
	HeartbeatInterval time.Duration
}

func LoadServerConfig() (ServerConfig, error) {
	cfg := ServerConfig{
		HTTPAddr:           getenvDefault("GREENROOM_HTTP_ADDR", ":9020"),
		MQTTBrokerURL:      getenvDefault("MQTT_BROKER_URL", "tcp://localhost:1883"),
		MQTTClientID:       getenvDefault("GREENROOM_MQTT_CLIENT_ID", "greenroom-server"),
		MQTTUsername:       os.Getenv("MQTT_USERNAME"),
		MQTTPassword:       os.Getenv("MQTT_PASSWORD"),
		MQTTTopicPrefix:    getenvDefault("MQTT_TOPIC_PREFIX", "greenroom"),
		RecognizerWSURL:    os.Getenv("RECOGNIZER_WS_URL"),
		QuestionAPIBaseURL: os.Getenv("QUESTION_API_BASE_URL"),
		AnswerAPIBaseURL:   os.Getenv("ANSWER_API_BASE_URL"),
		ServiceTimeout:     time.Duration(getenvIntDefault("SERVICE_TIMEOUT_SECONDS", 15)) * time.Second,
		AvatarNamePrefix:   getenvDefault("AVATAR_NAME_PREFIX", "interviewer-"),
		GreetingText:       getenvDefault("GREETING_TEXT", "Hello, welcome to your practice interview. Let's get started."),
		GreetingGap:        time.Duration(getenvIntDefault("GREETING_GAP_MS", 1500)) * time.Millisecond,
		SpeakFloor:         time.Duration(getenvIntDefault("SPEAK_FLOOR_MS", 3000)) * time.Millisecond,
		SpeakPerChar:       time.Duration(getenvIntDefault("SPEAK_PER_CHAR_MS", 60)) * time.Millisecond,
		FinalizeSettle:     time.Duration(getenvIntDefault("FINALIZE_SETTLE_MS", 400)) * time.Millisecond,
		IdleTimeout:        time.Duration(getenvIntDefault("IDLE_TIMEOUT_SECONDS", 300)) * time.Second,
		TimerModes:         defaultTimerModes(),
	}

	if cfg.QuestionAPIBaseURL == "" {
		return ServerConfig{}, fmt.Errorf("QUESTION_API_BASE_URL is required")
	}
	if cfg.AnswerAPIBaseURL == "" {
		return ServerConfig{}, fmt.Errorf("ANSWER_API_BASE_URL is required")
	}
	cfg.QuestionAPIBaseURL = strings.TrimRight(cfg.QuestionAPIBaseURL, "/")
	cfg.AnswerAPIBaseURL = strings.TrimRight(cfg.AnswerAPIBaseURL, "/")

	return cfg, nil
}

func LoadAvatarSimConfig() AvatarSimConfig {
	return AvatarSimConfig{
		ParticipantID:     getenvDefault("AVATAR_PARTICIPANT_ID", "interviewer-sim-01"),
		Room:              getenvDefault("AVATAR_ROOM", "practice-room"),
		MQTTBrokerURL:     getenvDefault("MQTT_BROKER_URL", "tcp://localhost:1883"),
		MQTTClientID:      getenvDefault("AVATAR_MQTT_CLIENT_ID", "avatar-sim"),
		MQTTUsername:      os.Getenv("MQTT_USERNAME"),
		MQTTPassword:      os.Getenv("MQTT_PASSWORD"),
		MQTTTopicPrefix:   getenvDefault("MQTT_TOPIC_PREFIX", "greenroom"),
		HeartbeatInterval: time.Duration(getenvIntDefault("AVATAR_HEARTBEAT_INTERVAL_SECONDS", 10)) * time.Second,
	}
}

// Bounded-mode lookup; zero seconds means unbounded.
func defaultTimerModes() map[string]int {
	return map[string]int{
		"3min":      180,
		"5min":      300,
		"10min":     600,
		"unbounded": 0,
	}
}

func getenvDefault(key, val string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return val
}

func getenvIntDefault(key string, val int) int {
	v := os.Getenv(key)
	if v == "" {
		return val
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return val
	}
	return n
}
