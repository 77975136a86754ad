package config

import (
	"fmt"
)

type CacheKeyStruct struct{}

func NewCacheKeyStruct() *CacheKeyStruct {
	return &CacheKeyStruct{}
}

// SessionAnswersKey returns the cache key holding a session's answer snapshot.
func (r *CacheKeyStruct) SessionAnswersKey(sessionID string) string {
	return fmt.Sprintf("session:%s:answers", sessionID)
}

// SessionStatusKey returns the cache key holding a session's last known status.
func (r *CacheKeyStruct) SessionStatusKey(sessionID string) string {
	return fmt.Sprintf("session:%s:status", sessionID)
}

var CacheKey = NewCacheKeyStruct()

type WorkerKeyStruct struct {
	ProctorEventsQueue string
}

var WorkerKey = &WorkerKeyStruct{
	ProctorEventsQueue: "proctor_events_queue",
}
