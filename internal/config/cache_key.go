package config

import (
	"fmt"
)

type CacheKeyStruct struct{}

// CacheKey builds the Redis keys shared between services, handlers and workers.
var CacheKey = &CacheKeyStruct{}

// ProctorSessionKey returns the cache key for a proctor's login session.
func (r *CacheKeyStruct) ProctorSessionKey(proctorID int) string {
	return fmt.Sprintf("login:proctor:%d", proctorID)
}

// AssessmentPayloadKey returns the cache key for an assessment's assembled payload.
func (r *CacheKeyStruct) AssessmentPayloadKey(assessmentID string) string {
	return fmt.Sprintf("assessment:%s:payload", assessmentID)
}

// AssessmentAnswerKey returns the cache key for an assessment's answer key.
func (r *CacheKeyStruct) AssessmentAnswerKey(assessmentID string) string {
	return fmt.Sprintf("assessment:%s:key", assessmentID)
}

// SessionRiskKey returns the cache key mirroring a live session's risk state.
func (r *CacheKeyStruct) SessionRiskKey(sessionID string) string {
	return fmt.Sprintf("session:%s:risk", sessionID)
}

// AssessmentMonitorChannel returns the pub/sub channel for live proctor monitoring.
func (r *CacheKeyStruct) AssessmentMonitorChannel(assessmentID string) string {
	return fmt.Sprintf("monitor:assessment:%s", assessmentID)
}

// SubjectNotifyChannel returns the pub/sub channel for subject-facing notices.
func (r *CacheKeyStruct) SubjectNotifyChannel(subjectID int) string {
	return fmt.Sprintf("notify:subject:%d", subjectID)
}
