package config

import (
	"fmt"
)

type CacheKeyStruct struct{}

func NewCacheKeyStruct() *CacheKeyStruct {
	return &CacheKeyStruct{}
}

// AttemptLockKey returns the key guarding a student's single live attempt on a paper.
func (r *CacheKeyStruct) AttemptLockKey(paperID string, studentID int) string {
	return fmt.Sprintf("student:%d:paper:%s:attempt_lock", studentID, paperID)
}

var CacheKey = NewCacheKeyStruct()
