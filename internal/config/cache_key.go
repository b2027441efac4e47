package config

import (
	"fmt"
)

type CacheKeyStruct struct{}

func NewCacheKeyStruct() *CacheKeyStruct {
	return &CacheKeyStruct{}
}

// TestCatalogKey returns the cache key for a test's section catalog
func (r *CacheKeyStruct) TestCatalogKey(testID string) string {
	return fmt.Sprintf("test:%s:catalog", testID)
}

// SectionAnswersKey returns the cache key for the autosaved answers of one section of a session
func (r *CacheKeyStruct) SectionAnswersKey(sessionID string, sectionIndex int) string {
	return fmt.Sprintf("session:%s:section:%d:answers", sessionID, sectionIndex)
}

// TestMonitorChannel returns the Redis PubSub channel name for a test's session events
func (r *CacheKeyStruct) TestMonitorChannel(testID string) string {
	return fmt.Sprintf("test:%s:monitor", testID)
}

var CacheKey = NewCacheKeyStruct()
